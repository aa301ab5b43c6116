package bot

import (
	"log"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	activeBans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moderation_active_temporary_bans",
		Help: "Temporary bans waiting to expire",
	})
	activeMutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moderation_active_mutes",
		Help: "Mutes and gags currently in effect",
	})
)

// status is a snapshot of the process and of the active sanctions.
type status struct {
	Guilds      int
	Bans        int
	Mutes       int
	Goroutines  int
	MemUsed     uint64
	MemPercent  float64
	HostUptime  time.Duration
	GatewayPing time.Duration
}

func (s *Scheduler) collectStatus() status {
	st := status{Goroutines: runtime.NumGoroutine()}

	st.Guilds = len(s.services.Ledger.Guilds())
	st.Bans, st.Mutes = s.services.Sanctions.Counts()

	if vm, err := mem.VirtualMemory(); err == nil {
		st.MemUsed = vm.Used
		st.MemPercent = vm.UsedPercent
	}
	if uptime, err := host.Uptime(); err == nil {
		st.HostUptime = time.Duration(uptime) * time.Second
	}
	if s.session != nil {
		st.GatewayPing = s.session.HeartbeatLatency()
	}
	return st
}

func (s *Scheduler) reportStatus() {
	st := s.collectStatus()
	activeBans.Set(float64(st.Bans))
	activeMutes.Set(float64(st.Mutes))
	log.Printf("[Status] guilds=%d temp_bans=%d mutes=%d goroutines=%d mem=%dMB (%.1f%%) host_uptime=%s ping=%s",
		st.Guilds, st.Bans, st.Mutes, st.Goroutines, st.MemUsed/1024/1024, st.MemPercent, st.HostUptime, st.GatewayPing)
}
