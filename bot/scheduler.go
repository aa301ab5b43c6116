package bot

import (
	"context"
	"discord-moderation/config"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Scheduler runs the periodic sweeps. Each job runs in its own goroutine, so a job never
// overlaps with itself.
type Scheduler struct {
	services Services
	session  *discordgo.Session
	cfg      config.SweepConfig

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewScheduler(services Services, session *discordgo.Session, cfg config.SweepConfig) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		services: services,
		session:  session,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start begins all scheduled jobs.
func (s *Scheduler) Start() {
	s.wg.Add(4)
	go s.every("ban sweep", s.cfg.BanInterval, func(ctx context.Context) {
		s.services.Sanctions.SweepBans(ctx)
	})
	go s.every("mute sweep", s.cfg.MuteInterval, func(ctx context.Context) {
		s.services.Sanctions.SweepMutes(ctx)
	})
	go s.every("cooldown sweep", s.cfg.CooldownInterval, func(ctx context.Context) {
		if n := s.services.Detector.Sweep(); n > 0 {
			log.Printf("[Scheduler] Dropped %d cooled-down infractions", n)
		}
	})
	go s.every("status report", s.cfg.StatusInterval, func(ctx context.Context) {
		s.reportStatus()
	})
}

// Stop terminates all scheduled jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		log.Println("Stopping scheduler...")
		close(s.done)
		s.cancel()
		s.wg.Wait()
		log.Println("Scheduler stopped.")
	})
}

func (s *Scheduler) every(name string, interval time.Duration, job func(ctx context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			job(s.ctx)
		case <-s.done:
			log.Printf("[Scheduler] %s stopped", name)
			return
		}
	}
}
