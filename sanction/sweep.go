package sanction

import (
	"context"
	"discord-moderation/model"
	"log"
)

// SweepBans lifts every temporary ban that has expired and returns how many were lifted.
func (s *Service) SweepBans(ctx context.Context) int {
	return sweep(ctx, s, "ban", s.banSnapshot(),
		func(b model.ActiveBan) bool { return b.Expired(s.now()) },
		s.expireBan)
}

// SweepMutes lifts every mute and gag that has expired and returns how many were lifted.
func (s *Service) SweepMutes(ctx context.Context) int {
	return sweep(ctx, s, "mute", s.muteSnapshot(),
		func(m model.ActiveMute) bool { return m.Expired(s.now()) },
		s.expireMute)
}

// sweep works through a snapshot one record at a time, pacing platform calls. A record
// that fails stays active and is picked up again by the next sweep.
func sweep[T any](ctx context.Context, s *Service, kind string, snapshot []T, expired func(T) bool, expire func(context.Context, T) (bool, error)) int {
	lifted := 0
	for _, rec := range snapshot {
		if !expired(rec) {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			log.Printf("[Sanction] %s sweep interrupted: %v", kind, err)
			break
		}
		ok, err := expire(ctx, rec)
		if err != nil {
			sweepFailures.WithLabelValues(kind).Inc()
			log.Printf("[Sanction] Failed to lift expired %s: %v", kind, err)
		}
		if ok {
			lifted++
		}
	}
	if lifted > 0 {
		log.Printf("[Sanction] Lifted %d expired %s(s)", lifted, kind)
	}
	return lifted
}
