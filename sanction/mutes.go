package sanction

import (
	"context"
	"discord-moderation/ledger"
	"discord-moderation/model"
	"discord-moderation/utils/database/infractions"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"
)

// Mute mutes the user until a moderator lifts it.
func (s *Service) Mute(ctx context.Context, req Request) (*model.Infraction, error) {
	inf, err := s.issue(ctx, model.Mute, req)
	if inf == nil {
		return nil, err
	}
	if rerr := s.replaceMute(model.ActiveMute{GuildID: inf.GuildID, UserID: inf.UserID}); rerr != nil {
		return scheduleErr(inf, rerr, err)
	}
	return inf, err
}

// TemporaryMute mutes the user for req.Duration. Issuers below the guild's unrestricted
// tier are held to its moderator mute limit.
func (s *Service) TemporaryMute(ctx context.Context, req Request) (*model.Infraction, error) {
	if req.GuildID != "" && req.IssuerID != "" && req.Duration > 0 {
		clamped, err := s.clampMute(ctx, req)
		if err != nil {
			return nil, err
		}
		req.Duration = clamped
	}
	return s.temporal(ctx, model.TemporaryMute, req)
}

// Gag times the user out for the guild's fixed gag duration.
func (s *Service) Gag(ctx context.Context, req Request) (*model.Infraction, error) {
	return s.temporal(ctx, model.Gag, req)
}

func (s *Service) temporal(ctx context.Context, t model.InfractionType, req Request) (*model.Infraction, error) {
	inf, err := s.issue(ctx, t, req)
	if inf == nil {
		return nil, err
	}
	if s.indefinitelyMuted(inf.GuildID, inf.UserID) {
		log.Printf("[Sanction] User %s in guild %s is muted indefinitely, %s %d schedules no expiry", inf.UserID, inf.GuildID, t, inf.ID)
		return inf, err
	}
	expires := *inf.ExpiresAt
	if rerr := s.replaceMute(model.ActiveMute{GuildID: inf.GuildID, UserID: inf.UserID, ExpiresAt: &expires}); rerr != nil {
		return scheduleErr(inf, rerr, err)
	}
	return inf, err
}

func (s *Service) clampMute(ctx context.Context, req Request) (time.Duration, error) {
	settings := s.cfg.Guild(req.GuildID)
	if settings.MaxModeratorMuteDuration <= 0 || req.Duration <= settings.MaxModeratorMuteDuration {
		return req.Duration, nil
	}
	tier, err := s.cfg.PrivilegeTier(ctx, req.GuildID, req.IssuerID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve privilege tier of %s: %w", req.IssuerID, err)
	}
	if tier >= settings.UnrestrictedTier {
		return req.Duration, nil
	}
	log.Printf("[Sanction] Clamped mute of user %s by %s from %s to %s", req.UserID, req.IssuerID, req.Duration, settings.MaxModeratorMuteDuration)
	return settings.MaxModeratorMuteDuration, nil
}

func (s *Service) replaceMute(mute model.ActiveMute) error {
	s.muteMu.Lock()
	defer s.muteMu.Unlock()
	if err := infractions.ReplaceMute(s.db, mute); err != nil {
		storeErrors.WithLabelValues("replace_mute").Inc()
		return err
	}
	list := s.mutes[mute.GuildID]
	for i := range list {
		if list[i].UserID == mute.UserID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.mutes[mute.GuildID] = append(list, mute)
	return nil
}

func (s *Service) removeMute(guildID, userID string) (bool, error) {
	s.muteMu.Lock()
	defer s.muteMu.Unlock()
	return s.removeMuteLocked(guildID, userID)
}

func (s *Service) removeMuteLocked(guildID, userID string) (bool, error) {
	existed, err := infractions.DeleteMute(s.db, guildID, userID)
	if err != nil {
		storeErrors.WithLabelValues("delete_mute").Inc()
		return false, err
	}
	list := s.mutes[guildID]
	for i := range list {
		if list[i].UserID == userID {
			s.mutes[guildID] = append(list[:i], list[i+1:]...)
			existed = true
			break
		}
	}
	if len(s.mutes[guildID]) == 0 {
		delete(s.mutes, guildID)
	}
	return existed, nil
}

func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s *Service) muteIsCurrentLocked(mute model.ActiveMute) bool {
	for _, m := range s.mutes[mute.GuildID] {
		if m.UserID == mute.UserID {
			return sameExpiry(m.ExpiresAt, mute.ExpiresAt)
		}
	}
	return false
}

func (s *Service) muteIsCurrent(mute model.ActiveMute) bool {
	s.muteMu.Lock()
	defer s.muteMu.Unlock()
	return s.muteIsCurrentLocked(mute)
}

func (s *Service) removeMuteIfCurrent(mute model.ActiveMute) (bool, error) {
	s.muteMu.Lock()
	defer s.muteMu.Unlock()
	if !s.muteIsCurrentLocked(mute) {
		return false, nil
	}
	return s.removeMuteLocked(mute.GuildID, mute.UserID)
}

// RevokeMute lifts the user's mute or gag and records an unmute. It returns nil, nil when
// the user is not muted. The active record survives a failed platform revoke.
func (s *Service) RevokeMute(ctx context.Context, guildID, userID, revokerID, reason string) (*model.Infraction, error) {
	if guildID == "" || userID == "" || revokerID == "" {
		return nil, model.Invalid("guild, user and revoker are required")
	}

	if !s.IsUserMuted(guildID, userID) {
		return nil, nil
	}

	if err := s.platform.RevokeSanction(ctx, guildID, userID, model.Mute, reason); err != nil {
		return nil, &model.PlatformError{Op: "revoke", GuildID: guildID, UserID: userID, Err: err}
	}
	if _, err := s.removeMute(guildID, userID); err != nil {
		return nil, err
	}
	revocations.WithLabelValues("mute", "manual").Inc()
	log.Printf("[Sanction] %s unmuted user %s in guild %s", revokerID, userID, guildID)
	return s.ledger.CreateInfraction(ctx, model.Unmute, guildID, userID, revokerID, ledgerReason(reason))
}

// IsUserMuted reports whether the user has an active mute or gag.
func (s *Service) IsUserMuted(guildID, userID string) bool {
	s.muteMu.Lock()
	defer s.muteMu.Unlock()
	for _, m := range s.mutes[guildID] {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (s *Service) indefinitelyMuted(guildID, userID string) bool {
	s.muteMu.Lock()
	defer s.muteMu.Unlock()
	for _, m := range s.mutes[guildID] {
		if m.UserID == userID {
			return m.ExpiresAt == nil
		}
	}
	return false
}

// ActiveMutes returns a copy of the guild's mutes. Permanent mutes come last.
func (s *Service) ActiveMutes(guildID string) []model.ActiveMute {
	s.muteMu.Lock()
	out := append([]model.ActiveMute(nil), s.mutes[guildID]...)
	s.muteMu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[j].ExpiresAt == nil {
			return out[i].ExpiresAt != nil
		}
		return out[i].ExpiresAt != nil && out[i].ExpiresAt.Before(*out[j].ExpiresAt)
	})
	return out
}

func (s *Service) muteSnapshot() []model.ActiveMute {
	s.muteMu.Lock()
	defer s.muteMu.Unlock()
	var out []model.ActiveMute
	for _, list := range s.mutes {
		out = append(out, list...)
	}
	return out
}

func (s *Service) expireMute(ctx context.Context, mute model.ActiveMute) (bool, error) {
	if !s.muteIsCurrent(mute) {
		return false, nil
	}
	if err := s.platform.RevokeSanction(ctx, mute.GuildID, mute.UserID, model.TemporaryMute, muteExpiredReason); err != nil {
		return false, &model.PlatformError{Op: "revoke", GuildID: mute.GuildID, UserID: mute.UserID, Err: err}
	}
	removed, err := s.removeMuteIfCurrent(mute)
	if err != nil || !removed {
		return false, err
	}
	revocations.WithLabelValues("mute", "expired").Inc()
	if _, err := s.ledger.CreateInfraction(ctx, model.Unmute, mute.GuildID, mute.UserID, s.systemActor(), ledgerReason(muteExpiredReason)); err != nil {
		var pe *model.PlatformError
		if !errors.As(err, &pe) {
			return true, err
		}
	}
	return true, nil
}

func ledgerReason(reason string) ledger.Options {
	return ledger.Options{Reason: reason}
}
