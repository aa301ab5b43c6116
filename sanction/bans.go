package sanction

import (
	"context"
	"discord-moderation/model"
	"discord-moderation/utils/database/infractions"
	"errors"
	"log"
	"sort"
)

// Ban bans the user permanently. A temporary ban the user was serving is dropped so it
// cannot lift the permanent one.
func (s *Service) Ban(ctx context.Context, req Request) (*model.Infraction, error) {
	inf, err := s.issue(ctx, model.Ban, req)
	if inf == nil {
		return nil, err
	}
	if _, derr := s.removeBan(req.GuildID, req.UserID); derr != nil {
		return scheduleErr(inf, derr, err)
	}
	return inf, err
}

// TemporaryBan bans the user for req.Duration. Any active temporary ban of the user is replaced.
// A user who is already banned permanently stays banned: the infraction is recorded but no
// expiry is scheduled.
func (s *Service) TemporaryBan(ctx context.Context, req Request) (*model.Infraction, error) {
	if err := req.validate(model.TemporaryBan); err != nil {
		return nil, err
	}
	permanent := false
	if !s.hasActiveBan(req.GuildID, req.UserID) {
		banned, err := s.platform.IsBanned(ctx, req.GuildID, req.UserID)
		if err != nil {
			return nil, &model.PlatformError{Op: "lookup", GuildID: req.GuildID, UserID: req.UserID, Err: err}
		}
		permanent = banned
	}

	inf, err := s.issue(ctx, model.TemporaryBan, req)
	if inf == nil {
		return nil, err
	}
	if permanent {
		log.Printf("[Sanction] User %s in guild %s is banned permanently, temporary ban %d schedules no expiry", inf.UserID, inf.GuildID, inf.ID)
		return inf, err
	}
	ban := model.ActiveBan{GuildID: inf.GuildID, UserID: inf.UserID, ExpiresAt: *inf.ExpiresAt}
	if rerr := s.replaceBan(ban); rerr != nil {
		return scheduleErr(inf, rerr, err)
	}
	return inf, err
}

// replaceBan stores ban, replacing the user's previous record. The cache follows the database.
func (s *Service) replaceBan(ban model.ActiveBan) error {
	s.banMu.Lock()
	defer s.banMu.Unlock()
	if err := infractions.ReplaceTemporaryBan(s.db, ban); err != nil {
		storeErrors.WithLabelValues("replace_ban").Inc()
		return err
	}
	list := s.bans[ban.GuildID]
	for i := range list {
		if list[i].UserID == ban.UserID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.bans[ban.GuildID] = append(list, ban)
	return nil
}

// removeBan drops the user's temporary ban and reports whether there was one.
func (s *Service) removeBan(guildID, userID string) (bool, error) {
	s.banMu.Lock()
	defer s.banMu.Unlock()
	return s.removeBanLocked(guildID, userID)
}

func (s *Service) removeBanLocked(guildID, userID string) (bool, error) {
	existed, err := infractions.DeleteTemporaryBan(s.db, guildID, userID)
	if err != nil {
		storeErrors.WithLabelValues("delete_ban").Inc()
		return false, err
	}
	list := s.bans[guildID]
	for i := range list {
		if list[i].UserID == userID {
			s.bans[guildID] = append(list[:i], list[i+1:]...)
			existed = true
			break
		}
	}
	if len(s.bans[guildID]) == 0 {
		delete(s.bans, guildID)
	}
	return existed, nil
}

// removeBanIfCurrent drops ban only if it is still the user's active record.
func (s *Service) removeBanIfCurrent(ban model.ActiveBan) (bool, error) {
	s.banMu.Lock()
	defer s.banMu.Unlock()
	if !s.banIsCurrentLocked(ban) {
		return false, nil
	}
	return s.removeBanLocked(ban.GuildID, ban.UserID)
}

func (s *Service) banIsCurrent(ban model.ActiveBan) bool {
	s.banMu.Lock()
	defer s.banMu.Unlock()
	return s.banIsCurrentLocked(ban)
}

func (s *Service) banIsCurrentLocked(ban model.ActiveBan) bool {
	for _, b := range s.bans[ban.GuildID] {
		if b.UserID == ban.UserID {
			return b.ExpiresAt.Equal(ban.ExpiresAt)
		}
	}
	return false
}

// RevokeBan lifts the user's ban and records an unban. It returns nil, nil when the user
// is not banned. The active record survives a failed platform revoke.
func (s *Service) RevokeBan(ctx context.Context, guildID, userID, revokerID, reason string) (*model.Infraction, error) {
	if guildID == "" || userID == "" || revokerID == "" {
		return nil, model.Invalid("guild, user and revoker are required")
	}

	banned := s.hasActiveBan(guildID, userID)
	if !banned {
		var err error
		banned, err = s.platform.IsBanned(ctx, guildID, userID)
		if err != nil {
			return nil, &model.PlatformError{Op: "lookup", GuildID: guildID, UserID: userID, Err: err}
		}
	}
	if !banned {
		return nil, nil
	}

	if err := s.platform.RevokeSanction(ctx, guildID, userID, model.Ban, reason); err != nil {
		return nil, &model.PlatformError{Op: "revoke", GuildID: guildID, UserID: userID, Err: err}
	}
	if _, err := s.removeBan(guildID, userID); err != nil {
		return nil, err
	}
	revocations.WithLabelValues("ban", "manual").Inc()
	log.Printf("[Sanction] %s unbanned user %s in guild %s", revokerID, userID, guildID)
	return s.ledger.CreateInfraction(ctx, model.Unban, guildID, userID, revokerID, ledgerReason(reason))
}

// IsUserBanned reports whether the user has an active temporary ban, falling back to the
// platform for permanent bans.
func (s *Service) IsUserBanned(ctx context.Context, guildID, userID string) (bool, error) {
	if s.hasActiveBan(guildID, userID) {
		return true, nil
	}
	banned, err := s.platform.IsBanned(ctx, guildID, userID)
	if err != nil {
		return false, &model.PlatformError{Op: "lookup", GuildID: guildID, UserID: userID, Err: err}
	}
	return banned, nil
}

func (s *Service) hasActiveBan(guildID, userID string) bool {
	s.banMu.Lock()
	defer s.banMu.Unlock()
	for _, b := range s.bans[guildID] {
		if b.UserID == userID {
			return true
		}
	}
	return false
}

// ActiveBans returns a copy of the guild's temporary bans ordered by expiration.
func (s *Service) ActiveBans(guildID string) []model.ActiveBan {
	s.banMu.Lock()
	out := append([]model.ActiveBan(nil), s.bans[guildID]...)
	s.banMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func (s *Service) banSnapshot() []model.ActiveBan {
	s.banMu.Lock()
	defer s.banMu.Unlock()
	var out []model.ActiveBan
	for _, list := range s.bans {
		out = append(out, list...)
	}
	return out
}

// expireBan lifts one expired ban. The record is only dropped once the platform accepted
// the revocation, so a failure is retried on the next sweep.
func (s *Service) expireBan(ctx context.Context, ban model.ActiveBan) (bool, error) {
	if !s.banIsCurrent(ban) {
		return false, nil
	}
	if err := s.platform.RevokeSanction(ctx, ban.GuildID, ban.UserID, model.TemporaryBan, banExpiredReason); err != nil {
		return false, &model.PlatformError{Op: "revoke", GuildID: ban.GuildID, UserID: ban.UserID, Err: err}
	}
	removed, err := s.removeBanIfCurrent(ban)
	if err != nil || !removed {
		return false, err
	}
	revocations.WithLabelValues("ban", "expired").Inc()
	if _, err := s.ledger.CreateInfraction(ctx, model.Unban, ban.GuildID, ban.UserID, s.systemActor(), ledgerReason(banExpiredReason)); err != nil {
		var pe *model.PlatformError
		if !errors.As(err, &pe) {
			return true, err
		}
	}
	return true, nil
}
