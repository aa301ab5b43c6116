// Package sanction issues and lifts sanctions. Temporary bans and mutes are tracked as
// active records, persisted, and lifted by periodic sweeps once they expire.
package sanction

import (
	"context"
	"discord-moderation/cooldown"
	"discord-moderation/ledger"
	"discord-moderation/model"
	"discord-moderation/utils/database/infractions"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	banExpiredReason  = "Temporary ban expired"
	muteExpiredReason = "Temporary mute expired"
)

// Request describes a sanction a moderator wants to issue.
type Request struct {
	GuildID  string
	UserID   string
	IssuerID string
	Reason   string
	// Duration is required for temporary bans and mutes, and ignored for gags.
	Duration time.Duration
	RuleID   *int64
	RuleText string
	Notify   bool
}

func (r Request) validate(t model.InfractionType) error {
	if r.GuildID == "" || r.UserID == "" || r.IssuerID == "" {
		return model.Invalid("guild, user and issuer are required")
	}
	if r.Duration < 0 {
		return model.Invalid("negative duration %s", r.Duration)
	}
	if (t == model.TemporaryBan || t == model.TemporaryMute) && r.Duration == 0 {
		return model.Invalid("%s requires a duration", t)
	}
	return nil
}

// Service issues sanctions and owns the active ban and mute sets.
type Service struct {
	db       *sqlx.DB
	ledger   *ledger.Ledger
	detector *cooldown.Detector
	platform model.Platform
	cfg      model.ConfigProvider

	actorMu       sync.RWMutex
	systemActorID string
	limiter       *rate.Limiter
	now           func() time.Time

	banMu sync.Mutex
	bans  map[string][]model.ActiveBan // guild ID -> active temporary bans

	muteMu sync.Mutex
	mutes  map[string][]model.ActiveMute // guild ID -> active mutes
}

type Option func(*Service)

// WithSystemActor sets the issuer recorded on expiry entries.
func WithSystemActor(id string) Option { return func(s *Service) { s.systemActorID = id } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRevokeRate paces the platform calls made by sweeps.
func WithRevokeRate(r rate.Limit, burst int) Option {
	return func(s *Service) { s.limiter = rate.NewLimiter(r, burst) }
}

// New creates a sanction service. Call Load before the first sweep.
func New(db *sqlx.DB, l *ledger.Ledger, detector *cooldown.Detector, platform model.Platform, cfg model.ConfigProvider, opts ...Option) *Service {
	s := &Service{
		db:            db,
		ledger:        l,
		detector:      detector,
		platform:      platform,
		cfg:           cfg,
		systemActorID: "system",
		limiter:       rate.NewLimiter(rate.Limit(5), 1),
		now:           time.Now,
		bans:          make(map[string][]model.ActiveBan),
		mutes:         make(map[string][]model.ActiveMute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSystemActor changes the issuer recorded on expiry entries, e.g. once the bot user is known.
func (s *Service) SetSystemActor(id string) {
	s.actorMu.Lock()
	defer s.actorMu.Unlock()
	s.systemActorID = id
}

func (s *Service) systemActor() string {
	s.actorMu.RLock()
	defer s.actorMu.RUnlock()
	return s.systemActorID
}

// Load reads the active temporary bans and mutes from the database.
func (s *Service) Load(ctx context.Context) error {
	var bans []model.ActiveBan
	var mutes []model.ActiveMute

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bans, err = infractions.GetTemporaryBans(s.db)
		return err
	})
	g.Go(func() error {
		var err error
		mutes, err = infractions.GetMutes(s.db)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load active sanctions: %w", err)
	}

	s.banMu.Lock()
	s.bans = make(map[string][]model.ActiveBan)
	for _, b := range bans {
		s.bans[b.GuildID] = append(s.bans[b.GuildID], b)
	}
	s.banMu.Unlock()

	s.muteMu.Lock()
	s.mutes = make(map[string][]model.ActiveMute)
	for _, m := range mutes {
		s.mutes[m.GuildID] = append(s.mutes[m.GuildID], m)
	}
	s.muteMu.Unlock()

	log.Printf("[Sanction] Loaded %d temporary bans and %d mutes", len(bans), len(mutes))
	return nil
}

// checkDuplicate asks for confirmation when another moderator recently sanctioned the user.
func (s *Service) checkDuplicate(ctx context.Context, req Request) error {
	if s.detector == nil || !s.detector.IsCooldownActive(req.GuildID, req.UserID, req.IssuerID) {
		return nil
	}
	hot, ok := s.detector.Hot(req.GuildID, req.UserID)
	if !ok {
		return nil
	}
	proceed, err := s.detector.ShowConfirmation(ctx, hot, req.IssuerID)
	if err != nil {
		return err
	}
	if !proceed {
		return fmt.Errorf("%w: user %s was sanctioned by %s at %s", model.ErrConfirmationDeclined,
			req.UserID, hot.Infraction.IssuerID, hot.RecordedAt.Format(time.RFC3339))
	}
	s.detector.StopCooldown(req.GuildID, req.UserID)
	return nil
}

func (s *Service) checkIssuer(ctx context.Context, req Request) error {
	member, err := s.platform.ResolveMember(ctx, req.GuildID, req.IssuerID)
	if err != nil {
		return &model.PlatformError{Op: "resolve", GuildID: req.GuildID, UserID: req.IssuerID, Err: err}
	}
	if member == nil {
		return model.Invalid("issuer %s is not a member of guild %s", req.IssuerID, req.GuildID)
	}
	return nil
}

// issue runs the common sanction flow: validation, duplicate check, ledger write,
// platform apply, cooldown. Platform failures come back next to the stored infraction.
func (s *Service) issue(ctx context.Context, t model.InfractionType, req Request) (*model.Infraction, error) {
	if err := req.validate(t); err != nil {
		return nil, err
	}
	if err := s.checkIssuer(ctx, req); err != nil {
		return nil, err
	}
	if err := s.checkDuplicate(ctx, req); err != nil {
		return nil, err
	}

	opts := ledger.Options{
		Reason:   req.Reason,
		Notify:   req.Notify,
		RuleID:   req.RuleID,
		RuleText: req.RuleText,
	}
	if t == model.TemporaryBan || t == model.TemporaryMute {
		opts.Duration = req.Duration
	}

	var platformErrs []error
	inf, err := s.ledger.CreateInfraction(ctx, t, req.GuildID, req.UserID, req.IssuerID, opts)
	if err != nil {
		var pe *model.PlatformError
		if inf == nil || !errors.As(err, &pe) {
			return nil, err
		}
		platformErrs = append(platformErrs, err)
	}

	if appliesSanction(t) {
		if err := s.platform.ApplySanction(ctx, req.GuildID, req.UserID, t, req.Reason); err != nil {
			log.Printf("[Sanction] Failed to apply %s to user %s in guild %s: %v", t, req.UserID, req.GuildID, err)
			platformErrs = append(platformErrs, &model.PlatformError{Op: "apply", GuildID: req.GuildID, UserID: req.UserID, Err: err})
		} else {
			sanctionsApplied.WithLabelValues(string(t)).Inc()
		}
	}

	if s.detector != nil {
		s.detector.StartCooldown(*inf)
	}
	return inf, errors.Join(platformErrs...)
}

func appliesSanction(t model.InfractionType) bool {
	switch t {
	case model.Gag, model.TemporaryMute, model.Mute, model.Kick, model.TemporaryBan, model.Ban:
		return true
	}
	return false
}

// Warn records a warning. Nothing is applied on the platform.
func (s *Service) Warn(ctx context.Context, req Request) (*model.Infraction, error) {
	return s.issue(ctx, model.Warning, req)
}

// Kick removes the user from the guild and records it.
func (s *Service) Kick(ctx context.Context, req Request) (*model.Infraction, error) {
	return s.issue(ctx, model.Kick, req)
}

// scheduleErr wraps a failure to persist an active record after the infraction was recorded.
func scheduleErr(inf *model.Infraction, err error, prior error) (*model.Infraction, error) {
	return inf, errors.Join(prior, fmt.Errorf("failed to schedule expiry of infraction %d: %w", inf.ID, err))
}

// Counts returns the number of active temporary bans and mutes across all guilds.
func (s *Service) Counts() (bans, mutes int) {
	s.banMu.Lock()
	for _, list := range s.bans {
		bans += len(list)
	}
	s.banMu.Unlock()

	s.muteMu.Lock()
	for _, list := range s.mutes {
		mutes += len(list)
	}
	s.muteMu.Unlock()
	return bans, mutes
}
