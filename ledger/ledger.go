// Package ledger keeps the canonical record of infractions. Every community's
// infractions are loaded from the database once and then served from memory;
// every write goes to the database first and only reaches the cache when it succeeded.
package ledger

import (
	"context"
	"discord-moderation/model"
	"discord-moderation/utils/database/infractions"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Options carries the optional parts of a new infraction.
type Options struct {
	Reason string
	// Duration and ExpiresAt are two ways of saying the same thing; set at most one.
	Duration              time.Duration
	ExpiresAt             *time.Time
	Notify                bool
	RuleID                *int64
	RuleText              string
	AdditionalInformation string
}

// Filter narrows a cache scan. Zero fields match everything.
type Filter struct {
	UserID   string
	IssuerID string
	Types    []model.InfractionType
	Since    time.Time
	Until    time.Time
}

func (f Filter) match(inf *model.Infraction) bool {
	if f.UserID != "" && inf.UserID != f.UserID {
		return false
	}
	if f.IssuerID != "" && inf.IssuerID != f.IssuerID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if inf.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && inf.IssuedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !inf.IssuedAt.Before(f.Until) {
		return false
	}
	return true
}

// detach gives inf its own copies of the pointer fields so cached records never alias caller memory.
func detach(inf *model.Infraction) {
	if inf.ExpiresAt != nil {
		expires := *inf.ExpiresAt
		inf.ExpiresAt = &expires
	}
	if inf.RuleID != nil {
		rule := *inf.RuleID
		inf.RuleID = &rule
	}
}

// Ledger is the infraction ledger of every community the bot serves.
type Ledger struct {
	db       *sqlx.DB
	notifier model.Notifier
	cfg      model.ConfigProvider
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string][]model.Infraction // guild ID -> infractions ordered by ID
}

// New creates a ledger writing through to db.
func New(db *sqlx.DB, notifier model.Notifier, cfg model.ConfigProvider) *Ledger {
	return &Ledger{
		db:       db,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		cache:    make(map[string][]model.Infraction),
	}
}

// SetClock replaces the ledger's time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Hydrate loads a guild's infractions into memory. Only the first call per guild reads the database.
func (l *Ledger) Hydrate(ctx context.Context, guildID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hydrateLocked(guildID)
}

func (l *Ledger) hydrateLocked(guildID string) error {
	if _, ok := l.cache[guildID]; ok {
		return nil
	}
	records, err := infractions.GetInfractionsByGuildID(l.db, guildID)
	if err != nil {
		storeErrors.WithLabelValues("load").Inc()
		return fmt.Errorf("failed to hydrate ledger for guild %s: %w", guildID, err)
	}
	if records == nil {
		records = []model.Infraction{}
	}
	l.cache[guildID] = records
	log.Printf("[Ledger] Loaded %d infractions for guild %s", len(records), guildID)
	return nil
}

// Guilds lists the guilds currently held in memory.
func (l *Ledger) Guilds() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	guilds := make([]string, 0, len(l.cache))
	for id := range l.cache {
		guilds = append(guilds, id)
	}
	sort.Strings(guilds)
	return guilds
}

func validate(inf *model.Infraction) error {
	if inf.GuildID == "" || inf.UserID == "" || inf.IssuerID == "" {
		return model.Invalid("guild, user and issuer are required")
	}
	if !inf.Type.Valid() {
		return model.Invalid("unknown infraction type %q", inf.Type)
	}
	if inf.Type.IsTemporal() {
		if inf.ExpiresAt == nil {
			return model.Invalid("%s requires an expiration time", inf.Type)
		}
		if !inf.ExpiresAt.After(inf.IssuedAt) {
			return model.Invalid("expiration must be after issue time")
		}
	} else if inf.ExpiresAt != nil {
		return model.Invalid("%s cannot expire", inf.Type)
	}
	return nil
}

// AddInfraction records an infraction that has already happened. It never applies a sanction.
// The returned copy carries the ID assigned by the database.
func (l *Ledger) AddInfraction(ctx context.Context, inf model.Infraction) (*model.Infraction, error) {
	if inf.IssuedAt.IsZero() {
		inf.IssuedAt = l.now()
	}
	detach(&inf)
	if err := validate(&inf); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hydrateLocked(inf.GuildID); err != nil {
		return nil, err
	}

	id, err := infractions.AddInfraction(l.db, inf)
	if err != nil {
		storeErrors.WithLabelValues("insert").Inc()
		return nil, err
	}
	inf.ID = id
	l.cache[inf.GuildID] = append(l.cache[inf.GuildID], inf)
	infractionsRecorded.WithLabelValues(string(inf.Type)).Inc()

	out := inf
	return &out, nil
}

// CreateInfraction is the entry point for every sanction and warning flow. It derives the
// expiration, records the infraction and, when asked to, notifies the user. A failed notice
// is reported as a *model.PlatformError next to the stored infraction.
func (l *Ledger) CreateInfraction(ctx context.Context, t model.InfractionType, guildID, userID, issuerID string, opts Options) (*model.Infraction, error) {
	now := l.now()
	inf := model.Infraction{
		GuildID:               guildID,
		UserID:                userID,
		IssuerID:              issuerID,
		Type:                  t,
		Reason:                opts.Reason,
		IssuedAt:              now,
		RuleID:                opts.RuleID,
		RuleText:              opts.RuleText,
		AdditionalInformation: opts.AdditionalInformation,
	}

	if opts.Duration < 0 {
		return nil, model.Invalid("negative duration %s", opts.Duration)
	}
	if opts.Duration > 0 && opts.ExpiresAt != nil {
		return nil, model.Invalid("set either a duration or an expiration time, not both")
	}
	switch {
	case t == model.Gag:
		expires := now.Add(l.cfg.Guild(guildID).GagDuration)
		inf.ExpiresAt = &expires
	case !t.IsTemporal():
		if opts.Duration > 0 || opts.ExpiresAt != nil {
			return nil, model.Invalid("%s cannot expire", t)
		}
	case opts.ExpiresAt != nil:
		expires := *opts.ExpiresAt
		inf.ExpiresAt = &expires
	case opts.Duration > 0:
		expires := now.Add(opts.Duration)
		inf.ExpiresAt = &expires
	}

	stored, err := l.AddInfraction(ctx, inf)
	if err != nil {
		return nil, err
	}

	if opts.Notify && t != model.Gag && l.notifier != nil {
		if err := l.notifier.SendPrivateNotice(ctx, userID, noticeText(stored)); err != nil {
			log.Printf("[Ledger] Failed to notify user %s of infraction %d: %v", userID, stored.ID, err)
			return stored, &model.PlatformError{Op: "notify", GuildID: guildID, UserID: userID, Err: err}
		}
	}
	return stored, nil
}

// Infractions returns the guild's infractions matching f, ordered by ID.
func (l *Ledger) Infractions(ctx context.Context, guildID string, f Filter) ([]model.Infraction, error) {
	if err := l.ensureLoaded(guildID); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.Infraction
	for i := range l.cache[guildID] {
		if f.match(&l.cache[guildID][i]) {
			rec := l.cache[guildID][i]
			detach(&rec)
			out = append(out, rec)
		}
	}
	return out, nil
}

// Count returns the number of the guild's infractions matching f.
func (l *Ledger) Count(ctx context.Context, guildID string, f Filter) (int, error) {
	if err := l.ensureLoaded(guildID); err != nil {
		return 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for i := range l.cache[guildID] {
		if f.match(&l.cache[guildID][i]) {
			n++
		}
	}
	return n, nil
}

// Infraction returns a single infraction of the guild.
func (l *Ledger) Infraction(ctx context.Context, guildID string, id int64) (*model.Infraction, error) {
	if err := l.ensureLoaded(guildID); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := l.indexLocked(guildID, id)
	if idx < 0 {
		return nil, fmt.Errorf("infraction %d in guild %s: %w", id, guildID, model.ErrNotFound)
	}
	out := l.cache[guildID][idx]
	detach(&out)
	return &out, nil
}

func (l *Ledger) ensureLoaded(guildID string) error {
	l.mu.RLock()
	_, ok := l.cache[guildID]
	l.mu.RUnlock()
	if ok {
		return nil
	}
	return l.Hydrate(context.Background(), guildID)
}

// indexLocked finds an infraction by ID; the cache is ordered by ID.
func (l *Ledger) indexLocked(guildID string, id int64) int {
	records := l.cache[guildID]
	i := sort.Search(len(records), func(i int) bool { return records[i].ID >= id })
	if i < len(records) && records[i].ID == id {
		return i
	}
	return -1
}

// ModifyInfraction applies mutate to an infraction and writes the result through to the
// database before updating the cache.
func (l *Ledger) ModifyInfraction(ctx context.Context, guildID string, id int64, mutate func(*model.Infraction)) (*model.Infraction, error) {
	if mutate == nil {
		return nil, model.Invalid("mutator is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hydrateLocked(guildID); err != nil {
		return nil, err
	}

	idx := l.indexLocked(guildID, id)
	if idx < 0 {
		return nil, fmt.Errorf("infraction %d in guild %s: %w", id, guildID, model.ErrNotFound)
	}

	updated := l.cache[guildID][idx]
	detach(&updated)
	mutate(&updated)
	if updated.ID != id || updated.GuildID != guildID {
		return nil, model.Invalid("infraction id and guild cannot be changed")
	}
	if err := validate(&updated); err != nil {
		return nil, err
	}

	if err := infractions.UpdateInfraction(l.db, updated); err != nil {
		storeErrors.WithLabelValues("update").Inc()
		return nil, err
	}
	l.cache[guildID][idx] = updated

	out := updated
	return &out, nil
}

// ReassignInfractions moves every infraction of fromUserID to toUserID, as when two accounts
// are merged. It returns how many infractions were moved.
func (l *Ledger) ReassignInfractions(ctx context.Context, guildID, fromUserID, toUserID string) (int, error) {
	if fromUserID == "" || toUserID == "" {
		return 0, model.Invalid("both user IDs are required")
	}
	records, err := l.Infractions(ctx, guildID, Filter{UserID: fromUserID})
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, rec := range records {
		_, err := l.ModifyInfraction(ctx, guildID, rec.ID, func(inf *model.Infraction) {
			inf.UserID = toUserID
		})
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// DeleteInfraction removes an infraction from the database and the cache.
func (l *Ledger) DeleteInfraction(ctx context.Context, guildID string, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hydrateLocked(guildID); err != nil {
		return err
	}

	idx := l.indexLocked(guildID, id)
	if idx < 0 {
		return fmt.Errorf("infraction %d in guild %s: %w", id, guildID, model.ErrNotFound)
	}
	if err := infractions.DeleteInfractionByID(l.db, id); err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		return err
	}
	records := l.cache[guildID]
	l.cache[guildID] = append(records[:idx:idx], records[idx+1:]...)
	return nil
}
