// Package cooldown tracks the most recent infraction of every user for a short window,
// so a second moderator acting on the same user can be asked to confirm first.
package cooldown

import (
	"context"
	"discord-moderation/model"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	DefaultWindow  = 30 * time.Minute
	DefaultTimeout = time.Minute
)

// ConfirmationRequest is shown to a moderator whose action collides with a recent infraction.
type ConfirmationRequest struct {
	GuildID     string
	ModeratorID string
	Conflicting model.HotInfraction
}

// Prompter asks a moderator to confirm. The returned channel delivers the answer once.
type Prompter interface {
	Prompt(ctx context.Context, req ConfirmationRequest) (<-chan bool, error)
}

type key struct {
	guildID string
	userID  string
}

// Detector holds the hot set: the newest infraction per user, for Window after it was recorded.
type Detector struct {
	prompter Prompter
	window   time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu  sync.Mutex
	hot map[key]model.HotInfraction
}

type Option func(*Detector)

func WithWindow(d time.Duration) Option { return func(c *Detector) { c.window = d } }

func WithTimeout(d time.Duration) Option { return func(c *Detector) { c.timeout = d } }

func WithClock(now func() time.Time) Option { return func(c *Detector) { c.now = now } }

// New creates a detector asking for confirmation through prompter.
func New(prompter Prompter, opts ...Option) *Detector {
	d := &Detector{
		prompter: prompter,
		window:   DefaultWindow,
		timeout:  DefaultTimeout,
		now:      time.Now,
		hot:      make(map[key]model.HotInfraction),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// StartCooldown makes inf the hot infraction of its user, replacing any older one.
func (d *Detector) StartCooldown(inf model.Infraction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hot[key{inf.GuildID, inf.UserID}] = model.HotInfraction{Infraction: inf, RecordedAt: d.now()}
}

// StopCooldown forgets the hot infraction of a user.
func (d *Detector) StopCooldown(guildID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.hot, key{guildID, userID})
}

// Hot returns the live hot infraction of a user.
func (d *Detector) Hot(guildID, userID string) (model.HotInfraction, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hot[key{guildID, userID}]
	if !ok || d.now().Sub(h.RecordedAt) >= d.window {
		return model.HotInfraction{}, false
	}
	return h, true
}

// IsCooldownActive reports whether another moderator sanctioned the user within the window.
// A moderator repeating their own action is never flagged.
func (d *Detector) IsCooldownActive(guildID, userID, moderatorID string) bool {
	h, ok := d.Hot(guildID, userID)
	return ok && h.Infraction.IssuerID != moderatorID
}

// Len returns the number of tracked users.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.hot)
}

// Sweep drops every hot infraction older than the window and returns how many were dropped.
func (d *Detector) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for k, h := range d.hot {
		if now.Sub(h.RecordedAt) >= d.window {
			delete(d.hot, k)
			removed++
		}
	}
	return removed
}

// ShowConfirmation asks moderatorID whether to go ahead despite hot. It resolves to false when
// the moderator cancels, the timeout elapses or ctx ends.
func (d *Detector) ShowConfirmation(ctx context.Context, hot model.HotInfraction, moderatorID string) (bool, error) {
	if d.prompter == nil {
		return false, fmt.Errorf("no confirmation prompter configured")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	answer, err := d.prompter.Prompt(ctx, ConfirmationRequest{
		GuildID:     hot.Infraction.GuildID,
		ModeratorID: moderatorID,
		Conflicting: hot,
	})
	if err != nil {
		confirmations.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to prompt moderator %s: %w", moderatorID, err)
	}

	select {
	case ok := <-answer:
		if ok {
			confirmations.WithLabelValues("proceed").Inc()
		} else {
			confirmations.WithLabelValues("cancel").Inc()
		}
		return ok, nil
	case <-ctx.Done():
		log.Printf("[Cooldown] Confirmation for user %s timed out for moderator %s", hot.Infraction.UserID, moderatorID)
		confirmations.WithLabelValues("timeout").Inc()
		return false, nil
	}
}
