package sanction

import (
	"context"
	"discord-moderation/cooldown"
	"discord-moderation/ledger"
	"discord-moderation/model"
	"discord-moderation/utils/database/infractions"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type call struct {
	Op     string
	UserID string
	Type   model.InfractionType
}

type fakePlatform struct {
	mu         sync.Mutex
	calls      []call
	banned     map[string]bool
	absent     map[string]bool
	failApply  bool
	failRevoke bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{banned: make(map[string]bool), absent: make(map[string]bool)}
}

func (p *fakePlatform) ResolveMember(ctx context.Context, guildID, userID string) (*model.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.absent[userID] {
		return nil, nil
	}
	return &model.Member{UserID: userID}, nil
}

func (p *fakePlatform) SendPrivateNotice(ctx context.Context, userID, content string) error {
	return nil
}

func (p *fakePlatform) ApplySanction(ctx context.Context, guildID, userID string, t model.InfractionType, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failApply {
		return errors.New("missing permissions")
	}
	p.calls = append(p.calls, call{Op: "apply", UserID: userID, Type: t})
	if t.IsBan() {
		p.banned[userID] = true
	}
	return nil
}

func (p *fakePlatform) RevokeSanction(ctx context.Context, guildID, userID string, t model.InfractionType, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRevoke {
		return errors.New("gateway unavailable")
	}
	p.calls = append(p.calls, call{Op: "revoke", UserID: userID, Type: t})
	if t.IsBan() {
		delete(p.banned, userID)
	}
	return nil
}

func (p *fakePlatform) IsBanned(ctx context.Context, guildID, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.banned[userID], nil
}

func (p *fakePlatform) count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

type fakeConfig struct {
	settings model.GuildSettings
	tiers    map[string]int
}

func (c fakeConfig) Guild(guildID string) model.GuildSettings { return c.settings }

func (c fakeConfig) PrivilegeTier(ctx context.Context, guildID, userID string) (int, error) {
	return c.tiers[userID], nil
}

type fixedPrompter struct {
	answer bool
	asked  int
}

func (p *fixedPrompter) Prompt(ctx context.Context, req cooldown.ConfirmationRequest) (<-chan bool, error) {
	p.asked++
	ch := make(chan bool, 1)
	ch <- p.answer
	return ch, nil
}

type fixture struct {
	svc      *Service
	ledger   *ledger.Ledger
	platform *fakePlatform
	clock    *clock
	db       *sqlx.DB
}

var defaultSettings = model.GuildSettings{
	GagDuration:              5 * time.Minute,
	MaxModeratorMuteDuration: 2 * time.Hour,
	UnrestrictedTier:         3,
}

func newFixture(t *testing.T, detector *cooldown.Detector) *fixture {
	db, err := infractions.Init(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := newFakePlatform()
	cfg := fakeConfig{settings: defaultSettings, tiers: map[string]int{"mod1": 1, "admin": 3}}
	l := ledger.New(db, p, cfg)
	l.SetClock(c.now)
	svc := New(db, l, detector, p, cfg,
		WithClock(c.now),
		WithSystemActor("bot"),
		WithRevokeRate(rate.Inf, 1))
	return &fixture{svc: svc, ledger: l, platform: p, clock: c, db: db}
}

func req(userID, issuerID string, d time.Duration) Request {
	return Request{GuildID: "g1", UserID: userID, IssuerID: issuerID, Reason: "spam", Duration: d}
}

func TestTemporaryBanLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	inf, err := f.svc.TemporaryBan(ctx, req("u1", "mod1", time.Hour))
	require.NoError(t, err)
	assert.Equal(model.TemporaryBan, inf.Type)
	require.Len(t, f.svc.ActiveBans("g1"), 1)

	banned, err := f.svc.IsUserBanned(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.True(banned)

	f.clock.advance(59 * time.Minute)
	assert.Equal(0, f.svc.SweepBans(ctx))

	f.clock.advance(time.Minute)
	assert.Equal(1, f.svc.SweepBans(ctx))
	assert.Empty(f.svc.ActiveBans("g1"))
	assert.Equal(1, f.platform.count("revoke"))

	history, err := f.ledger.Infractions(ctx, "g1", ledger.Filter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(model.Unban, history[1].Type)
	assert.Equal("Temporary ban expired", history[1].Reason)
	assert.Equal("bot", history[1].IssuerID)

	// Nothing left to lift.
	assert.Equal(0, f.svc.SweepBans(ctx))
	assert.Equal(1, f.platform.count("revoke"))

	stored, err := infractions.GetTemporaryBans(f.db)
	require.NoError(t, err)
	assert.Empty(stored)
}

func TestOneActiveRecordPerUser(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.TemporaryBan(ctx, req("u1", "mod1", time.Hour))
	require.NoError(t, err)
	second, err := f.svc.TemporaryBan(ctx, req("u1", "mod1", 3*time.Hour))
	require.NoError(t, err)

	active := f.svc.ActiveBans("g1")
	require.Len(t, active, 1)
	assert.True(active[0].ExpiresAt.Equal(*second.ExpiresAt))

	stored, err := infractions.GetTemporaryBans(f.db)
	require.NoError(t, err)
	assert.Len(stored, 1)

	// A permanent ban supersedes the temporary one.
	_, err = f.svc.Ban(ctx, req("u1", "mod1", 0))
	require.NoError(t, err)
	assert.Empty(f.svc.ActiveBans("g1"))
	banned, err := f.svc.IsUserBanned(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.True(banned)

	f.clock.advance(4 * time.Hour)
	assert.Equal(0, f.svc.SweepBans(ctx))
}

func TestMuteClamp(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	start := f.clock.now()

	inf, err := f.svc.TemporaryMute(ctx, req("u1", "mod1", 5*time.Hour))
	require.NoError(t, err)
	assert.True(inf.ExpiresAt.Equal(start.Add(2 * time.Hour)))

	inf, err = f.svc.TemporaryMute(ctx, req("u2", "admin", 5*time.Hour))
	require.NoError(t, err)
	assert.True(inf.ExpiresAt.Equal(start.Add(5 * time.Hour)))

	inf, err = f.svc.TemporaryMute(ctx, req("u3", "mod1", time.Hour))
	require.NoError(t, err)
	assert.True(inf.ExpiresAt.Equal(start.Add(time.Hour)))
}

func TestRevokeIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	inf, err := f.svc.RevokeMute(ctx, "g1", "u1", "mod1", "appeal")
	assert.NoError(err)
	assert.Nil(inf)

	_, err = f.svc.Mute(ctx, req("u1", "mod1", 0))
	require.NoError(t, err)
	assert.True(f.svc.IsUserMuted("g1", "u1"))

	inf, err = f.svc.RevokeMute(ctx, "g1", "u1", "mod1", "appeal")
	require.NoError(t, err)
	require.NotNil(t, inf)
	assert.Equal(model.Unmute, inf.Type)
	assert.Equal("appeal", inf.Reason)
	assert.False(f.svc.IsUserMuted("g1", "u1"))

	inf, err = f.svc.RevokeMute(ctx, "g1", "u1", "mod1", "appeal")
	assert.NoError(err)
	assert.Nil(inf)
	assert.Equal(1, f.platform.count("revoke"))

	inf, err = f.svc.RevokeBan(ctx, "g1", "u9", "mod1", "appeal")
	assert.NoError(err)
	assert.Nil(inf)
	assert.Equal(1, f.platform.count("revoke"))
}

func TestRevokePermanentBan(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.Ban(ctx, req("u1", "mod1", 0))
	require.NoError(t, err)

	inf, err := f.svc.RevokeBan(ctx, "g1", "u1", "mod1", "appeal")
	require.NoError(t, err)
	require.NotNil(t, inf)
	assert.Equal(model.Unban, inf.Type)

	banned, err := f.svc.IsUserBanned(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.False(banned)
}

func TestSweepRetriesFailedRevoke(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.TemporaryMute(ctx, req("u1", "mod1", time.Minute))
	require.NoError(t, err)
	f.clock.advance(2 * time.Minute)

	f.platform.failRevoke = true
	assert.Equal(0, f.svc.SweepMutes(ctx))
	assert.True(f.svc.IsUserMuted("g1", "u1"))
	count, err := f.ledger.Count(ctx, "g1", ledger.Filter{Types: []model.InfractionType{model.Unmute}})
	require.NoError(t, err)
	assert.Equal(0, count)

	f.platform.failRevoke = false
	assert.Equal(1, f.svc.SweepMutes(ctx))
	assert.False(f.svc.IsUserMuted("g1", "u1"))
	count, err = f.ledger.Count(ctx, "g1", ledger.Filter{Types: []model.InfractionType{model.Unmute}})
	require.NoError(t, err)
	assert.Equal(1, count)
}

func TestGagUsesMuteSet(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	start := f.clock.now()

	inf, err := f.svc.Gag(ctx, req("u1", "mod1", 0))
	require.NoError(t, err)
	assert.True(inf.ExpiresAt.Equal(start.Add(5 * time.Minute)))
	assert.True(f.svc.IsUserMuted("g1", "u1"))

	f.clock.advance(5 * time.Minute)
	assert.Equal(1, f.svc.SweepMutes(ctx))
	assert.False(f.svc.IsUserMuted("g1", "u1"))
}

func TestPermanentMuteNeverExpires(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.TemporaryMute(ctx, req("u1", "mod1", time.Minute))
	require.NoError(t, err)
	_, err = f.svc.Mute(ctx, req("u1", "mod1", 0))
	require.NoError(t, err)

	f.clock.advance(24 * time.Hour)
	assert.Equal(0, f.svc.SweepMutes(ctx))
	mutes := f.svc.ActiveMutes("g1")
	require.Len(t, mutes, 1)
	assert.Nil(mutes[0].ExpiresAt)
}

func TestDuplicateActionNeedsConfirmation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	declining := &fixedPrompter{answer: false}
	f := newFixture(t, cooldown.New(declining))

	_, err := f.svc.Warn(ctx, req("u1", "mod1", 0))
	require.NoError(t, err)

	inf, err := f.svc.Kick(ctx, req("u1", "admin", 0))
	assert.Nil(inf)
	assert.ErrorIs(err, model.ErrConfirmationDeclined)
	assert.Equal(1, declining.asked)
	assert.Equal(0, f.platform.count("apply"))
	count, err := f.ledger.Count(ctx, "g1", ledger.Filter{})
	require.NoError(t, err)
	assert.Equal(1, count)

	// The same moderator is not asked.
	_, err = f.svc.Warn(ctx, req("u1", "mod1", 0))
	assert.NoError(err)
	assert.Equal(1, declining.asked)

	accepting := &fixedPrompter{answer: true}
	f = newFixture(t, cooldown.New(accepting))
	_, err = f.svc.Warn(ctx, req("u1", "mod1", 0))
	require.NoError(t, err)
	inf, err = f.svc.Kick(ctx, req("u1", "admin", 0))
	require.NoError(t, err)
	assert.Equal(model.Kick, inf.Type)
	assert.Equal(1, accepting.asked)
}

func TestApplyFailureKeepsInfraction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	f.platform.failApply = true

	inf, err := f.svc.TemporaryBan(ctx, req("u1", "mod1", time.Hour))
	require.NotNil(t, inf)
	var pe *model.PlatformError
	require.True(t, errors.As(err, &pe))
	assert.Equal("apply", pe.Op)

	stored, err := f.ledger.Infraction(ctx, "g1", inf.ID)
	require.NoError(t, err)
	assert.Equal(model.TemporaryBan, stored.Type)
	assert.Len(f.svc.ActiveBans("g1"), 1)
}

func TestInvalidRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.TemporaryBan(ctx, req("u1", "mod1", 0))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = f.svc.TemporaryMute(ctx, req("u1", "mod1", -time.Minute))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = f.svc.Warn(ctx, Request{GuildID: "g1", UserID: "u1"})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	f.platform.absent["stranger"] = true
	_, err = f.svc.Kick(ctx, req("u1", "stranger", 0))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	count, err := f.ledger.Count(ctx, "g1", ledger.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestLoadRestoresActiveRecords(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.TemporaryBan(ctx, req("u1", "mod1", time.Hour))
	require.NoError(t, err)
	_, err = f.svc.Mute(ctx, req("u2", "mod1", 0))
	require.NoError(t, err)

	reloaded := New(f.db, f.ledger, nil, f.platform, fakeConfig{settings: defaultSettings}, WithClock(f.clock.now))
	require.NoError(t, reloaded.Load(ctx))
	bans := reloaded.ActiveBans("g1")
	require.Len(t, bans, 1)
	assert.WithinDuration(f.clock.now().Add(time.Hour), bans[0].ExpiresAt, time.Second)
	assert.True(reloaded.IsUserMuted("g1", "u2"))
}

func TestFailedRevokeKeepsActiveRecord(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.Mute(ctx, req("u1", "mod1", 0))
	require.NoError(t, err)

	f.platform.failRevoke = true
	inf, err := f.svc.RevokeMute(ctx, "g1", "u1", "mod1", "appeal")
	assert.Nil(inf)
	var pe *model.PlatformError
	require.True(t, errors.As(err, &pe))
	assert.Equal("revoke", pe.Op)
	assert.True(f.svc.IsUserMuted("g1", "u1"))
	stored, err := infractions.GetMutes(f.db)
	require.NoError(t, err)
	assert.Len(stored, 1)

	f.platform.failRevoke = false
	inf, err = f.svc.RevokeMute(ctx, "g1", "u1", "mod1", "appeal")
	require.NoError(t, err)
	require.NotNil(t, inf)
	assert.Equal(model.Unmute, inf.Type)
	assert.False(f.svc.IsUserMuted("g1", "u1"))
	assert.Equal(1, f.platform.count("revoke"))

	_, err = f.svc.TemporaryBan(ctx, req("u2", "mod1", time.Hour))
	require.NoError(t, err)

	f.platform.failRevoke = true
	inf, err = f.svc.RevokeBan(ctx, "g1", "u2", "mod1", "appeal")
	assert.Nil(inf)
	assert.Error(err)
	assert.Len(f.svc.ActiveBans("g1"), 1)

	f.platform.failRevoke = false
	inf, err = f.svc.RevokeBan(ctx, "g1", "u2", "mod1", "appeal")
	require.NoError(t, err)
	require.NotNil(t, inf)
	assert.Equal(model.Unban, inf.Type)
	assert.Empty(f.svc.ActiveBans("g1"))
	assert.Equal(2, f.platform.count("revoke"))

	count, err := f.ledger.Count(ctx, "g1", ledger.Filter{Types: []model.InfractionType{model.Unmute, model.Unban}})
	require.NoError(t, err)
	assert.Equal(2, count)
}

func TestIndefiniteSanctionIsNotDowngraded(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.Mute(ctx, req("u1", "mod1", 0))
	require.NoError(t, err)
	gag, err := f.svc.Gag(ctx, req("u1", "mod1", 0))
	require.NoError(t, err)
	assert.NotNil(gag.ExpiresAt)
	_, err = f.svc.TemporaryMute(ctx, req("u1", "mod1", time.Hour))
	require.NoError(t, err)

	mutes := f.svc.ActiveMutes("g1")
	require.Len(t, mutes, 1)
	assert.Nil(mutes[0].ExpiresAt)

	_, err = f.svc.Ban(ctx, req("u2", "mod1", 0))
	require.NoError(t, err)
	tempBan, err := f.svc.TemporaryBan(ctx, req("u2", "mod1", time.Hour))
	require.NoError(t, err)
	assert.Equal(model.TemporaryBan, tempBan.Type)
	assert.Empty(f.svc.ActiveBans("g1"))

	f.clock.advance(2 * time.Hour)
	assert.Equal(0, f.svc.SweepMutes(ctx))
	assert.Equal(0, f.svc.SweepBans(ctx))
	assert.True(f.svc.IsUserMuted("g1", "u1"))
	banned, err := f.svc.IsUserBanned(ctx, "g1", "u2")
	require.NoError(t, err)
	assert.True(banned)
	assert.Equal(0, f.platform.count("revoke"))
}

func TestSystemActorRecordedOnExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.TemporaryMute(ctx, req("u1", "mod1", time.Minute))
	require.NoError(t, err)
	f.clock.advance(time.Minute)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			f.svc.SetSystemActor("bot")
		}
	}()
	assert.Equal(1, f.svc.SweepMutes(ctx))
	wg.Wait()

	f.svc.SetSystemActor("bot-user")
	_, err = f.svc.TemporaryBan(ctx, req("u2", "mod1", time.Minute))
	require.NoError(t, err)
	f.clock.advance(time.Minute)
	assert.Equal(1, f.svc.SweepBans(ctx))

	history, err := f.ledger.Infractions(ctx, "g1", ledger.Filter{Types: []model.InfractionType{model.Unmute, model.Unban}})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal("bot", history[0].IssuerID)
	assert.Equal("bot-user", history[1].IssuerID)
}
