package config

import (
	"context"
	"discord-moderation/model"
	"fmt"
	"sync"
)

// Provider serves per-guild settings and derives privilege tiers from member roles.
type Provider struct {
	cfg *Config

	mu       sync.RWMutex
	resolver model.MemberResolver
}

// NewProvider creates a provider. PrivilegeTier needs a resolver, set with SetResolver.
func NewProvider(cfg *Config) *Provider {
	return &Provider{cfg: cfg}
}

// SetResolver sets the member directory used to read roles.
func (p *Provider) SetResolver(r model.MemberResolver) {
	p.mu.Lock()
	p.resolver = r
	p.mu.Unlock()
}

// Guild returns the guild's settings, falling back to guild_defaults for anything unset.
func (p *Provider) Guild(guildID string) model.GuildSettings {
	def := p.cfg.GuildDefaults
	g, ok := p.cfg.Guilds[guildID]
	if !ok {
		g = def
	}

	settings := model.GuildSettings{
		GagDuration:              g.GagDuration,
		MaxModeratorMuteDuration: g.MaxModeratorMuteDuration,
		UnrestrictedTier:         g.UnrestrictedTier,
		MuteRoleID:               g.MuteRoleID,
		TierRoles:                g.TierRoles,
	}
	if settings.GagDuration == 0 {
		settings.GagDuration = def.GagDuration
	}
	if settings.MaxModeratorMuteDuration == 0 {
		settings.MaxModeratorMuteDuration = def.MaxModeratorMuteDuration
	}
	if settings.UnrestrictedTier == 0 {
		settings.UnrestrictedTier = def.UnrestrictedTier
	}
	if settings.MuteRoleID == "" {
		settings.MuteRoleID = def.MuteRoleID
	}
	if settings.TierRoles == nil {
		settings.TierRoles = def.TierRoles
	}
	return settings
}

// PrivilegeTier returns the highest tier granted by any of the member's roles.
// Users without a tiered role, or outside the guild, are tier 0.
func (p *Provider) PrivilegeTier(ctx context.Context, guildID, userID string) (int, error) {
	p.mu.RLock()
	resolver := p.resolver
	p.mu.RUnlock()
	if resolver == nil {
		return 0, fmt.Errorf("no member resolver configured")
	}

	member, err := resolver.ResolveMember(ctx, guildID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve member %s: %w", userID, err)
	}
	if member == nil {
		return 0, nil
	}

	tiers := p.Guild(guildID).TierRoles
	tier := 0
	for _, role := range member.Roles {
		if t, ok := tiers[role]; ok && t > tier {
			tier = t
		}
	}
	return tier, nil
}
