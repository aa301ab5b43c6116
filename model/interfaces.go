package model

import (
	"context"
	"time"
)

// MemberResolver looks members up in a guild's member directory.
// A nil member with a nil error means the user is not in the guild.
type MemberResolver interface {
	ResolveMember(ctx context.Context, guildID, userID string) (*Member, error)
}

// Notifier delivers private notices to users.
type Notifier interface {
	SendPrivateNotice(ctx context.Context, userID, content string) error
}

// Platform applies and lifts sanctions on the chat platform.
type Platform interface {
	MemberResolver
	Notifier
	ApplySanction(ctx context.Context, guildID, userID string, t InfractionType, reason string) error
	RevokeSanction(ctx context.Context, guildID, userID string, t InfractionType, reason string) error
	IsBanned(ctx context.Context, guildID, userID string) (bool, error)
}

// GuildSettings holds the per-guild moderation settings.
type GuildSettings struct {
	GagDuration              time.Duration
	MaxModeratorMuteDuration time.Duration
	// Moderators with a tier below UnrestrictedTier get their temporary mutes clamped
	// to MaxModeratorMuteDuration.
	UnrestrictedTier int
	MuteRoleID       string
	TierRoles        map[string]int
}

// ConfigProvider provides per-guild settings and privilege tiers.
type ConfigProvider interface {
	Guild(guildID string) GuildSettings
	PrivilegeTier(ctx context.Context, guildID, userID string) (int, error)
}
