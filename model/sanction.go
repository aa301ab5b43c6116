package model

import "time"

// ActiveBan is a currently active ban that lifts itself at ExpiresAt.
// At most one exists per (GuildID, UserID).
type ActiveBan struct {
	GuildID   string    `db:"guild_id"`
	UserID    string    `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
}

// Expired reports whether the ban is due for revocation at now.
func (b ActiveBan) Expired(now time.Time) bool {
	return !b.ExpiresAt.After(now)
}

// ActiveMute is a currently applied mute. A nil ExpiresAt means the mute is indefinite.
// At most one exists per (GuildID, UserID).
type ActiveMute struct {
	GuildID   string     `db:"guild_id"`
	UserID    string     `db:"user_id"`
	ExpiresAt *time.Time `db:"expires_at"`
}

// Expired reports whether the mute is due for revocation at now.
func (m ActiveMute) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// AltAccount is one direction of a link between a user and an alternate account.
type AltAccount struct {
	UserID        string    `db:"user_id"`
	AltID         string    `db:"alt_id"`
	StaffMemberID string    `db:"staff_member_id"`
	RegisteredAt  time.Time `db:"registered_at"`
}

// Member is the slice of a guild member the engine needs.
type Member struct {
	UserID string
	Roles  []string
}
