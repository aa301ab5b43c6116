package model

import "time"

// InfractionType is the kind of disciplinary action an infraction records.
type InfractionType string

const (
	Warning         InfractionType = "warning"
	MessageDeletion InfractionType = "message_deletion"
	Gag             InfractionType = "gag"
	TemporaryMute   InfractionType = "temporary_mute"
	Mute            InfractionType = "mute"
	Kick            InfractionType = "kick"
	TemporaryBan    InfractionType = "temporary_ban"
	Ban             InfractionType = "ban"

	// Revocation records, written when a mute or ban is lifted.
	Unmute InfractionType = "unmute"
	Unban  InfractionType = "unban"
)

var infractionTypes = map[InfractionType]bool{
	Warning: true, MessageDeletion: true, Gag: true, TemporaryMute: true, Mute: true,
	Kick: true, TemporaryBan: true, Ban: true, Unmute: true, Unban: true,
}

// Valid reports whether t is a known infraction type.
func (t InfractionType) Valid() bool {
	return infractionTypes[t]
}

// IsTemporal reports whether infractions of this type carry an expiration time.
func (t InfractionType) IsTemporal() bool {
	return t == Gag || t == TemporaryMute || t == TemporaryBan
}

// IsMute reports whether the type silences the member (gag, temporary or permanent mute).
func (t InfractionType) IsMute() bool {
	return t == Gag || t == TemporaryMute || t == Mute
}

// IsBan reports whether the type removes the member from the guild until lifted.
func (t InfractionType) IsBan() bool {
	return t == TemporaryBan || t == Ban
}

// Infraction is a single entry of the infraction ledger.
// The database table is named 'infractions'.
type Infraction struct {
	ID                    int64          `db:"infraction_id"` // Primary Key, Auto-increment
	GuildID               string         `db:"guild_id"`
	UserID                string         `db:"user_id"`
	IssuerID              string         `db:"issuer_id"`
	Type                  InfractionType `db:"infraction_type"`
	Reason                string         `db:"reason"`
	IssuedAt              time.Time      `db:"issued_at"`
	ExpiresAt             *time.Time     `db:"expires_at"` // nil for non-temporal types
	RuleID                *int64         `db:"rule_id"`
	RuleText              string         `db:"rule_text"`
	AdditionalInformation string         `db:"additional_information"`
}

// Duration returns how long a temporal infraction lasts, or zero when it has no expiration.
func (i Infraction) Duration() time.Duration {
	if i.ExpiresAt == nil {
		return 0
	}
	return i.ExpiresAt.Sub(i.IssuedAt)
}

// HotInfraction pairs a freshly recorded infraction with the time it was recorded.
// It lives only in memory.
type HotInfraction struct {
	Infraction Infraction
	RecordedAt time.Time
}
