package infractions

import (
	"discord-moderation/model"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ReplaceTemporaryBan removes any existing temporary ban for the user and inserts ban in one transaction.
func ReplaceTemporaryBan(db *sqlx.DB, ban model.ActiveBan) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM temporary_bans WHERE guild_id = ? AND user_id = ?", ban.GuildID, ban.UserID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear temporary ban for user %s in guild %s: %w", ban.UserID, ban.GuildID, err)
	}
	query := `INSERT INTO temporary_bans (guild_id, user_id, expires_at) VALUES (:guild_id, :user_id, :expires_at)`
	if _, err := tx.NamedExec(query, ban); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert temporary ban for user %s in guild %s: %w", ban.UserID, ban.GuildID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit temporary ban: %w", err)
	}
	return nil
}

// DeleteTemporaryBan deletes the temporary ban of a user and reports whether one existed.
func DeleteTemporaryBan(db *sqlx.DB, guildID, userID string) (bool, error) {
	result, err := db.Exec("DELETE FROM temporary_bans WHERE guild_id = ? AND user_id = ?", guildID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete temporary ban for user %s in guild %s: %w", userID, guildID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected for temporary ban of user %s: %w", userID, err)
	}
	return rowsAffected > 0, nil
}

// GetTemporaryBans retrieves every active temporary ban.
func GetTemporaryBans(db *sqlx.DB) ([]model.ActiveBan, error) {
	var bans []model.ActiveBan
	err := db.Select(&bans, "SELECT * FROM temporary_bans")
	if err != nil {
		return nil, fmt.Errorf("failed to get temporary bans: %w", err)
	}
	return bans, nil
}

// ReplaceMute removes any existing mute for the user and inserts mute in one transaction.
func ReplaceMute(db *sqlx.DB, mute model.ActiveMute) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM mutes WHERE guild_id = ? AND user_id = ?", mute.GuildID, mute.UserID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear mute for user %s in guild %s: %w", mute.UserID, mute.GuildID, err)
	}
	query := `INSERT INTO mutes (guild_id, user_id, expires_at) VALUES (:guild_id, :user_id, :expires_at)`
	if _, err := tx.NamedExec(query, mute); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert mute for user %s in guild %s: %w", mute.UserID, mute.GuildID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mute: %w", err)
	}
	return nil
}

// DeleteMute deletes the mute of a user and reports whether one existed.
func DeleteMute(db *sqlx.DB, guildID, userID string) (bool, error) {
	result, err := db.Exec("DELETE FROM mutes WHERE guild_id = ? AND user_id = ?", guildID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete mute for user %s in guild %s: %w", userID, guildID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected for mute of user %s: %w", userID, err)
	}
	return rowsAffected > 0, nil
}

// GetMutes retrieves every active mute.
func GetMutes(db *sqlx.DB) ([]model.ActiveMute, error) {
	var mutes []model.ActiveMute
	err := db.Select(&mutes, "SELECT * FROM mutes")
	if err != nil {
		return nil, fmt.Errorf("failed to get mutes: %w", err)
	}
	return mutes, nil
}
