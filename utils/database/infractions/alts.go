package infractions

import (
	"discord-moderation/model"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// AddAltPair stores the link between userID and altID in both directions.
func AddAltPair(db *sqlx.DB, userID, altID, staffMemberID string, registeredAt time.Time) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	query := `INSERT OR REPLACE INTO alt_accounts (user_id, alt_id, staff_member_id, registered_at)
			  VALUES (:user_id, :alt_id, :staff_member_id, :registered_at)`
	edges := []model.AltAccount{
		{UserID: userID, AltID: altID, StaffMemberID: staffMemberID, RegisteredAt: registeredAt},
		{UserID: altID, AltID: userID, StaffMemberID: staffMemberID, RegisteredAt: registeredAt},
	}
	for _, edge := range edges {
		if _, err := tx.NamedExec(query, edge); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert alt link %s -> %s: %w", edge.UserID, edge.AltID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alt link: %w", err)
	}
	return nil
}

// DeleteAltPairs removes the links between each pair, both directions, in one transaction.
func DeleteAltPairs(db *sqlx.DB, pairs [][2]string) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	query := `DELETE FROM alt_accounts WHERE (user_id = ? AND alt_id = ?) OR (user_id = ? AND alt_id = ?)`
	for _, p := range pairs {
		if _, err := tx.Exec(query, p[0], p[1], p[1], p[0]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to delete alt link %s <-> %s: %w", p[0], p[1], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alt link removal: %w", err)
	}
	return nil
}

// GetAllAltAccounts retrieves every stored alt edge ordered by owner.
func GetAllAltAccounts(db *sqlx.DB) ([]model.AltAccount, error) {
	var edges []model.AltAccount
	err := db.Select(&edges, "SELECT * FROM alt_accounts ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to get alt accounts: %w", err)
	}
	return edges, nil
}
