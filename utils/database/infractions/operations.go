package infractions

import (
	"discord-moderation/model"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// AddInfraction inserts a new infraction and returns the ID assigned by the database.
func AddInfraction(db *sqlx.DB, record model.Infraction) (int64, error) {
	query := `INSERT INTO infractions (guild_id, user_id, issuer_id, infraction_type, reason, issued_at, expires_at, rule_id, rule_text, additional_information)
			  VALUES (:guild_id, :user_id, :issuer_id, :infraction_type, :reason, :issued_at, :expires_at, :rule_id, :rule_text, :additional_information)`

	result, err := db.NamedExec(query, record)
	if err != nil {
		return 0, fmt.Errorf("failed to insert infraction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// UpdateInfraction overwrites every mutable column of an existing infraction.
func UpdateInfraction(db *sqlx.DB, record model.Infraction) error {
	query := `UPDATE infractions SET user_id = :user_id, issuer_id = :issuer_id, infraction_type = :infraction_type,
			  reason = :reason, issued_at = :issued_at, expires_at = :expires_at, rule_id = :rule_id,
			  rule_text = :rule_text, additional_information = :additional_information
			  WHERE infraction_id = :infraction_id`

	result, err := db.NamedExec(query, record)
	if err != nil {
		return fmt.Errorf("failed to update infraction %d: %w", record.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for infraction %d: %w", record.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no infraction found with id %d: %w", record.ID, model.ErrNotFound)
	}
	return nil
}

// GetInfractionsByGuildID retrieves every infraction of a guild ordered by ID.
func GetInfractionsByGuildID(db *sqlx.DB, guildID string) ([]model.Infraction, error) {
	var records []model.Infraction
	query := "SELECT * FROM infractions WHERE guild_id = ? ORDER BY infraction_id"
	err := db.Select(&records, query, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get infractions for guild %s: %w", guildID, err)
	}
	return records, nil
}

// DeleteInfractionByID deletes an infraction by its primary key.
func DeleteInfractionByID(db *sqlx.DB, id int64) error {
	query := "DELETE FROM infractions WHERE infraction_id = ?"
	result, err := db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete infraction by id %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for infraction id %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no infraction found with id %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// DeleteInfractionsByIDs deletes a batch of infractions in a single transaction.
func DeleteInfractionsByIDs(db *sqlx.DB, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Stay under sqlite's bound-variable limit.
	const batchSize = 500
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		query, args, err := sqlx.In("DELETE FROM infractions WHERE infraction_id IN (?)", ids[start:end])
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to build delete query: %w", err)
		}
		if _, err := tx.Exec(tx.Rebind(query), args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to delete %d infractions: %w", len(ids), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit infraction deletion: %w", err)
	}
	return nil
}
