package infractions

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Init opens the moderation database and ensures all necessary tables are created.
func Init(dbPath string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// sqlite serializes writers anyway, and an in-memory database only exists on one connection.
	db.SetMaxOpenConns(1)

	schemas := []string{
		`CREATE TABLE IF NOT EXISTS infractions (
	          infraction_id INTEGER PRIMARY KEY AUTOINCREMENT,
	          guild_id TEXT NOT NULL,
	          user_id TEXT NOT NULL,
	          issuer_id TEXT NOT NULL,
	          infraction_type TEXT NOT NULL,
	          reason TEXT NOT NULL DEFAULT '',
	          issued_at DATETIME NOT NULL,
	          expires_at DATETIME,
	          rule_id INTEGER,
	          rule_text TEXT NOT NULL DEFAULT ''
	      );`,
		`CREATE INDEX IF NOT EXISTS idx_infractions_guild ON infractions (guild_id);`,
		`CREATE TABLE IF NOT EXISTS temporary_bans (
	          guild_id TEXT NOT NULL,
	          user_id TEXT NOT NULL,
	          expires_at DATETIME NOT NULL,
	          PRIMARY KEY (guild_id, user_id)
	      );`,
		`CREATE TABLE IF NOT EXISTS mutes (
	          guild_id TEXT NOT NULL,
	          user_id TEXT NOT NULL,
	          expires_at DATETIME,
	          PRIMARY KEY (guild_id, user_id)
	      );`,
		`CREATE TABLE IF NOT EXISTS alt_accounts (
	          user_id TEXT NOT NULL,
	          alt_id TEXT NOT NULL,
	          staff_member_id TEXT NOT NULL,
	          registered_at DATETIME NOT NULL,
	          PRIMARY KEY (user_id, alt_id)
	      );`,
	}
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	// Columns added after the first release
	alterStatements := []string{
		`ALTER TABLE infractions ADD COLUMN additional_information TEXT NOT NULL DEFAULT ''`,
	}
	for _, stmt := range alterStatements {
		_, err = db.Exec(stmt)
		if err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			db.Close()
			return nil, fmt.Errorf("failed to execute ALTER statement %s: %w", stmt, err)
		}
	}

	return db, nil
}
