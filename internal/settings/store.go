// Package settings persists the application's single settings record in
// sqlite.
package settings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultMemberSheetYear is the year before the first archive ran
const DefaultMemberSheetYear = 2014

// Settings is the singleton record
type Settings struct {
	// MemberSheetYear is the year the live member sheet covers; archiving
	// copies it away when the calendar year moves on
	MemberSheetYear int       `json:"member_sheet_year"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			member_sheet_year INTEGER NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		fmt.Sprintf(`INSERT OR IGNORE INTO settings (id, member_sheet_year) VALUES (1, %d)`, DefaultMemberSheetYear),
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

// Get returns the settings record
func (s *Store) Get(ctx context.Context) (*Settings, error) {
	var out Settings
	err := s.db.QueryRowContext(ctx,
		`SELECT member_sheet_year, updated_at FROM settings WHERE id = 1`,
	).Scan(&out.MemberSheetYear, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return &out, nil
}

// Save overwrites the settings record
func (s *Store) Save(ctx context.Context, settings *Settings) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE settings SET member_sheet_year = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1`,
		settings.MemberSheetYear,
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
