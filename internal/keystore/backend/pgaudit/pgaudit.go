// Package pgaudit records an append-only audit trail of key lifecycle
// events (generate, import, rotate, delete) to PostgreSQL, independent
// of the keystore's own JSON persistence file.
package pgaudit

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Event is one recorded key lifecycle event.
type Event struct {
	KeyID     string
	Action    string // "generate" | "import" | "rotate" | "delete"
	Detail    string
	Timestamp time.Time
}

// Store persists Events to a Postgres table.
type Store struct {
	db *sql.DB
}

// Config configures the Postgres connection.
type Config struct {
	Host, User, Password, DBName, SSLMode string
	Port                                  int
}

// Open connects to Postgres, verifies it with a ping, and ensures the
// audit table exists.
func Open(cfg Config) (*Store, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("pgaudit: connecting: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pgaudit: ping: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS key_audit_log (
		id SERIAL PRIMARY KEY,
		key_id VARCHAR(128) NOT NULL,
		action VARCHAR(32) NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_key_audit_log_key_id ON key_audit_log(key_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one audit event.
func (s *Store) Record(e Event) error {
	const query = `
		INSERT INTO key_audit_log (key_id, action, detail, recorded_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.Exec(query, e.KeyID, e.Action, e.Detail, e.Timestamp.UTC())
	return err
}

// History returns every recorded event for keyID, oldest first.
func (s *Store) History(keyID string) ([]Event, error) {
	const query = `
		SELECT key_id, action, detail, recorded_at
		FROM key_audit_log
		WHERE key_id = $1
		ORDER BY recorded_at ASC
	`
	rows, err := s.db.Query(query, keyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.KeyID, &e.Action, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
