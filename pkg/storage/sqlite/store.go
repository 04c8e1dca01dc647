package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/platinummonkey/enx-analytics/pkg/events"
	"github.com/sirupsen/logrus"
)

// ConsentKey is the analytics_kv row holding the sharing decision
const ConsentKey = "analytics_sharing_enabled"

// removeChunkSize keeps IN lists below SQLite's host parameter limit
const removeChunkSize = 500

var schema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS analytics_journal (
		seq      INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		payload  TEXT NOT NULL
	)`,
}

// Store is an on-device SQLite store. It persists the consent flag and
// journals pending analytics events.
type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

// Open opens (or creates) the database file at path
func Open(path string, log *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases coherent
	db.SetMaxOpenConns(1)

	store, err := NewStore(context.Background(), db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing database handle and creates the schema
func NewStore(ctx context.Context, db *sql.DB, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.New()
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create analytics schema: %w", err)
		}
	}
	return &Store{db: db, log: log}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Load implements consent.Store. A missing row means sharing was never
// enabled.
func (s *Store) Load(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM analytics_kv WHERE key = ?`, ConsentKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read consent: %w", err)
	}
	return value == "true", nil
}

// Save implements consent.Store
func (s *Store) Save(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		ConsentKey, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write consent: %w", err)
	}
	return nil
}

// Append implements batch.Journal
func (s *Store) Append(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analytics_journal (event_id, payload) VALUES (?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		event.ID().String(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to journal event: %w", err)
	}
	return nil
}

// Remove implements batch.Journal
func (s *Store) Remove(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(ids); start += removeChunkSize {
		end := start + removeChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id.String()
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := fmt.Sprintf(`DELETE FROM analytics_journal WHERE event_id IN (%s)`, placeholders)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to remove journalled events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal removal: %w", err)
	}
	return nil
}

// LoadEvents returns journalled events in arrival order. Rows that no longer
// decode into a valid event are deleted, since they can never be sent.
func (s *Store) LoadEvents(ctx context.Context) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, payload FROM analytics_journal ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var (
		result  []events.Event
		corrupt []string
	)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		var e events.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			s.log.WithError(err).WithField("event_id", id).Warn("Discarding corrupt journalled event")
			corrupt = append(corrupt, id)
			continue
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	rows.Close()

	for _, id := range corrupt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM analytics_journal WHERE event_id = ?`, id); err != nil {
			s.log.WithError(err).WithField("event_id", id).Warn("Failed to delete corrupt journal row")
		}
	}

	return result, nil
}

// Clear implements batch.Journal
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM analytics_journal`); err != nil {
		return fmt.Errorf("failed to clear journal: %w", err)
	}
	return nil
}

// Journal returns a batch.Journal view of the store
func (s *Store) Journal() *Journal {
	return &Journal{store: s}
}

// Journal adapts Store to batch.Journal. Store itself implements
// consent.Store, whose Load has a different signature.
type Journal struct {
	store *Store
}

// Append implements batch.Journal
func (j *Journal) Append(ctx context.Context, event events.Event) error {
	return j.store.Append(ctx, event)
}

// Remove implements batch.Journal
func (j *Journal) Remove(ctx context.Context, ids []uuid.UUID) error {
	return j.store.Remove(ctx, ids)
}

// Load implements batch.Journal
func (j *Journal) Load(ctx context.Context) ([]events.Event, error) {
	return j.store.LoadEvents(ctx)
}

// Clear implements batch.Journal
func (j *Journal) Clear(ctx context.Context) error {
	return j.store.Clear(ctx)
}
