package alerts

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SettingsStore persists the alert settings document across restarts.
// Load returns (nil, nil) when nothing has been persisted yet.
type SettingsStore interface {
	Load() (*Update, error)
	Save(doc Document) error
}

// JSONStore persists settings as a single pretty-printed JSON file.
type JSONStore struct {
	path string
}

// NewJSONStore creates a store writing to path. The parent directory must
// exist by the time Save is first called.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) Load() (*Update, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	var u Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", s.path, err)
	}
	return &u, nil
}

// Save writes the document atomically: a temp file in the same directory is
// renamed over the target so a crash mid-write never leaves a torn file.
func (s *JSONStore) Save(doc Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

// SQLiteStore persists the settings document as a single row in a SQLite
// database, for deployments that already keep node-local state in one.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	const schema = `
		CREATE TABLE IF NOT EXISTS alert_settings (
			id  INTEGER PRIMARY KEY CHECK (id = 1),
			doc TEXT NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load() (*Update, error) {
	var raw string
	err := s.db.QueryRow(`SELECT doc FROM alert_settings WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings row: %w", err)
	}
	var u Update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("parse settings row: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) Save(doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO alert_settings (id, doc) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`, string(raw))
	if err != nil {
		return fmt.Errorf("write settings row: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
