package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SchemaVersion is recorded in the metadata table on migration.
const SchemaVersion = "1"

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		source_kind TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		raw_text TEXT NOT NULL,
		uploaded_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS papers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		kind TEXT NOT NULL,
		duration_hours REAL NOT NULL,
		total_marks INTEGER NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		paper_id INTEGER NOT NULL,
		student_id TEXT NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		evaluation_type TEXT NOT NULL,
		total_awarded INTEGER NOT NULL,
		percentage REAL NOT NULL,
		result TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (paper_id) REFERENCES papers(id)
	);

	CREATE INDEX IF NOT EXISTS evaluations_paper ON evaluations(paper_id);

	CREATE TABLE IF NOT EXISTS feedback_sessions (
		id TEXT PRIMARY KEY,
		origin_feedback TEXT NOT NULL,
		teacher_script TEXT NOT NULL DEFAULT '',
		student_script TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS chat_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES feedback_sessions(id)
	);

	CREATE INDEX IF NOT EXISTS chat_turns_session ON chat_turns(session_id);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.SetMetadata("schema_version", SchemaVersion)
}
