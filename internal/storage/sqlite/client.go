package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/draftwise/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serialises writers; version checks handle the rest.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		owner_id TEXT,
		template_ref TEXT,
		form_data TEXT NOT NULL DEFAULT '{}',
		generated_sections TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'draft',
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS reference_docs (
		id TEXT PRIMARY KEY,
		scope_id TEXT NOT NULL,
		title TEXT,
		source_type TEXT,
		status TEXT NOT NULL,
		error TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_references_scope ON reference_docs(scope_id);

	CREATE TABLE IF NOT EXISTS reference_chunks (
		id TEXT PRIMARY KEY,
		reference_id TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_reference ON reference_chunks(reference_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_scope ON reference_chunks(scope_id);

	CREATE TABLE IF NOT EXISTS retrieval_logs (
		id TEXT PRIMARY KEY,
		scope_id TEXT NOT NULL,
		query TEXT NOT NULL,
		retrieved_context TEXT NOT NULL,
		chunk_ids TEXT NOT NULL DEFAULT '[]',
		answer TEXT,
		created_at INTEGER NOT NULL,
		answered_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_retrieval_scope ON retrieval_logs(scope_id);
	CREATE INDEX IF NOT EXISTS idx_retrieval_answered ON retrieval_logs(answered_at);

	CREATE TABLE IF NOT EXISTS evaluation_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		log_id TEXT NOT NULL,
		context_similarity REAL,
		lexical_overlap REAL,
		classification TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (log_id) REFERENCES retrieval_logs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_eval_log ON evaluation_results(log_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}
