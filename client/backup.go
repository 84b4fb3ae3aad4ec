package client

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// BackupStore is the agent's local durable side-store. Every content
// mutation is mirrored here keyed by page, independently of the live
// channel, and cleared once the server confirms a save. Entries are
// valid for recovery only within a 24 hour freshness window.
type BackupStore struct {
	db *sql.DB
}

const backupFreshness = 24 * time.Hour

func NewBackupStore(dbPath string) (*BackupStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS page_backups (
		page_id TEXT PRIMARY KEY,
		content BLOB NOT NULL,
		saved_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &BackupStore{db: db}, nil
}

func (b *BackupStore) Close() error {
	return b.db.Close()
}

func (b *BackupStore) Put(pageId string, content []byte) error {
	_, err := b.db.Exec(`
		INSERT INTO page_backups (page_id, content, saved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET
			content = excluded.content,
			saved_at = excluded.saved_at
	`, pageId, content, time.Now().UnixMilli())
	return err
}

// Get returns the backed-up content for a page. Entries older than the
// freshness window are treated as absent.
func (b *BackupStore) Get(pageId string) ([]byte, bool, error) {
	var content []byte
	var savedAt int64
	err := b.db.QueryRow(
		"SELECT content, saved_at FROM page_backups WHERE page_id = ?",
		pageId,
	).Scan(&content, &savedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if time.Since(time.UnixMilli(savedAt)) > backupFreshness {
		return nil, false, nil
	}
	return content, true, nil
}

func (b *BackupStore) Clear(pageId string) error {
	_, err := b.db.Exec("DELETE FROM page_backups WHERE page_id = ?", pageId)
	return err
}

// PruneExpired drops entries past the freshness window.
func (b *BackupStore) PruneExpired() error {
	cutoff := time.Now().Add(-backupFreshness).UnixMilli()
	_, err := b.db.Exec("DELETE FROM page_backups WHERE saved_at < ?", cutoff)
	return err
}
