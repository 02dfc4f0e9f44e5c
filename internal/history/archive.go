package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zapgem/internal/domain"

	_ "modernc.org/sqlite"
)

// Archive is an optional local mirror of exchanged turns, keyed by sender
// JID. It is append-only: rows are only ever inserted, never rewritten, so
// concurrent requests cannot lose each other's contribution.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewArchive opens (and if needed creates) the sqlite archive at dbPath.
func NewArchive(dbPath string, logger *slog.Logger) (*Archive, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create archive directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open archive: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	a := &Archive{db: db, logger: logger}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive migration failed: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		jid        TEXT NOT NULL,
		role       TEXT NOT NULL,
		text       TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_jid ON turns(jid, created_at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Append records one turn. Atomic insert only; there is no read-modify-write
// cycle to interleave.
func (a *Archive) Append(ctx context.Context, jid string, turn domain.Turn) error {
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO turns (jid, role, text, created_at) VALUES (?, ?, ?, ?)`,
		jid, string(turn.Role), turn.Text, ts,
	)
	if err != nil {
		return fmt.Errorf("archive append: %w", err)
	}
	return nil
}

// Recent returns up to n of the newest turns for jid, oldest first.
func (a *Archive) Recent(ctx context.Context, jid string, n int) (domain.History, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT role, text, created_at FROM turns WHERE jid = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		jid, n,
	)
	if err != nil {
		return nil, fmt.Errorf("archive query: %w", err)
	}
	defer rows.Close()

	var turns domain.History
	for rows.Next() {
		var t domain.Turn
		var role string
		if err := rows.Scan(&role, &t.Text, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("archive scan: %w", err)
		}
		t.Role = domain.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive rows: %w", err)
	}

	// Query is newest-first for the LIMIT; flip back to chronological.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}
