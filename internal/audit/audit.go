// Package audit implements the append-only local ledger of commit and
// plugin-invocation outcomes: an observability convenience the daemon
// never depends on for its own startup, queried by the
// observe.audit-log operation and the weaverctl audit subcommand.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Kind names the event class a Record describes.
type Kind string

const (
	KindCommit              Kind = "Commit"
	KindPluginInvocation    Kind = "PluginInvocation"
	KindVerificationFailure Kind = "VerificationFailure"
)

// Record is one ledger entry.
type Record struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	Detail    json.RawMessage
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	detail     TEXT NOT NULL
);
`

// Ledger wraps a SQLite-backed append-only audit log.
type Ledger struct {
	db *sql.DB
}

// Open creates the parent directory if needed, opens (or creates) the
// SQLite database at path, and ensures the schema exists.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("audit: create ledger directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append writes one record, stamping it with a fresh uuid that it
// returns. It is best-effort from the caller's perspective: a failure
// here must never block a commit or plugin invocation that already
// succeeded.
func (l *Ledger) Append(ctx context.Context, kind Kind, detail interface{}) (string, error) {
	data, err := json.Marshal(detail)
	if err != nil {
		return "", fmt.Errorf("audit: marshal detail: %w", err)
	}

	id := uuid.New().String()
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, kind, timestamp, detail) VALUES (?, ?, ?, ?)`,
		// Fixed-width fraction so text ordering in Recent is chronological.
		id, string(kind), time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), string(data),
	)
	if err != nil {
		return "", fmt.Errorf("audit: append %s record: %w", kind, err)
	}
	return id, nil
}

// Recent returns up to limit records, most recent first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, kind, timestamp, detail FROM audit_log ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts, detail string
		if err := rows.Scan(&rec.ID, &rec.Kind, &ts, &detail); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("audit: parse timestamp %q: %w", ts, err)
		}
		rec.Timestamp = parsed
		rec.Detail = json.RawMessage(detail)
		out = append(out, rec)
	}
	return out, rows.Err()
}
