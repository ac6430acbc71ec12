// Package store persists the ambient command audit log in SQLite,
// following internal/database's connection and migration style. This
// is strictly an audit trail — who issued what command, when,
// with what result — never a substitute for live device state, which is
// never persisted.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fleethub/internal/metrics"
	"fleethub/pkg/fleet"

	_ "modernc.org/sqlite"
)

// AuditLog wraps a SQLite connection dedicated to command audit records.
type AuditLog struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the audit database at path and runs
// its migration.
func Open(ctx context.Context, path string) (*AuditLog, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	log := &AuditLog{conn: conn}
	if err := log.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return log, nil
}

func (l *AuditLog) migrate(ctx context.Context) error {
	_, err := l.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		correlation_id TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		method TEXT NOT NULL,
		error TEXT
	)`)
	if err != nil {
		return fmt.Errorf("migrate audit db: %w", err)
	}
	_, err = l.conn.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_entries(target_kind, target_id)`)
	if err != nil {
		return fmt.Errorf("migrate audit db index: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (l *AuditLog) Close() error {
	return l.conn.Close()
}

// Record inserts one audit entry, filling ID and CreatedAt if unset.
func (l *AuditLog) Record(ctx context.Context, entry fleet.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := l.conn.ExecContext(ctx,
		`INSERT INTO audit_entries (id, created_at, correlation_id, target_kind, target_id, method, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CreatedAt, entry.CorrelationID, entry.TargetKind, entry.TargetID, entry.Method, entry.Error,
	)
	if err != nil {
		metrics.IncAuditWrite("error")
		return fmt.Errorf("insert audit entry: %w", err)
	}
	metrics.IncAuditWrite("ok")
	return nil
}

// List returns up to limit audit entries for targetKind/targetID (either
// filter may be empty to match all), most recent first. limit<=0 means no
// limit.
func (l *AuditLog) List(ctx context.Context, targetKind, targetID string, limit int) ([]fleet.AuditEntry, error) {
	query := `SELECT id, created_at, correlation_id, target_kind, target_id, method, error FROM audit_entries WHERE 1=1`
	var args []interface{}
	if targetKind != "" {
		query += ` AND target_kind = ?`
		args = append(args, targetKind)
	}
	if targetID != "" {
		query += ` AND target_id = ?`
		args = append(args, targetID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []fleet.AuditEntry
	for rows.Next() {
		var e fleet.AuditEntry
		var errStr sql.NullString
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.CorrelationID, &e.TargetKind, &e.TargetID, &e.Method, &errStr); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Error = errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}
