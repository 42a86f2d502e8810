package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/KevinKickass/OpenCalibrationCore/internal/calibration"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS calibration_audit (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    operation TEXT NOT NULL,
    variable TEXT NOT NULL,
    payload TEXT NOT NULL,
    success INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT ''
);`

const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

// SQLiteStore keeps the audit log in a local database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ AuditStore = (*SQLiteStore)(nil)

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", path, err)
	}
	// modernc sqlite serialisiert Schreibzugriffe ohnehin
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create audit table in %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Record(ctx context.Context, ev calibration.AuditEvent) error {
	payload, err := encodeValues(ev.Values)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO calibration_audit(id, created_at, operation, variable, payload, success, error) VALUES(?, ?, ?, ?, ?, ?, ?)",
		ev.ID.String(), ev.Timestamp.UTC().Format(sqliteTimeLayout), string(ev.Operation),
		ev.Variable, string(payload), ev.Success, ev.Error)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]calibration.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, operation, variable, payload, success, error
		FROM calibration_audit
		WHERE (? = '' OR variable = ?)
		  AND (? = '' OR operation = ?)
		ORDER BY created_at DESC
		LIMIT ?`,
		filter.Variable, filter.Variable, string(filter.Operation), string(filter.Operation), filter.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []calibration.AuditEvent
	for rows.Next() {
		var (
			ev                 calibration.AuditEvent
			id, ts, op, values string
		)
		if err := rows.Scan(&id, &ts, &op, &ev.Variable, &values, &ev.Success, &ev.Error); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid audit id %q: %w", id, err)
		}
		if ev.Timestamp, err = time.Parse(sqliteTimeLayout, ts); err != nil {
			return nil, fmt.Errorf("invalid audit timestamp %q: %w", ts, err)
		}
		ev.Operation = calibration.Operation(op)
		if ev.Values, err = decodeValues([]byte(values)); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
