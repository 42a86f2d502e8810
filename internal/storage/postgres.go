package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KevinKickass/OpenCalibrationCore/internal/calibration"
	"github.com/KevinKickass/OpenCalibrationCore/internal/config"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS calibration_audit (
	id          UUID PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL,
	operation   TEXT NOT NULL,
	variable    TEXT NOT NULL,
	payload     JSONB NOT NULL,
	success     BOOLEAN NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS calibration_audit_variable_idx ON calibration_audit (variable, created_at DESC);
`

type PostgresClient struct {
	pool *pgxpool.Pool
}

var _ AuditStore = (*PostgresClient)(nil)

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

// Record stores one audit event
func (p *PostgresClient) Record(ctx context.Context, ev calibration.AuditEvent) error {
	payload, err := encodeValues(ev.Values)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO calibration_audit (id, created_at, operation, variable, payload, success, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.Timestamp, string(ev.Operation), ev.Variable, payload, ev.Success, ev.Error)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the newest events first
func (p *PostgresClient) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]calibration.AuditEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, created_at, operation, variable, payload, success, error
		FROM calibration_audit
		WHERE ($1 = '' OR variable = $1)
		  AND ($2 = '' OR operation = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, filter.Variable, string(filter.Operation), filter.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (calibration.AuditEvent, error) {
		var (
			ev      calibration.AuditEvent
			op      string
			payload []byte
		)
		if err := row.Scan(&ev.ID, &ev.Timestamp, &op, &ev.Variable, &payload, &ev.Success, &ev.Error); err != nil {
			return ev, err
		}
		ev.Operation = calibration.Operation(op)
		values, err := decodeValues(payload)
		ev.Values = values
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit events: %w", err)
	}
	return events, nil
}
