package calllog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initCallSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initCallSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			vendor TEXT NOT NULL,
			vendor_call_id TEXT NOT NULL DEFAULT '',
			target TEXT NOT NULL,
			target_label TEXT NOT NULL DEFAULT '',
			objective TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			failure_code TEXT NOT NULL DEFAULT '',
			failure_detail TEXT NOT NULL DEFAULT '',
			turns INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NULL,
			ended_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_created ON calls (created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init call schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveCall(ctx context.Context, record Record) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (
			id, vendor, vendor_call_id, target, target_label, objective, status,
			failure_code, failure_detail, turns, created_at, updated_at, started_at, ended_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
		)
		ON CONFLICT (id) DO UPDATE SET
			vendor=EXCLUDED.vendor,
			vendor_call_id=EXCLUDED.vendor_call_id,
			target=EXCLUDED.target,
			target_label=EXCLUDED.target_label,
			objective=EXCLUDED.objective,
			status=EXCLUDED.status,
			failure_code=EXCLUDED.failure_code,
			failure_detail=EXCLUDED.failure_detail,
			turns=EXCLUDED.turns,
			updated_at=EXCLUDED.updated_at,
			started_at=EXCLUDED.started_at,
			ended_at=EXCLUDED.ended_at`,
		record.ID,
		record.Vendor,
		record.VendorCallID,
		record.Target,
		record.TargetLabel,
		record.Objective,
		record.Status,
		record.FailureCode,
		record.FailureDetail,
		record.Turns,
		record.CreatedAt,
		record.UpdatedAt,
		record.StartedAt,
		record.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert call: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCall(ctx context.Context, callID string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, vendor, vendor_call_id, target, target_label, objective, status,
		        failure_code, failure_detail, turns, created_at, updated_at, started_at, ended_at
		   FROM calls WHERE id=$1`,
		callID,
	)
	record, err := scanCall(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Record{}, ErrStoreNotFound
		}
		return Record{}, fmt.Errorf("get call: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) RecentCalls(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, vendor, vendor_call_id, target, target_label, objective, status,
		        failure_code, failure_detail, turns, created_at, updated_at, started_at, ended_at
		   FROM calls ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		record, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call rows: %w", err)
	}
	return out, nil
}

func scanCall(row pgx.Row) (Record, error) {
	var (
		record          Record
		startedNullable *time.Time
		endedNullable   *time.Time
	)
	if err := row.Scan(
		&record.ID,
		&record.Vendor,
		&record.VendorCallID,
		&record.Target,
		&record.TargetLabel,
		&record.Objective,
		&record.Status,
		&record.FailureCode,
		&record.FailureDetail,
		&record.Turns,
		&record.CreatedAt,
		&record.UpdatedAt,
		&startedNullable,
		&endedNullable,
	); err != nil {
		return Record{}, err
	}
	record.StartedAt = startedNullable
	record.EndedAt = endedNullable
	return record, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
