package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend keeps records in the versioned_records jsonb table.
type PostgresBackend struct {
	db *pgxpool.Pool
}

func NewPostgresBackend(db *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (p *PostgresBackend) Get(ctx context.Context, key string) (*Record, error) {
	row := p.db.QueryRow(ctx, `SELECT key, fields, version, updated_at FROM versioned_records WHERE key = $1`, key)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, wrap("get", key, err)
	}
	return rec, nil
}

func (p *PostgresBackend) Create(ctx context.Context, key string, fields Fields) (*Record, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, newError(CodeValidation, "create", key, fmt.Errorf("encode fields: %w", err))
	}
	row := p.db.QueryRow(ctx, `INSERT INTO versioned_records (key, fields, version, updated_at)
		VALUES ($1, $2::jsonb, 1, now())
		RETURNING key, fields, version, updated_at`, key, payload)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, wrap("create", key, err)
	}
	return rec, nil
}

// UpdateIfVersion merges with jsonb concatenation, so fields not named in updates are kept.
func (p *PostgresBackend) UpdateIfVersion(ctx context.Context, key string, expectedVersion int64, updates Fields) (*Record, error) {
	payload, err := json.Marshal(updates)
	if err != nil {
		return nil, newError(CodeValidation, "update", key, fmt.Errorf("encode fields: %w", err))
	}
	row := p.db.QueryRow(ctx, `UPDATE versioned_records
		SET fields = fields || $3::jsonb, version = version + 1, updated_at = now()
		WHERE key = $1 AND version = $2
		RETURNING key, fields, version, updated_at`, key, expectedVersion, payload)
	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrap("update", key, err)
	}

	var exists bool
	if err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM versioned_records WHERE key = $1)`, key).Scan(&exists); err != nil {
		return nil, wrap("update", key, err)
	}
	if !exists {
		return nil, newError(CodeNotFound, "update", key, nil)
	}
	return nil, newError(CodeConditionFailed, "update", key, nil)
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec Record
		raw []byte
	)
	if err := row.Scan(&rec.Key, &raw, &rec.Version, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Fields = Fields{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
	}
	return &rec, nil
}

var _ Backend = (*PostgresBackend)(nil)
