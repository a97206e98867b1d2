package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intake/intake/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const recordCols = `id, endpoint_path, key, request_hash, response_status,
	response_body, completed, created_at`

func (s *storePG) scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.EndpointPath, &r.Key, &r.RequestHash, &r.ResponseStatus,
		&r.ResponseBody, &r.Completed, &r.CreatedAt)
	return &r, err
}

func (s *storePG) Insert(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO idempotency_record (id, endpoint_path, key, request_hash)
		VALUES ($1,$2,$3,$4)`,
		rec.ID, rec.EndpointPath, rec.Key, rec.RequestHash)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (s *storePG) Get(ctx context.Context, endpointPath, key string) (*Record, error) {
	rec, err := s.scanRecord(s.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM idempotency_record WHERE endpoint_path = $1 AND key = $2`,
		endpointPath, key))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *storePG) Complete(ctx context.Context, id uuid.UUID, status int, body []byte) error {
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE idempotency_record
		SET response_status = $2, response_body = $3, completed = TRUE
		WHERE id = $1`,
		id, status, body)
	return err
}

func (s *storePG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM idempotency_record WHERE id = $1`, id)
	return err
}

func (s *storePG) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM idempotency_record WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
