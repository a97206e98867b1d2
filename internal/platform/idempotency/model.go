package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Record maps to the idempotency_record table. One row per
// (endpoint_path, key) pair; the row is created in a pending state before
// the guarded handler runs and completed with the response snapshot after.
type Record struct {
	ID             uuid.UUID `db:"id" json:"id"`
	EndpointPath   string    `db:"endpoint_path" json:"endpoint_path"`
	Key            string    `db:"key" json:"key"`
	RequestHash    string    `db:"request_hash" json:"request_hash"`
	ResponseStatus int       `db:"response_status" json:"response_status"`
	ResponseBody   []byte    `db:"response_body" json:"response_body,omitempty"`
	Completed      bool      `db:"completed" json:"completed"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ErrDuplicateKey is returned by Store.Insert when another request already
// holds the (endpoint_path, key) pair.
var ErrDuplicateKey = errors.New("idempotency key already exists")

// ErrNotFound is returned by Store.Get when no record exists for the pair.
var ErrNotFound = errors.New("idempotency record not found")

type Store interface {
	Insert(ctx context.Context, rec *Record) error
	Get(ctx context.Context, endpointPath, key string) (*Record, error)
	Complete(ctx context.Context, id uuid.UUID, status int, body []byte) error
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteExpired removes records created before the cutoff. Expiry is a
	// maintenance sweep, not part of request-path correctness.
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}
