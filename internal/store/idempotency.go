package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/quintans/faults"

	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/models"
)

// Reserve claims key for a request. It returns the stored record when the
// key has already completed, domain.ErrIdempotencyConflict while another
// request holds it and domain.ErrIdempotencyMismatch when the key was used
// with a different payload. A key left in progress for longer than KeyTTL is
// taken over by a request with the same payload.
func (s *Store) Reserve(ctx context.Context, key, requestHash string) (*models.IdempotencyRecord, error) {
	tag, err := s.Db.Exec(ctx,
		`INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET created_at = now()
		WHERE idempotency_keys.status = $3
			AND idempotency_keys.request_hash = EXCLUDED.request_hash
			AND $4::float8 > 0
			AND idempotency_keys.created_at < now() - make_interval(secs => $4::float8)`,
		key, requestHash, models.IdempotencyInProgress, s.KeyTTL.Seconds(),
	)
	if err != nil {
		return nil, faults.Wrapf(err, "reserving idempotency key")
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	var (
		rec    = models.IdempotencyRecord{Key: key}
		status *int
		body   []byte
	)
	err = s.Db.QueryRow(ctx,
		"SELECT request_hash, status, response_status, response_body FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&rec.RequestHash, &rec.Status, &status, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		// released between the insert and the read
		return nil, domain.ErrIdempotencyConflict
	}
	if err != nil {
		return nil, faults.Wrapf(err, "reading idempotency key")
	}

	if rec.RequestHash != requestHash {
		return nil, domain.ErrIdempotencyMismatch
	}
	if rec.Status != models.IdempotencyCompleted {
		return nil, domain.ErrIdempotencyConflict
	}
	if status != nil {
		rec.ResponseStatus = *status
	}
	rec.ResponseBody = json.RawMessage(body)
	return &rec, nil
}

// Complete stores the response replayed for later requests with the same key.
func (s *Store) Complete(ctx context.Context, key string, status int, body []byte) error {
	_, err := s.Db.Exec(ctx,
		`UPDATE idempotency_keys
		SET status = $2, response_status = $3, response_body = $4, completed_at = now()
		WHERE key = $1`,
		key, models.IdempotencyCompleted, status, body,
	)
	return faults.Wrap(err)
}

// Release frees a reserved key whose request left no side effects.
func (s *Store) Release(ctx context.Context, key string) error {
	_, err := s.Db.Exec(ctx,
		"DELETE FROM idempotency_keys WHERE key = $1 AND status = $2",
		key, models.IdempotencyInProgress,
	)
	return faults.Wrap(err)
}
