package inmem

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/models"
)

// IdempotencyStore keeps request keys in memory with the same contract as
// the Postgres store.
type IdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]models.IdempotencyRecord

	now func() time.Time
}

// NewIdempotencyStore returns a store that hands a key left in progress for
// longer than ttl to a retry with the same payload. Zero never reclaims.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		ttl:     ttl,
		records: make(map[string]models.IdempotencyRecord),
		now:     time.Now,
	}
}

func (s *IdempotencyStore) Reserve(_ context.Context, key, requestHash string) (*models.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[key]
	if !ok {
		s.records[key] = models.IdempotencyRecord{
			Key:         key,
			RequestHash: requestHash,
			Status:      models.IdempotencyInProgress,
			CreatedAt:   now,
		}
		return nil, nil
	}
	if rec.RequestHash != requestHash {
		return nil, domain.ErrIdempotencyMismatch
	}
	if rec.Status != models.IdempotencyCompleted {
		if s.ttl > 0 && now.Sub(rec.CreatedAt) > s.ttl {
			rec.CreatedAt = now
			s.records[key] = rec
			return nil, nil
		}
		return nil, domain.ErrIdempotencyConflict
	}
	rec.ResponseBody = append(json.RawMessage(nil), rec.ResponseBody...)
	return &rec, nil
}

func (s *IdempotencyStore) Complete(_ context.Context, key string, status int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[key]
	rec.Key = key
	rec.Status = models.IdempotencyCompleted
	rec.ResponseStatus = status
	rec.ResponseBody = append(json.RawMessage(nil), body...)
	s.records[key] = rec
	return nil
}

func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.Status == models.IdempotencyInProgress {
		delete(s.records, key)
	}
	return nil
}
