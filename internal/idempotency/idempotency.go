// Package idempotency stores the outcome of mutation requests keyed by a
// caller-supplied Idempotency-Key, so a segment create can be safely
// retried without double-applying a write against IPAM.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/orhaniscoding/vlanctl/internal/domain"
)

// Repository defines the storage interface for idempotency records.
type Repository interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Set(ctx context.Context, record *domain.IdempotencyRecord) error
	Delete(ctx context.Context, key string) error
	Cleanup(ctx context.Context) error
}

// Operation names for scoping Idempotency-Key values. Only the segment
// create handler reads the header (OpCreateSegment); update and delete
// do not consult it.
const (
	OpCreateSegment = "create_segment"
	OpUpdateSegment = "update_segment"
	OpDeleteSegment = "delete_segment"
)

// ScopedKey namespaces a caller-supplied Idempotency-Key by the endpoint it
// was sent to, so the same literal key value used against two different
// CRUD mutation endpoints (e.g. a client retrying a create, then later
// reusing the header by mistake on an update) cannot replay one
// endpoint's cached response for another.
func ScopedKey(op, key string) string {
	return op + ":" + key
}

// InMemoryRepository is the default backing store: good enough for a
// single-process deployment, replaced by RedisRepository when the Request
// Surface needs idempotency to survive across instances.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.IdempotencyRecord
}

// NewInMemoryRepository creates a repository and starts its periodic
// expired-record sweep.
func NewInMemoryRepository() *InMemoryRepository {
	repo := &InMemoryRepository{records: make(map[string]*domain.IdempotencyRecord)}
	go repo.periodicCleanup()
	return repo
}

func (r *InMemoryRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[key]
	if !exists {
		return nil, domain.NewError(domain.ErrNotFound, "idempotency key not found", nil)
	}
	if record.IsExpired() {
		return nil, domain.NewError(domain.ErrNotFound, "idempotency key expired", nil)
	}
	return record, nil
}

func (r *InMemoryRepository) Set(ctx context.Context, record *domain.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.Key] = record
	return nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
	return nil
}

func (r *InMemoryRepository) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for key, record := range r.records {
		if now.After(record.ExpiresAt) {
			delete(r.records, key)
		}
	}
	return nil
}

func (r *InMemoryRepository) periodicCleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		_ = r.Cleanup(context.Background())
	}
}
