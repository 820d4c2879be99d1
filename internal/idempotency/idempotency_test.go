package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orhaniscoding/vlanctl/internal/domain"
)

func mkRecord(key, bodyHash string, ttl time.Duration) *domain.IdempotencyRecord {
	now := time.Now()
	return &domain.IdempotencyRecord{
		Key:       key,
		BodyHash:  bodyHash,
		Response:  []byte(`{"status":"success"}`),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestInMemorySetGet(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	record := mkRecord("key-1", "hash-1", 24*time.Hour)

	require.NoError(t, repo.Set(ctx, record))

	retrieved, err := repo.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, record.BodyHash, retrieved.BodyHash)
	assert.Equal(t, record.Response, retrieved.Response)
}

func TestInMemoryGetNotFound(t *testing.T) {
	repo := NewInMemoryRepository()
	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	de, ok := err.(*domain.Error)
	require.True(t, ok)
	assert.Equal(t, domain.ErrNotFound, de.Code)
}

func TestInMemoryGetExpired(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	record := mkRecord("expired-key", "hash-1", 1*time.Millisecond)
	require.NoError(t, repo.Set(ctx, record))

	time.Sleep(10 * time.Millisecond)

	_, err := repo.Get(ctx, "expired-key")
	require.Error(t, err)
	de, ok := err.(*domain.Error)
	require.True(t, ok)
	assert.Equal(t, domain.ErrNotFound, de.Code)
}

func TestInMemorySetOverwritesExistingKey(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, mkRecord("key-1", "hash-1", time.Hour)))
	require.NoError(t, repo.Set(ctx, mkRecord("key-1", "hash-2", time.Hour)))

	retrieved, err := repo.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", retrieved.BodyHash)
}

func TestInMemoryDelete(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, mkRecord("key-1", "hash-1", time.Hour)))
	require.NoError(t, repo.Delete(ctx, "key-1"))

	_, err := repo.Get(ctx, "key-1")
	assert.Error(t, err)
}

func TestInMemoryDeleteNonExistentIsNoop(t *testing.T) {
	repo := NewInMemoryRepository()
	assert.NoError(t, repo.Delete(context.Background(), "never-set"))
}

func TestInMemoryCleanupRemovesOnlyExpired(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, mkRecord("expired-1", "h", -time.Hour)))
	require.NoError(t, repo.Set(ctx, mkRecord("valid-1", "h", time.Hour)))

	require.NoError(t, repo.Cleanup(ctx))

	_, err := repo.Get(ctx, "expired-1")
	assert.Error(t, err)
	_, err = repo.Get(ctx, "valid-1")
	assert.NoError(t, err)
}

func TestInMemoryConcurrentAccess(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, mkRecord("concurrent-key", "h", time.Hour)))

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := repo.Get(ctx, "concurrent-key")
			assert.NoError(t, err)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
