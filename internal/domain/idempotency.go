package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// IdempotencyRecord records the outcome of a mutation request keyed by the
// caller-supplied Idempotency-Key header, so that the segment create
// endpoint can be safely retried by a client without double-applying the
// write.
type IdempotencyRecord struct {
	Key       string    `json:"key"`
	BodyHash  string    `json:"body_hash"`
	Response  []byte    `json:"response,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IdempotencyTTL is the default retention window for idempotency records.
const IdempotencyTTL = 24 * time.Hour

// NewIdempotencyRecord creates a new record for key with the given body hash.
func NewIdempotencyRecord(key, bodyHash string) *IdempotencyRecord {
	now := time.Now().UTC()
	return &IdempotencyRecord{Key: key, BodyHash: bodyHash, CreatedAt: now, ExpiresAt: now.Add(IdempotencyTTL)}
}

// IsExpired reports whether the record has outlived its TTL.
func (r *IdempotencyRecord) IsExpired() bool {
	return time.Now().UTC().After(r.ExpiresAt)
}

// HashRequestBody produces a stable hash of a JSON-serializable request body,
// used to detect a client replaying the same Idempotency-Key with a
// different body (a conflict, not a safe retry).
func HashRequestBody(body interface{}) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
