package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DomainBatch is the domain prefix for update batch digests.
// The version suffix allows the digest algorithm to change.
const DomainBatch = "inflight/batch/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// BatchDigest returns a content digest of an update batch. Two deliveries of
// the same batch (from the execute result and from the push stream) produce
// the same digest.
func BatchDigest(batch UpdateBatch) (string, error) {
	// Struct fields marshal in declaration order and the batch holds no maps,
	// so encoding/json output is stable for equal values.
	data, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("batch digest: %w", err)
	}
	return hashWithDomain(DomainBatch, data), nil
}
