package txn

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// NewRandomID returns a random positive int63 for use as a correlation id.
// The bits come from a version 4 UUID's random section.
func NewRandomID() int64 {
	for {
		u := uuid.New()
		id := int64(binary.BigEndian.Uint64(u[8:]) >> 1)
		if id != 0 {
			return id
		}
	}
}
