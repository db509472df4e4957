package netlog

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ID uniquely identifies a single intercepted call. It's the join key across
// all lifecycle events for that call. IDs are ULIDs, so they sort by the time
// they were minted.
type ID string

// NewID mints a new ID, using a default monotonic source of entropy.
func NewID() ID {
	now := time.Now().UTC()
	return ID(ulid.MustNew(ulid.Timestamp(now), idEntropy).String())
}

func (id ID) String() string { return string(id) }

var idEntropy = ulid.DefaultEntropy()
