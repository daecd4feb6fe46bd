package core

import (
	"fmt"

	"github.com/google/uuid"
)

// Pebble key schema. Prefix-based so account snapshots can be range-scanned
// in one pass at restore time.
const prefixAccount = "acc:"

// accountKey returns the key for an account snapshot.
// Format: "acc:{uuid}"
func accountKey(userID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixAccount, userID))
}

// accountPrefix returns the prefix covering every account snapshot.
func accountPrefix() []byte {
	return []byte(prefixAccount)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan: the
// prefix with its last byte incremented.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
