// Package identifier issues unique 64-bit positive session and handle
// identifiers, drawing randomly and retrying against a caller-supplied
// collision check.
package identifier

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// maxAttempts bounds the retry loop so a pathologically full table fails
// loudly instead of spinning forever.
const maxAttempts = 1 << 16

// Exists reports whether a candidate id is already present in whatever
// table the caller is drawing identifiers for. Implementations must be
// safe to call from the draw loop without holding any lock the caller
// already holds on the same table (Draw does not hold one itself).
type Exists func(id uint64) bool

// Draw returns a fresh positive 64-bit id not reported present by exists,
// retrying on collision until one is found or maxAttempts is exhausted.
func Draw(exists Exists) (uint64, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := random63()
		if err != nil {
			return 0, fmt.Errorf("identifier: draw random id: %w", err)
		}
		if id == 0 {
			continue
		}
		if !exists(id) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("identifier: exhausted %d attempts drawing a unique id", maxAttempts)
}

// random63 draws 8 random bytes and masks off the sign bit so the result
// always prints as a positive decimal, matching the "64-bit, positive"
// requirement without depending on a particular math/rand seed.
func random63() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(buf[:])
	return v &^ (1 << 63), nil
}
