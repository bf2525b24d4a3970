package coordinator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// newFileID returns a short, cluster-unique identifier for a new upload.
// It has no semantic meaning beyond uniqueness — unlike a block id, which
// must be derivable from (fileId, stripeIndex, position), a file id is
// only ever looked up by name through the catalog.
func newFileID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("coordinator: generate file id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
