// Package peerid generates this client's 20-byte peer identifier, in the
// Azureus-style convention the teacher's torrent package follows:
// a fixed client tag followed by random bytes.
package peerid

import (
	"crypto/rand"
	"fmt"
)

// clientTag identifies this client in the peer ID's first 8 bytes.
const clientTag = "-LC0001-"

// Generate returns a fresh random peer ID, tagged with clientTag.
func Generate() ([20]byte, error) {
	var id [20]byte
	copy(id[:8], clientTag)
	if _, err := rand.Read(id[8:]); err != nil {
		return id, fmt.Errorf("peerid: %w", err)
	}
	return id, nil
}
