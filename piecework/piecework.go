// Package piecework holds the immutable descriptor and per-piece sizing
// model shared by the collector, queues, session, and coordinator.
package piecework

import "fmt"

// Descriptor is the immutable, decoded view of a torrent's payload shape:
// total size, piece size, the expected per-piece SHA-1 hashes, and the
// infohash identifying the swarm. Everything downstream (piece count,
// per-piece sizes, the unclaimed queue) is derived from it.
type Descriptor struct {
	TotalLength int
	PieceLength int
	Name        string
	PieceHashes [][20]byte
	InfoHash    [20]byte
}

// Validate checks that TotalLength, PieceLength, Name, PieceHashes (one
// per piece) and InfoHash are present and consistent.
// It does not re-derive PieceHashes from a raw hash blob; callers that
// decode from the wire format (metainfo) do that slicing before building
// a Descriptor.
func (d *Descriptor) Validate() error {
	if d.TotalLength <= 0 {
		return fmt.Errorf("piecework: total length must be positive, got %d", d.TotalLength)
	}
	if d.PieceLength <= 0 {
		return fmt.Errorf("piecework: piece length must be positive, got %d", d.PieceLength)
	}
	if d.Name == "" {
		return fmt.Errorf("piecework: name is required")
	}
	want := NumPieces(d.TotalLength, d.PieceLength)
	if len(d.PieceHashes) != want {
		return fmt.Errorf("piecework: expected %d piece hashes, got %d", want, len(d.PieceHashes))
	}
	var zero [20]byte
	if d.InfoHash == zero {
		return fmt.Errorf("piecework: infohash is required")
	}
	return nil
}

// NumPieces computes ceil(totalLength / pieceLength).
func NumPieces(totalLength, pieceLength int) int {
	return (totalLength + pieceLength - 1) / pieceLength
}

// Work describes one piece's identity and byte size. It is a plain value
// type: the same Work value is copied between queues, never shared by
// pointer, since equality is defined entirely by Index.
type Work struct {
	Index int
	Size  int
}

// WorkFor returns the Work for piece index i under descriptor d. The last
// index is sized as the remainder; every other index is exactly
// d.PieceLength.
func WorkFor(d *Descriptor, i int) Work {
	n := NumPieces(d.TotalLength, d.PieceLength)
	if i == n-1 {
		size := d.TotalLength - d.PieceLength*(n-1)
		return Work{Index: i, Size: size}
	}
	return Work{Index: i, Size: d.PieceLength}
}

// AllWork returns the Work for every piece index in [0, NumPieces).
func AllWork(d *Descriptor) []Work {
	n := NumPieces(d.TotalLength, d.PieceLength)
	out := make([]Work, n)
	for i := 0; i < n; i++ {
		out[i] = WorkFor(d, i)
	}
	return out
}
