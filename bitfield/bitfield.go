// Package bitfield wraps a bit-indexed set over piece indices in the
// BITFIELD wire layout: MSB-first within each byte, so index i lives at
// bit 7-(i mod 8) of byte i/8. The bytes are held in a go-bitmap Bitmap,
// but bits are addressed with that wire layout rather than go-bitmap's
// own Get/Set order, so a peer's BITFIELD payload is read as sent.
package bitfield

import (
	bitmap "github.com/boljen/go-bitmap"
)

// Bitfield tracks which piece indices, in [0, n), a peer (or the client
// itself) is known to have. The zero value is not usable; construct with
// New.
type Bitfield struct {
	bm bitmap.Bitmap
	n  int
}

// New allocates a Bitfield able to address n piece indices, all initially
// unset.
func New(n int) *Bitfield {
	return &Bitfield{bm: bitmap.New(n), n: n}
}

// FromBytes wraps an existing bit-packed byte slice, as received in a
// BITFIELD wire message. The slice is accepted as-is: it may carry more
// bits than n (trailing bytes of a peer's own piece set) and those bits
// are simply never true for an index we ask about.
func FromBytes(data []byte, n int) *Bitfield {
	bm := make(bitmap.Bitmap, len(data))
	copy(bm, data)
	return &Bitfield{bm: bm, n: n}
}

// Has reports whether index i is set. An index outside the byte slice's
// range (a peer whose reported bitfield was shorter than n) reports false.
func (b *Bitfield) Has(i int) bool {
	if i < 0 || i/8 >= len(b.bm) {
		return false
	}
	return b.bm[i/8]&(0x80>>uint(i%8)) != 0
}

// Set marks index i as present.
func (b *Bitfield) Set(i int) {
	if i < 0 {
		return
	}
	for i/8 >= len(b.bm) {
		b.bm = append(b.bm, 0)
	}
	b.bm[i/8] |= 0x80 >> uint(i%8)
}

// Len returns the number of addressable piece indices this Bitfield was
// constructed for.
func (b *Bitfield) Len() int {
	return b.n
}

// Bytes returns the bit-packed wire representation, padded with zero bits
// up to a whole number of bytes.
func (b *Bitfield) Bytes() []byte {
	want := (b.n + 7) / 8
	if len(b.bm) >= want {
		return append([]byte(nil), b.bm[:want]...)
	}
	out := make([]byte, want)
	copy(out, b.bm)
	return out
}
