// Package collector holds validated piece buffers until every piece has
// arrived, then streams them to the output file in strict index order.
// Collection (arbitrary order, driven by the coordinator) and writing
// (strict order, driven by the collector's own goroutine) are
// deliberately decoupled: the collector is the only component with an
// ordering responsibility.
package collector

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// Collector is a fixed-size ordered slot array plus a dedicated writer
// goroutine. Collect may be called from the coordinator's goroutine
// concurrently with progress reads (Contains, PercentComplete) from a
// CLI progress-printing goroutine, so the slot array and counters are
// guarded by a mutex; Collect itself never blocks on I/O.
type Collector struct {
	mu             sync.Mutex
	nPieces        int
	pieceLength    int
	slots          [][]byte
	collected      []bool
	collectedCount int
	writePtr       int

	fs   afero.Fs
	path string
	file afero.File

	writeNotify chan struct{}

	collectionComplete chan struct{}
	collectionOnce      sync.Once
	writeComplete       chan error
	writeCompleteOnce    sync.Once
}

// New constructs a Collector for nPieces pieces of pieceLength bytes each
// (the last piece may be shorter; Collector doesn't need to know by how
// much, since every buffer it's handed already carries its own true
// length). It creates (truncating if necessary) the file at path on fs.
func New(nPieces, pieceLength int, fs afero.Fs, path string) (*Collector, error) {
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("collector: open %s: %w", path, err)
	}
	c := &Collector{
		nPieces:             nPieces,
		pieceLength:         pieceLength,
		slots:               make([][]byte, nPieces),
		collected:           make([]bool, nPieces),
		fs:                  fs,
		path:                path,
		file:                file,
		writeNotify:         make(chan struct{}, 1),
		collectionComplete: make(chan struct{}),
		writeComplete:       make(chan error, 1),
	}
	go c.runWriter()
	return c, nil
}

// CollectionComplete is closed the moment every piece has been
// collected (not necessarily yet flushed to disk).
func (c *Collector) CollectionComplete() <-chan struct{} {
	return c.collectionComplete
}

// WriteComplete yields exactly one value, nil on a clean flush or a
// non-nil error if a write to the output file failed, once every
// collected piece has been written to disk in order.
func (c *Collector) WriteComplete() <-chan error {
	return c.writeComplete
}

// Contains reports whether piece i has already been collected, whether or
// not it has been flushed to disk yet.
func (c *Collector) Contains(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= c.nPieces {
		return false
	}
	return c.collected[i]
}

// Collect stores buf as the validated contents of piece i and reports
// whether it was actually stored. A second Collect for an already-filled
// slot is silently ignored (stored=false) - the coordinator may
// legitimately deliver the same piece from two redundantly-assigned
// peers. i outside [0, nPieces) is a programming error in the caller and
// panics rather than being reported as a normal error.
func (c *Collector) Collect(i int, buf []byte) (stored bool) {
	if i < 0 || i >= c.nPieces {
		panic(fmt.Sprintf("collector: piece index %d out of range [0, %d)", i, c.nPieces))
	}
	c.mu.Lock()
	if c.collected[i] {
		c.mu.Unlock()
		return false
	}
	c.slots[i] = buf
	c.collected[i] = true
	c.collectedCount++
	complete := c.collectedCount == c.nPieces
	c.mu.Unlock()

	select {
	case c.writeNotify <- struct{}{}:
	default:
	}

	if complete {
		c.collectionOnce.Do(func() { close(c.collectionComplete) })
	}
	return true
}

// IsComplete reports whether every piece has been collected.
func (c *Collector) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collectedCount == c.nPieces
}

// PercentComplete returns collection progress in [0, 100].
func (c *Collector) PercentComplete() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nPieces == 0 {
		return 100
	}
	return 100 * float64(c.collectedCount) / float64(c.nPieces)
}

// CollectedCount returns the number of pieces collected so far.
func (c *Collector) CollectedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collectedCount
}

// runWriter streams slots [writePtr, nPieces) to disk in order. It wakes
// on writeNotify - coalesced to one pending wakeup, the Go analogue of a
// backpressure-respecting stream that pauses when there's nothing new to
// flush and resumes on the next "drain" signal - and otherwise sits idle,
// never polling.
func (c *Collector) runWriter() {
	for {
		<-c.writeNotify

		for {
			c.mu.Lock()
			if c.writePtr >= c.nPieces || c.slots[c.writePtr] == nil {
				c.mu.Unlock()
				break
			}
			idx := c.writePtr
			buf := c.slots[idx]
			c.mu.Unlock()

			if err := c.writeSlot(idx, buf); err != nil {
				c.finishWrite(err)
				return
			}

			c.mu.Lock()
			c.slots[idx] = nil // already durable; release the buffer, but collected[idx] stays true
			c.writePtr++
			done := c.writePtr == c.nPieces
			c.mu.Unlock()

			if done {
				c.finishWrite(nil)
				return
			}
		}
	}
}

func (c *Collector) writeSlot(idx int, buf []byte) error {
	offset := int64(idx) * int64(c.pieceLength)
	if _, err := c.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("collector: write piece %d: %w", idx, err)
	}
	return nil
}

func (c *Collector) finishWrite(err error) {
	c.writeCompleteOnce.Do(func() {
		closeErr := c.file.Close()
		if err == nil {
			err = closeErr
		}
		c.writeComplete <- err
	})
}
