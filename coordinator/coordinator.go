// Package coordinator owns the unclaimed/pending/idle queues, drives
// peer lifecycle, validates completed pieces, and shuts the download down
// once the collector has flushed every piece to disk. Everything here
// runs on a single goroutine (Run's caller's goroutine): the queues, the
// totalConnected set, and the assignment policy are never touched from
// anywhere else, so none of it needs a mutex.
package coordinator

import (
	"crypto/sha1"
	"fmt"
	"log"

	"github.com/wyattjsimon/leech/collector"
	"github.com/wyattjsimon/leech/piecework"
	"github.com/wyattjsimon/leech/queue"
	"github.com/wyattjsimon/leech/session"
	"github.com/wyattjsimon/leech/stats"
)

// Progress describes one piece-completion tick, handed to the caller's
// ProgressFunc.
type Progress struct {
	Index          int
	PercentComplete float64
	ConnectedPeers int
}

// ProgressFunc is called synchronously from the coordinator's event loop
// every time a piece is validated and collected; it must not block.
type ProgressFunc func(Progress)

// Coordinator is the download core: it owns the three work queues, the
// set of currently-connected sessions, and reacts to every session event
// by mutating exactly one of them.
type Coordinator struct {
	desc   *piecework.Descriptor
	peerID [20]byte

	unclaimed *queue.Unclaimed
	pending   *queue.Pending
	idle      *queue.Idle

	totalConnected map[*session.Session]struct{}

	collector *collector.Collector
	stats     *stats.Tracker

	events chan session.Event

	logger   *log.Logger
	progress ProgressFunc
}

// New validates desc and constructs a Coordinator ready to Run against a
// peer list. col must have been constructed for the same piece count as
// desc.PieceHashes.
func New(desc *piecework.Descriptor, peerID [20]byte, col *collector.Collector, st *stats.Tracker, logger *log.Logger, progress ProgressFunc) (*Coordinator, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	if progress == nil {
		progress = func(Progress) {}
	}
	c := &Coordinator{
		desc:           desc,
		peerID:         peerID,
		unclaimed:      queue.NewUnclaimed(piecework.AllWork(desc)),
		pending:        queue.NewPending(),
		idle:           queue.NewIdle(),
		totalConnected: make(map[*session.Session]struct{}),
		collector:      col,
		stats:          st,
		events:         make(chan session.Event),
		logger:         logger,
		progress:       progress,
	}
	return c, nil
}

// Run opens a session to every endpoint, drives the download to
// completion, and returns nil once the output file has been fully
// written, or the first fatal error encountered along the way.
func (c *Coordinator) Run(endpoints []session.Endpoint) error {
	for _, ep := range endpoints {
		c.connect(ep)
	}

	writeComplete := c.collector.WriteComplete()
	var finalErr error
	var writeDone bool

	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		case <-c.collector.CollectionComplete():
			c.disconnectAll()
		case err, ok := <-writeComplete:
			if ok {
				finalErr = err
				writeDone = true
				writeComplete = nil
			}
		}
		if writeDone && len(c.totalConnected) == 0 {
			return finalErr
		}
	}
}

func (c *Coordinator) connect(ep session.Endpoint) {
	s := session.New(ep, c.desc.InfoHash, c.peerID, len(c.desc.PieceHashes), c.events)
	go s.Run()
}

func (c *Coordinator) handleEvent(ev session.Event) {
	switch ev.Kind {
	case session.Ready:
		c.onReady(ev.Session)
	case session.Closed:
		c.onClosed(ev.Session)
	case session.PieceComplete:
		c.onPieceComplete(ev.Session, ev.Work, ev.Buffer)
	}
}

func (c *Coordinator) onReady(s *session.Session) {
	if c.collector.IsComplete() {
		// A straggler finished handshaking after the download was
		// already complete; it never gets any work.
		s.Disconnect()
		return
	}
	c.totalConnected[s] = struct{}{}
	c.idle.Push(s)
	c.assign()
}

func (c *Coordinator) onClosed(s *session.Session) {
	delete(c.totalConnected, s)
	c.idle.Remove(s)
	c.stats.RemovePeer(s.Endpoint().String())
	if w, ok := c.pending.Remove(s); ok {
		if !c.collector.Contains(w.Index) && c.pending.CountForWork(w.Index) == 0 {
			c.unclaimed.Push(w)
		}
	}
}

func (c *Coordinator) onPieceComplete(s *session.Session, work piecework.Work, buf []byte) {
	if pieceMatchesHash(c.desc, work.Index, buf) {
		if c.collector.Collect(work.Index, buf) {
			c.stats.AddDownloaded(s.Endpoint().String(), len(buf))
			c.progress(Progress{
				Index:           work.Index,
				PercentComplete: c.collector.PercentComplete(),
				ConnectedPeers:  len(c.totalConnected),
			})
		}
	} else {
		c.logger.Printf("debug: piece %d from %s failed hash check", work.Index, s.Endpoint())
		if !c.collector.Contains(work.Index) && c.pending.CountForWork(work.Index) == 1 {
			c.unclaimed.Push(work)
		}
	}
	c.pending.Remove(s)
	c.idle.Push(s)
	c.assign()
}

// assign runs the assignment policy over every peer currently idle: give
// it an unclaimed piece it can serve, or failing that a redundant
// assignment against a still-pending piece it can also serve, or failing
// that disconnect it. Newly-decided assignments are dispatched only after
// the whole scan completes (StartAll), so a session's synchronously
// driven request pump can never reenter this scan.
func (c *Coordinator) assign() {
	for _, p := range c.idle.Drain() {
		if c.collector.IsComplete() {
			p.Disconnect()
			continue
		}
		bf := p.PeerBitfield()
		if w, ok := c.unclaimed.Take(func(w piecework.Work) bool { return bf.Has(w.Index) }); ok {
			c.pending.Push(p, w)
			continue
		}
		if e, ok := c.pending.FindMatching(func(e queue.Entry) bool {
			return !c.collector.Contains(e.Work.Index) && bf.Has(e.Work.Index)
		}); ok {
			c.pending.Push(p, e.Work)
			continue
		}
		p.Disconnect()
	}
	c.pending.StartAll(func(peer *session.Session, w piecework.Work) {
		peer.AssignWork(w)
	})
}

func (c *Coordinator) disconnectAll() {
	for s := range c.totalConnected {
		s.Disconnect()
	}
}

func pieceMatchesHash(d *piecework.Descriptor, index int, buf []byte) bool {
	if index < 0 || index >= len(d.PieceHashes) {
		return false
	}
	sum := sha1.Sum(buf)
	return sum == d.PieceHashes[index]
}
