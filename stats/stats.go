// Package stats tracks rolling-window download throughput per peer and
// in aggregate, for progress reporting only. The choke-algorithm use of
// this same accounting in the teacher's upload scheduler doesn't apply
// here: this client never serves blocks, so there is no upload side to
// track and nothing here feeds a choke decision.
package stats

import (
	"sync"

	underscore "github.com/ahl5esoft/golang-underscore"
)

// windowSize is the number of ticks averaged into a reported rate.
const windowSize = 10

type peerCounter struct {
	activity [windowSize]int
	current  int
	i        int
	rate     int
}

// Tracker accumulates downloaded-byte counts per peer and exposes
// per-peer and aggregate rolling-window rates.
type Tracker struct {
	mu      sync.Mutex
	peers   map[string]*peerCounter
	client  peerCounter
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{peers: make(map[string]*peerCounter)}
}

// AddDownloaded records n bytes downloaded from the peer identified by
// id since the last Tick.
func (t *Tracker) AddDownloaded(id string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.peers[id]
	if !ok {
		pc = &peerCounter{}
		t.peers[id] = pc
	}
	pc.current += n
}

// RemovePeer drops id's counters, e.g. once its session has closed.
func (t *Tracker) RemovePeer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, id)
}

func sumReduce(acc int, x, _ int) int {
	return acc + x
}

// Tick rolls every counter's current-tick byte count into its window and
// recomputes rates. Call it on a fixed interval (the CLI does this once
// per second for its progress line).
func (t *Tracker) Tick() (clientRate int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	clientTotal := 0
	for _, pc := range t.peers {
		pc.activity[pc.i] = pc.current
		var sum int
		underscore.Chain(pc.activity[:]).Reduce(0, sumReduce).Value(&sum)
		pc.rate = sum / windowSize
		pc.i = (pc.i + 1) % windowSize
		clientTotal += pc.current
		pc.current = 0
	}

	t.client.activity[t.client.i] = clientTotal
	var sum int
	underscore.Chain(t.client.activity[:]).Reduce(0, sumReduce).Value(&sum)
	t.client.rate = sum / windowSize
	t.client.i = (t.client.i + 1) % windowSize
	return t.client.rate
}

// PeerRate returns id's last-computed rolling download rate, in
// bytes/tick.
func (t *Tracker) PeerRate(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pc, ok := t.peers[id]; ok {
		return pc.rate
	}
	return 0
}

// ClientRate returns the aggregate rolling download rate across every
// peer, in bytes/tick.
func (t *Tracker) ClientRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.rate
}

// ConnectedPeers returns the number of peers with any recorded activity.
func (t *Tracker) ConnectedPeers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}
