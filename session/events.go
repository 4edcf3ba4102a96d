package session

import "github.com/wyattjsimon/leech/piecework"

// Kind discriminates the three events a Session ever emits.
type Kind int

const (
	// Ready fires once, after the handshake and bitfield exchange
	// succeed, immediately before the session enters its steady-state
	// serve loop.
	Ready Kind = iota
	// Closed fires exactly once, whenever the session's socket goes
	// away - cleanly (Err is nil, e.g. an explicit Disconnect) or not
	// (Err describes the protocol or I/O failure).
	Closed
	// PieceComplete fires whenever a full piece buffer has been
	// assembled from PIECE frames. The coordinator is responsible for
	// hash validation; the session has no opinion on whether Buffer is
	// correct.
	PieceComplete
)

// Event is the single sum type every Session emits on its shared event
// channel; the coordinator's event loop type-switches on Kind.
type Event struct {
	Kind    Kind
	Session *Session
	Work    piecework.Work
	Buffer  []byte
	Err     error
}
