// Package session implements one peer connection's framing state machine:
// connect, handshake, bitfield exchange, then the steady-state request
// pump and inbound message dispatch. A Session owns its socket, its
// inbound buffer, and its current piece assignment exclusively; it never
// touches the coordinator's queues directly - it only ever emits events
// on a shared channel and accepts AssignWork/Disconnect commands on
// channels of its own, so no mutex is needed anywhere in this package.
package session

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/wyattjsimon/leech/bitfield"
	"github.com/wyattjsimon/leech/piecework"
	"github.com/wyattjsimon/leech/wire"
)

// State names the session's position in the handshake/bitfield/working
// lifecycle.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateAwaitingBitfield
	StateReady
	StateWorking
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateAwaitingBitfield:
		return "awaiting-bitfield"
	case StateReady:
		return "ready"
	case StateWorking:
		return "working"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	connectTimeout   = 3 * time.Second
	handshakeTimeout = 10 * time.Second
)

// MaxBacklog is the number of outstanding REQUESTs this client keeps in
// flight to a single peer for the piece it is currently working.
const MaxBacklog = 5

// Endpoint is a peer's dialable address, as produced by a tracker client.
type Endpoint struct {
	Host net.IP
	Port uint16
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host.String(), strconv.Itoa(int(e.Port)))
}

type assignment struct {
	work       piecework.Work
	buffer     []byte
	downloaded int
	requested  int
	backlog    int
}

// Session drives a single peer connection on its own goroutine. All of
// its mutable state - state machine position, choke flag, peer bitfield,
// current assignment - is touched only from that goroutine.
type Session struct {
	endpoint Endpoint
	infoHash [20]byte
	peerID   [20]byte
	nPieces  int

	dial func(addr string, timeout time.Duration) (wire.Conn, error)

	out chan<- Event

	assignCh chan piecework.Work
	done     chan struct{}
	closeOnce sync.Once

	conn  wire.Conn
	state State
	choked bool
	peerBits *bitfield.Bitfield
	cur      *assignment
}

// New constructs a Session for endpoint, identified to the peer by
// infoHash/peerID, addressing a swarm of nPieces pieces. Events (ready,
// closed, piece complete) are delivered on out, which the coordinator
// reads from a single goroutine; New does not start the session - call
// Run (typically in its own goroutine).
func New(endpoint Endpoint, infoHash, peerID [20]byte, nPieces int, out chan<- Event) *Session {
	return &Session{
		endpoint: endpoint,
		infoHash: infoHash,
		peerID:   peerID,
		nPieces:  nPieces,
		dial:     wire.Dial,
		out:      out,
		assignCh: make(chan piecework.Work),
		done:     make(chan struct{}),
		choked:   true,
	}
}

// Endpoint returns the address this session connects (or connected) to.
func (s *Session) Endpoint() Endpoint { return s.endpoint }

// State returns the session's current lifecycle state. Safe to call only
// from the goroutine that owns the session (the coordinator, via event
// payloads, never calls this directly on a live session).
func (s *Session) State() State { return s.state }

// PeerBitfield returns the peer's advertised piece set, or nil before the
// BITFIELD exchange completes.
func (s *Session) PeerBitfield() *bitfield.Bitfield { return s.peerBits }

// AssignWork hands the session a piece to work. The coordinator calls
// this only once per session at a time (it never assigns while an
// assignment is outstanding); a second call simply replaces whatever
// assignment the session had started. The send blocks until the
// session's own goroutine picks it up or the session has already closed.
func (s *Session) AssignWork(w piecework.Work) {
	select {
	case s.assignCh <- w:
	case <-s.done:
	}
}

// Disconnect terminates the session's socket, causing it to emit a
// Closed event. Safe to call multiple times and from any goroutine.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Run drives the session to completion: connect, handshake, bitfield
// exchange, then the steady-state loop. It returns once the session has
// closed, after emitting exactly one Closed event (preceded by a Ready
// event if the session ever reached Ready).
func (s *Session) Run() {
	if err := s.connectAndHandshake(); err != nil {
		s.emitClosed(err)
		return
	}
	s.state = StateReady
	s.emitReady()
	s.serve()
}

func (s *Session) connectAndHandshake() error {
	s.state = StateConnecting
	conn, err := s.dial(s.endpoint.String(), connectTimeout)
	if err != nil {
		return err
	}
	s.conn = conn

	s.state = StateHandshaking
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return err
	}
	if err := conn.SendHandshake(wire.Handshake{InfoHash: s.infoHash, PeerID: s.peerID}); err != nil {
		return err
	}
	hs, err := conn.ReadHandshake()
	if err != nil {
		return err
	}
	if !bytes.Equal(hs.InfoHash[:], s.infoHash[:]) {
		return fmt.Errorf("session: infohash mismatch from %s", s.endpoint)
	}

	s.state = StateAwaitingBitfield
	localBits := bitfield.New(s.nPieces).Bytes()
	if err := conn.SendMessage(wire.BitfieldPayload(localBits)); err != nil {
		return err
	}
	for {
		length, body, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		if length == 0 {
			continue // keep-alive before the bitfield arrives
		}
		msg, err := wire.Parse(length, body)
		if err != nil {
			return err
		}
		if msg.Type != wire.BitfieldMsg {
			return fmt.Errorf("session: expected BITFIELD first, got type %d", msg.Type)
		}
		s.peerBits = bitfield.FromBytes(msg.Payload, s.nPieces)
		break
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return err
	}
	if err := conn.SendMessage(wire.Message{Type: wire.Unchoke}); err != nil {
		return err
	}
	if err := conn.SendMessage(wire.Message{Type: wire.Interested}); err != nil {
		return err
	}
	return nil
}

type frameResult struct {
	length uint32
	body   []byte
	err    error
}

func (s *Session) serve() {
	frames := make(chan frameResult, 4)
	go s.readFrames(frames)

	for {
		select {
		case <-s.done:
			s.conn.Close()
			s.state = StateClosed
			s.emitClosed(nil)
			return

		case fr, ok := <-frames:
			if !ok {
				// readFrames only closes frames this way after done was
				// closed; report it like the <-s.done case above.
				s.conn.Close()
				s.state = StateClosed
				s.emitClosed(nil)
				return
			}
			if fr.err != nil {
				s.conn.Close()
				s.state = StateClosed
				s.emitClosed(fr.err)
				return
			}
			if fr.length == 0 {
				continue // keep-alive
			}
			msg, err := wire.Parse(fr.length, fr.body)
			if err != nil {
				s.conn.Close()
				s.state = StateClosed
				s.emitClosed(err)
				return
			}
			s.handle(msg)

		case work := <-s.assignCh:
			s.state = StateWorking
			s.cur = &assignment{work: work, buffer: make([]byte, work.Size)}
			s.pump()
		}
	}
}

func (s *Session) readFrames(out chan<- frameResult) {
	defer close(out)
	for {
		length, body, err := s.conn.ReadFrame()
		select {
		case out <- frameResult{length: length, body: body, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handle(m wire.Message) {
	switch m.Type {
	case wire.Unchoke:
		s.choked = false
		s.pump()
	case wire.Choke:
		s.choked = true
	case wire.Have:
		if idx, err := wire.ParseHave(m); err == nil {
			if s.peerBits == nil {
				s.peerBits = bitfield.New(s.nPieces)
			}
			s.peerBits.Set(idx)
		}
	case wire.Piece:
		s.handlePiece(m)
	default:
		// unknown or uninteresting types (REQUEST, CANCEL, PORT, ...) are
		// absorbed: the frame was already fully consumed by the decoder.
	}
}

func (s *Session) handlePiece(m wire.Message) {
	index, begin, data, err := wire.ParsePiece(m)
	if err != nil {
		return
	}
	if s.cur == nil || index != s.cur.work.Index {
		return // not expecting this piece; discard
	}
	if begin < 0 || begin+len(data) > len(s.cur.buffer) {
		return // malformed offset; discard rather than panic on a bad peer
	}
	copy(s.cur.buffer[begin:], data)
	s.cur.downloaded += len(data)
	if s.cur.backlog > 0 {
		s.cur.backlog--
	}
	if s.cur.downloaded >= s.cur.work.Size {
		done := s.cur
		s.cur = nil
		s.emitPieceComplete(done.work, done.buffer)
		// Deliberately do not pump here: the next pump is driven by the
		// coordinator's subsequent AssignWork.
	}
}

// pump issues REQUESTs for the current assignment until backlog or the
// remaining work runs out, per the request-pump preconditions.
func (s *Session) pump() {
	if s.cur == nil || s.choked {
		return
	}
	for s.cur.backlog < MaxBacklog && s.cur.requested < s.cur.work.Size {
		blockSize := wire.MaxBlockSize
		if remaining := s.cur.work.Size - s.cur.requested; remaining < blockSize {
			blockSize = remaining
		}
		req := wire.RequestMessage(wire.Request, s.cur.work.Index, s.cur.requested, blockSize)
		if err := s.conn.SendMessage(req); err != nil {
			return
		}
		s.cur.requested += blockSize
		s.cur.backlog++
	}
}

// emitReady, emitClosed and emitPieceComplete always deliver: the
// coordinator's event loop keeps draining this channel until every
// session it knows about has reported Closed, so a blocking send here
// never outlives a reader.
func (s *Session) emitReady() {
	s.out <- Event{Kind: Ready, Session: s}
}

func (s *Session) emitClosed(err error) {
	// Close done first, so an AssignWork blocked on this session returns.
	s.Disconnect()
	s.out <- Event{Kind: Closed, Session: s, Err: err}
}

func (s *Session) emitPieceComplete(w piecework.Work, buf []byte) {
	s.out <- Event{Kind: PieceComplete, Session: s, Work: w, Buffer: buf}
}
