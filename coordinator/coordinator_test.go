package coordinator

import (
	"crypto/sha1"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/wyattjsimon/leech/collector"
	"github.com/wyattjsimon/leech/piecework"
	"github.com/wyattjsimon/leech/session"
	"github.com/wyattjsimon/leech/stats"
	"github.com/wyattjsimon/leech/wire"
)

// servePeer accepts a single connection on ln and drives it like a
// well-behaved seeder: handshake, a full BITFIELD, an unconditional
// UNCHOKE, then PIECE replies for every REQUEST it receives. It mirrors
// the coordinator's own session package from the other side of the
// wire, so Run can be exercised end to end without a real swarm.
func servePeer(t *testing.T, ln net.Listener, infoHash [20]byte, payload []byte) {
	t.Helper()
	c, err := ln.Accept()
	if err != nil {
		return
	}
	defer c.Close()
	conn := wire.NewConn(c)

	hs, err := conn.ReadHandshake()
	if err != nil || hs.InfoHash != infoHash {
		return
	}
	if err := conn.SendHandshake(wire.Handshake{InfoHash: infoHash, PeerID: [20]byte{9}}); err != nil {
		return
	}

	if _, _, err := conn.ReadFrame(); err != nil { // client's own BITFIELD
		return
	}
	if err := conn.SendMessage(wire.BitfieldPayload([]byte{0xff})); err != nil {
		return
	}
	if err := conn.SendMessage(wire.Message{Type: wire.Unchoke}); err != nil {
		return
	}

	for {
		length, body, err := conn.ReadFrame()
		if err != nil {
			return
		}
		if length == 0 {
			continue
		}
		msg, err := wire.Parse(length, body)
		if err != nil {
			return
		}
		if msg.Type != wire.Request {
			continue
		}
		index, begin, l, err := wire.ParseRequest(msg)
		if err != nil {
			return
		}
		if begin+l > len(payload) {
			return
		}
		if err := conn.SendMessage(wire.PieceMessage(index, begin, payload[begin:begin+l])); err != nil {
			return
		}
	}
}

// servePeerDisconnectAfterRequest behaves exactly like servePeer up
// through UNCHOKE, but vanishes the instant it sees a REQUEST instead of
// ever answering with a PIECE - it mimics a peer that drops mid-piece.
func servePeerDisconnectAfterRequest(t *testing.T, ln net.Listener, infoHash [20]byte) {
	t.Helper()
	c, err := ln.Accept()
	if err != nil {
		return
	}
	defer c.Close()
	conn := wire.NewConn(c)

	hs, err := conn.ReadHandshake()
	if err != nil || hs.InfoHash != infoHash {
		return
	}
	if err := conn.SendHandshake(wire.Handshake{InfoHash: infoHash, PeerID: [20]byte{8}}); err != nil {
		return
	}

	if _, _, err := conn.ReadFrame(); err != nil { // client's own BITFIELD
		return
	}
	if err := conn.SendMessage(wire.BitfieldPayload([]byte{0xff})); err != nil {
		return
	}
	if err := conn.SendMessage(wire.Message{Type: wire.Unchoke}); err != nil {
		return
	}

	for {
		length, body, err := conn.ReadFrame()
		if err != nil {
			return
		}
		if length == 0 {
			continue
		}
		msg, err := wire.Parse(length, body)
		if err != nil {
			return
		}
		if msg.Type != wire.Request {
			continue
		}
		return
	}
}

func listenerEndpoint(t *testing.T, ln net.Listener) session.Endpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	assert.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	assert.NoError(t, err)
	return session.Endpoint{Host: net.ParseIP(host), Port: uint16(port)}
}

func TestRunDownloadsSinglePieceFromOnePeer(t *testing.T) {
	payload := []byte("leechtest")
	hash := sha1.Sum(payload)
	infoHash := [20]byte{42}

	desc := &piecework.Descriptor{
		TotalLength: len(payload),
		PieceLength: len(payload),
		Name:        "out.bin",
		PieceHashes: [][20]byte{hash},
		InfoHash:    infoHash,
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	assert.NoError(t, err)
	defer ln.Close()
	go servePeer(t, ln, infoHash, payload)

	fs := afero.NewMemMapFs()
	col, err := collector.New(1, desc.PieceLength, fs, "out.bin")
	assert.NoError(t, err)

	var lastProgress Progress
	co, err := New(desc, [20]byte{7}, col, stats.NewTracker(), nil, func(p Progress) { lastProgress = p })
	assert.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- co.Run([]session.Endpoint{listenerEndpoint(t, ln)}) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not complete in time")
	}

	assert.Equal(t, 0, lastProgress.Index)
	assert.Equal(t, float64(100), lastProgress.PercentComplete)

	data, err := afero.ReadFile(fs, "out.bin")
	assert.NoError(t, err)
	assert.Equal(t, payload, data)
}

// TestMidPieceDisconnectRequeuesToAnotherPeer exercises the "a peer
// drops after taking an assignment but before delivering it" path: the
// first peer is handed the swarm's only piece, disappears the instant it
// receives a REQUEST, and the coordinator must push the work back onto
// unclaimed so the second (slower-to-connect) peer can still finish it.
func TestMidPieceDisconnectRequeuesToAnotherPeer(t *testing.T) {
	payload := []byte("leechtest")
	hash := sha1.Sum(payload)
	infoHash := [20]byte{42}

	desc := &piecework.Descriptor{
		TotalLength: len(payload),
		PieceLength: len(payload),
		Name:        "out.bin",
		PieceHashes: [][20]byte{hash},
		InfoHash:    infoHash,
	}

	ln1, err := net.Listen("tcp4", "127.0.0.1:0")
	assert.NoError(t, err)
	defer ln1.Close()
	go servePeerDisconnectAfterRequest(t, ln1, infoHash)

	ln2, err := net.Listen("tcp4", "127.0.0.1:0")
	assert.NoError(t, err)
	defer ln2.Close()
	go func() {
		time.Sleep(300 * time.Millisecond)
		servePeer(t, ln2, infoHash, payload)
	}()

	fs := afero.NewMemMapFs()
	col, err := collector.New(1, desc.PieceLength, fs, "out.bin")
	assert.NoError(t, err)

	co, err := New(desc, [20]byte{7}, col, stats.NewTracker(), nil, nil)
	assert.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- co.Run([]session.Endpoint{listenerEndpoint(t, ln1), listenerEndpoint(t, ln2)})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not complete in time")
	}

	data, err := afero.ReadFile(fs, "out.bin")
	assert.NoError(t, err)
	assert.Equal(t, payload, data)
}

// TestDuplicatePieceDeliveryAfterFlushIsStillRejected guards against a
// regression where the collector's writer goroutine releasing a slot's
// buffer right after flushing it also made that slot look uncollected
// again: a second, redundantly-assigned delivery of an already-flushed
// piece must still be discarded, not recounted.
func TestDuplicatePieceDeliveryAfterFlushIsStillRejected(t *testing.T) {
	payload := []byte("leechtest")
	hash := sha1.Sum(payload)
	infoHash := [20]byte{42}

	desc := &piecework.Descriptor{
		TotalLength: len(payload),
		PieceLength: len(payload),
		Name:        "out.bin",
		PieceHashes: [][20]byte{hash},
		InfoHash:    infoHash,
	}

	fs := afero.NewMemMapFs()
	col, err := collector.New(1, desc.PieceLength, fs, "out.bin")
	assert.NoError(t, err)

	c, err := New(desc, [20]byte{7}, col, stats.NewTracker(), nil, nil)
	assert.NoError(t, err)

	events := make(chan session.Event, 1)
	s1 := session.New(session.Endpoint{Host: net.ParseIP("127.0.0.1"), Port: 1}, infoHash, [20]byte{1}, 1, events)
	s2 := session.New(session.Endpoint{Host: net.ParseIP("127.0.0.1"), Port: 2}, infoHash, [20]byte{2}, 1, events)
	work := piecework.Work{Index: 0, Size: len(payload)}

	c.onPieceComplete(s1, work, payload)

	select {
	case err := <-col.WriteComplete():
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write did not complete")
	}
	assert.True(t, col.Contains(0), "a flushed piece must still report as collected")

	c.onPieceComplete(s2, work, payload)

	assert.Equal(t, 1, col.CollectedCount(), "a redundant delivery of an already-flushed piece must not be recounted")
}

func TestPieceMatchesHashAcceptsCorrectBuffer(t *testing.T) {
	payload := []byte("abc123")
	sum := sha1.Sum(payload)
	d := &piecework.Descriptor{PieceHashes: [][20]byte{sum}}
	assert.True(t, pieceMatchesHash(d, 0, payload))
}

func TestPieceMatchesHashRejectsCorruptBuffer(t *testing.T) {
	payload := []byte("abc123")
	sum := sha1.Sum(payload)
	d := &piecework.Descriptor{PieceHashes: [][20]byte{sum}}
	assert.False(t, pieceMatchesHash(d, 0, []byte("wrongwr")))
}

func TestPieceMatchesHashRejectsOutOfRangeIndex(t *testing.T) {
	d := &piecework.Descriptor{PieceHashes: [][20]byte{}}
	assert.False(t, pieceMatchesHash(d, 0, []byte("x")))
}

