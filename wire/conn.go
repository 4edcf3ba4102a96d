package wire

import (
	"net"
	"time"
)

// Conn is the thin socket-facing half of the codec: it knows how to put
// handshake and frame bytes on a net.Conn and how to read a single raw
// frame back off one, but it carries no protocol state (that belongs to
// session.Session). Kept as an interface so sessions can be driven by a
// fake in tests without opening a real socket.
type Conn interface {
	SendHandshake(h Handshake) error
	ReadHandshake() (Handshake, error)
	SendMessage(m Message) error
	SendRaw(b []byte) error
	ReadFrame() (length uint32, body []byte, err error)
	SetDeadline(t time.Time) error
	Close() error
	RemoteAddr() net.Addr
}

type tcpConn struct {
	conn    net.Conn
	dec     Decoder
	readBuf [4096]byte
}

// NewConn wraps an already-dialed net.Conn.
func NewConn(conn net.Conn) Conn {
	return &tcpConn{conn: conn}
}

func (c *tcpConn) SendHandshake(h Handshake) error {
	_, err := c.conn.Write(SerializeHandshake(h))
	return err
}

func (c *tcpConn) ReadHandshake() (Handshake, error) {
	return ReadHandshake(c.conn)
}

func (c *tcpConn) SendMessage(m Message) error {
	_, err := c.conn.Write(Serialize(m))
	return err
}

func (c *tcpConn) SendRaw(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

// ReadFrame returns one length-prefixed frame's length and body off the
// wire. A zero length is returned with a nil body (keep-alive); the
// caller, not this method, decides to skip it. Unlike a pair of exact
// io.ReadFull calls, it feeds whatever arrives on the socket - a partial
// frame, a whole one, or several - into its Decoder and only blocks on a
// fresh read when the buffered bytes don't yet add up to a complete
// frame, mirroring the read-cursor discipline the rest of the wire
// package is built around.
func (c *tcpConn) ReadFrame() (uint32, []byte, error) {
	for {
		length, body, ferr, ok := c.dec.NextFrame()
		if ok {
			return length, body, ferr
		}
		n, err := c.conn.Read(c.readBuf[:])
		if n > 0 {
			c.dec.Feed(c.readBuf[:n])
		}
		if err != nil {
			return 0, nil, err
		}
	}
}

func (c *tcpConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Dial opens a TCP connection to addr with a connect timeout.
func Dial(addr string, timeout time.Duration) (Conn, error) {
	conn, err := net.DialTimeout("tcp4", addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}
