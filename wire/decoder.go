package wire

import "encoding/binary"

// Decoder accumulates inbound bytes and yields fully-received frames,
// exactly mirroring the session's read-cursor discipline from the spec:
// bytes are appended as they arrive, a cursor advances past each
// fully-consumed frame, and once the cursor reaches the end the buffer and
// cursor are both reset so memory doesn't grow without bound across a long
// connection's lifetime.
type Decoder struct {
	buf    []byte
	cursor int
}

// Feed appends newly-read bytes to the decoder's buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next fully-buffered frame's Message, or ok=false if
// fewer than a complete frame remain buffered. A keep-alive frame (length
// zero) is consumed (the cursor advances past it) and reported via the
// ErrKeepAlive error so the caller can skip it without mistaking it for
// "no frame yet".
func (d *Decoder) Next() (msg Message, err error, ok bool) {
	length, body, ferr, ok := d.NextFrame()
	if !ok {
		return Message{}, nil, false
	}
	if ferr != nil {
		return Message{}, ferr, true
	}
	if length == 0 {
		return Message{}, ErrKeepAlive, true
	}
	m, perr := Parse(length, body)
	if perr != nil && perr != ErrKeepAlive {
		return Message{}, perr, true
	}
	return m, nil, true
}

// NextFrame returns the next fully-buffered frame's raw length and body
// (length zero, body nil for a keep-alive), or ok=false if fewer than a
// complete frame remain buffered. This is the half of decoding that has
// to happen before a length is known to be trustworthy - Conn's socket
// loop uses it directly so an oversized length prefix is rejected without
// ever needing to buffer the attacker-controlled body it claims.
func (d *Decoder) NextFrame() (length uint32, body []byte, err error, ok bool) {
	remaining := d.buf[d.cursor:]
	if len(remaining) < 4 {
		d.compact()
		return 0, nil, nil, false
	}
	length = binary.BigEndian.Uint32(remaining[0:4])
	if length == 0 {
		d.cursor += 4
		d.compact()
		return 0, nil, nil, true
	}
	if verr := ParseLength(length); verr != nil {
		return length, nil, verr, true
	}
	if uint32(len(remaining)-4) < length {
		d.compact()
		return 0, nil, nil, false
	}
	body = make([]byte, length)
	copy(body, remaining[4:4+length])
	d.cursor += 4 + int(length)
	d.compact()
	return length, body, nil, true
}

// compact resets the buffer and cursor once every buffered byte has been
// consumed, so consumed bytes are dropped; the backing array is kept and
// reused by the next Feed.
func (d *Decoder) compact() {
	if d.cursor == len(d.buf) {
		d.buf = d.buf[:0]
		d.cursor = 0
	}
}
