package wire

import (
	"bytes"
	"fmt"
	"io"
)

const (
	pstr         = "BitTorrent protocol"
	pstrlen      = byte(len(pstr))
	handshakeLen = 1 + len(pstr) + 8 + 20 + 20
)

// Handshake is the fixed 68-byte opening exchange: protocol identity,
// 8 reserved zero bytes, infohash, and peer id.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// SerializeHandshake produces the 68-byte wire encoding of h.
func SerializeHandshake(h Handshake) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(pstrlen)
	buf.WriteString(pstr)
	buf.Write(make([]byte, 8))
	buf.Write(h.InfoHash[:])
	buf.Write(h.PeerID[:])
	return buf.Bytes()
}

// ParseHandshake decodes a 68-byte handshake. It returns an error if the
// protocol string or length byte don't match; the caller is responsible
// for comparing the returned infohash against the expected one (that
// check is a coordinator/session policy, not a codec concern).
func ParseHandshake(data []byte) (Handshake, error) {
	if len(data) != handshakeLen {
		return Handshake{}, fmt.Errorf("wire: handshake is %d bytes, want %d", len(data), handshakeLen)
	}
	if data[0] != pstrlen {
		return Handshake{}, fmt.Errorf("wire: handshake pstrlen %d, want %d", data[0], pstrlen)
	}
	gotProtocol := string(data[1 : 1+len(pstr)])
	if gotProtocol != pstr {
		return Handshake{}, fmt.Errorf("wire: handshake protocol %q, want %q", gotProtocol, pstr)
	}
	var h Handshake
	off := 1 + len(pstr) + 8
	copy(h.InfoHash[:], data[off:off+20])
	copy(h.PeerID[:], data[off+20:off+40])
	return h, nil
}

// ReadHandshake reads exactly one 68-byte handshake from r.
func ReadHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, handshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, err
	}
	return ParseHandshake(buf)
}
