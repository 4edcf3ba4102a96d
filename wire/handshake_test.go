package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandshakeRoundTrip(t *testing.T) {
	h := Handshake{}
	copy(h.InfoHash[:], bytes.Repeat([]byte{0xab}, 20))
	copy(h.PeerID[:], bytes.Repeat([]byte{0xcd}, 20))

	raw := SerializeHandshake(h)
	assert.Len(t, raw, handshakeLen)

	got, err := ParseHandshake(raw)
	assert.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestParseHandshakeWrongLength(t *testing.T) {
	_, err := ParseHandshake([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestParseHandshakeWrongProtocol(t *testing.T) {
	raw := SerializeHandshake(Handshake{})
	raw[0] = 5 // claim a different protocol string length
	_, err := ParseHandshake(raw)
	assert.Error(t, err)
}

func TestReadHandshake(t *testing.T) {
	h := Handshake{}
	copy(h.InfoHash[:], bytes.Repeat([]byte{1}, 20))
	r := bytes.NewReader(SerializeHandshake(h))

	got, err := ReadHandshake(r)
	assert.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestReadHandshakeShortRead(t *testing.T) {
	r := bytes.NewReader([]byte{1, 2, 3})
	_, err := ReadHandshake(r)
	assert.Error(t, err)
}
