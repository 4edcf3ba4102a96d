package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	m := Message{Type: Piece, Payload: []byte{1, 2, 3, 4}}
	raw := Serialize(m)

	length := binary.BigEndian.Uint32(raw[0:4])
	got, err := Parse(length, raw[4:])
	assert.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestParseKeepAlive(t *testing.T) {
	_, err := Parse(0, nil)
	assert.ErrorIs(t, err, ErrKeepAlive)
}

func TestParseLengthTooLarge(t *testing.T) {
	err := ParseLength(MaxFrameLength + 1)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestParseBodyLengthMismatch(t *testing.T) {
	_, err := Parse(5, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestHaveRoundTrip(t *testing.T) {
	m := HaveIndex(42)
	idx, err := ParseHave(m)
	assert.NoError(t, err)
	assert.Equal(t, 42, idx)
}

func TestParseHaveWrongType(t *testing.T) {
	_, err := ParseHave(Message{Type: Choke})
	assert.Error(t, err)
}

func TestParseHaveMalformedPayload(t *testing.T) {
	_, err := ParseHave(Message{Type: Have, Payload: []byte{1, 2}})
	assert.Error(t, err)
}

func TestRequestRoundTrip(t *testing.T) {
	m := RequestMessage(Request, 7, 16384, 16384)
	index, begin, length, err := ParseRequest(m)
	assert.NoError(t, err)
	assert.Equal(t, 7, index)
	assert.Equal(t, 16384, begin)
	assert.Equal(t, 16384, length)
}

func TestPieceRoundTrip(t *testing.T) {
	data := []byte{9, 9, 9, 9}
	m := PieceMessage(3, 100, data)
	index, begin, got, err := ParsePiece(m)
	assert.NoError(t, err)
	assert.Equal(t, 3, index)
	assert.Equal(t, 100, begin)
	assert.Equal(t, data, got)
}

func TestParsePieceMalformed(t *testing.T) {
	_, _, _, err := ParsePiece(Message{Type: Piece, Payload: []byte{1, 2, 3}})
	assert.Error(t, err)
}

func TestBitfieldPayloadCarriesBytesVerbatim(t *testing.T) {
	bits := []byte{0xff, 0x00}
	m := BitfieldPayload(bits)
	assert.Equal(t, BitfieldMsg, m.Type)
	assert.Equal(t, bits, m.Payload)
}
