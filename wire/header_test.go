package wire

import (
	"testing"

	"github.com/atsika/dbwire/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Length: 42, RequestID: 100, ResponseTo: 0, OpCode: OpMessage}
	buf := EncodeHeader(nil, h)
	require.Len(t, buf, HeaderSize)

	got, err := DecodeHeader(buf, 48_000_000, OpMessage)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 10), 48_000_000)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.OfKind(errkind.Framing))
}

func TestDecodeHeaderRejectsUndersizedLength(t *testing.T) {
	h := Header{Length: 8, OpCode: OpMessage}
	buf := EncodeHeader(nil, h)
	_, err := DecodeHeader(buf, 48_000_000, OpMessage)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.OfKind(errkind.Framing))
}

func TestDecodeHeaderRejectsOversizedLength(t *testing.T) {
	h := Header{Length: 1000, OpCode: OpMessage}
	buf := EncodeHeader(nil, h)
	_, err := DecodeHeader(buf, 100, OpMessage)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.OfKind(errkind.Framing))
}

func TestDecodeHeaderRejectsUnexpectedOpCode(t *testing.T) {
	h := Header{Length: 16, OpCode: OpReply}
	buf := EncodeHeader(nil, h)
	_, err := DecodeHeader(buf, 48_000_000, OpMessage)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.OfKind(errkind.Framing))
}
