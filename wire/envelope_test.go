package wire

import (
	"testing"

	"github.com/atsika/dbwire/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := []byte("{ok:1,hello world repeated for compression gains}")

	for _, c := range []CompressorID{CompressorNone, CompressorSnappy, CompressorZlib, CompressorZstd} {
		buf, err := EncodeEnvelope(nil, OpMessage, payload, c)
		require.NoError(t, err)

		env, err := DecodeEnvelope(buf)
		require.NoError(t, err)
		assert.Equal(t, OpMessage, env.OriginalOpCode)
		assert.Equal(t, payload, env.Payload)
		assert.Equal(t, c, env.Compressor)
	}
}

func TestDecodeEnvelopeRejectsSizeMismatch(t *testing.T) {
	buf, err := EncodeEnvelope(nil, OpMessage, []byte("abc"), CompressorNone)
	require.NoError(t, err)

	// Corrupt the declared uncompressed size.
	buf[4] = 99

	_, err = DecodeEnvelope(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.OfKind(errkind.Framing))
}

func TestDecodeLegacyReplyRejectsNegativeCount(t *testing.T) {
	buf := make([]byte, legacyReplyHeaderSize)
	// numberReturned at offset 16, set to -1.
	buf[16], buf[17], buf[18], buf[19] = 0xFF, 0xFF, 0xFF, 0xFF

	_, err := DecodeLegacyReply(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.OfKind(errkind.Framing))
}
