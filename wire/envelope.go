package wire

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"

	"github.com/atsika/dbwire/errkind"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// CompressorID identifies the algorithm used inside a compressed envelope.
type CompressorID uint8

const (
	CompressorNone   CompressorID = 0
	CompressorSnappy CompressorID = 1
	CompressorZlib   CompressorID = 2
	CompressorZstd   CompressorID = 3
)

// envelopeHeaderSize is the 9-byte compressed-message payload prefix:
// originalOpCode(int32) + uncompressedSize(int32) + compressorID(uint8).
const envelopeHeaderSize = 4 + 4 + 1

// Envelope describes a decoded compressed message.
type Envelope struct {
	OriginalOpCode   OpCode
	UncompressedSize int32
	Compressor       CompressorID
	Payload          []byte // decompressed
}

// EncodeEnvelope compresses payload with the given compressor and wraps it
// in the OP_COMPRESSED envelope layout, appending to dst.
func EncodeEnvelope(dst []byte, originalOpCode OpCode, payload []byte, compressor CompressorID) ([]byte, error) {
	compressed, err := compress(compressor, payload)
	if err != nil {
		return nil, err
	}

	var hdr [envelopeHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(originalOpCode))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	hdr[8] = byte(compressor)

	dst = append(dst, hdr[:]...)
	dst = append(dst, compressed...)
	return dst, nil
}

// DecodeEnvelope parses and decompresses an OP_COMPRESSED payload (the
// bytes following the 16-byte message header).
func DecodeEnvelope(src []byte) (Envelope, error) {
	if len(src) < envelopeHeaderSize {
		return Envelope{}, errkind.New(errkind.Framing, "wire.DecodeEnvelope", errShortHeader)
	}

	env := Envelope{
		OriginalOpCode:   OpCode(binary.LittleEndian.Uint32(src[0:4])),
		UncompressedSize: int32(binary.LittleEndian.Uint32(src[4:8])),
		Compressor:       CompressorID(src[8]),
	}

	plain, err := decompress(env.Compressor, src[envelopeHeaderSize:])
	if err != nil {
		return Envelope{}, err
	}
	if int32(len(plain)) != env.UncompressedSize {
		return Envelope{}, errkind.New(errkind.Framing, "wire.DecodeEnvelope", errBadCompressedSize)
	}
	env.Payload = plain
	return env, nil
}

func compress(id CompressorID, payload []byte) ([]byte, error) {
	switch id {
	case CompressorNone:
		return payload, nil
	case CompressorSnappy:
		return snappy.Encode(nil, payload), nil
	case CompressorZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, errkind.New(errkind.Framing, "wire.compress", err)
		}
		if err := w.Close(); err != nil {
			return nil, errkind.New(errkind.Framing, "wire.compress", err)
		}
		return buf.Bytes(), nil
	case CompressorZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, errkind.New(errkind.Framing, "wire.compress", err)
		}
		defer enc.Close()
		return enc.EncodeAll(payload, nil), nil
	default:
		return nil, errkind.New(errkind.Framing, "wire.compress", errUnknownCompressor)
	}
}

func decompress(id CompressorID, payload []byte) ([]byte, error) {
	switch id {
	case CompressorNone:
		return payload, nil
	case CompressorSnappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, errkind.New(errkind.Framing, "wire.decompress", err)
		}
		return out, nil
	case CompressorZlib:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, errkind.New(errkind.Framing, "wire.decompress", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errkind.New(errkind.Framing, "wire.decompress", err)
		}
		return out, nil
	case CompressorZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errkind.New(errkind.Framing, "wire.decompress", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, errkind.New(errkind.Framing, "wire.decompress", err)
		}
		return out, nil
	default:
		return nil, errkind.New(errkind.Framing, "wire.decompress", errUnknownCompressor)
	}
}
