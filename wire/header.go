// Package wire implements the binary message framing described in
// spec.md §4.1: the 16-byte message header, the compressed envelope, and
// the legacy reply frame that some read paths still tolerate. It encodes
// and decodes frames; it does not interpret command documents (that is
// the driver/session layer's job).
package wire

import (
	"encoding/binary"

	"github.com/atsika/dbwire/errkind"
)

// HeaderSize is the fixed size of every message header in bytes.
const HeaderSize = 16

// OpCode identifies the wire protocol message kind.
type OpCode int32

const (
	OpReply        OpCode = 1    // legacy reply, read-tolerant only
	OpQuery        OpCode = 2004 // legacy query, read-tolerant only
	OpCompressed   OpCode = 2012
	OpMessage      OpCode = 2013
)

// Header is the 16-byte prefix on every message.
//
//	struct {
//	    int32  messageLength;
//	    int32  requestID;
//	    int32  responseTo;
//	    int32  opCode;
//	}
type Header struct {
	Length      int32
	RequestID   int32
	ResponseTo  int32
	OpCode      OpCode
}

// EncodeHeader appends the header's wire form to dst and returns it.
func EncodeHeader(dst []byte, h Header) []byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Length))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.RequestID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.ResponseTo))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.OpCode))
	return append(dst, buf[:]...)
}

// DecodeHeader parses the first HeaderSize bytes of src as a Header and
// validates it against maxMessageSize and the set of opcodes the caller
// is prepared to accept. expected may be empty to skip the opcode check.
func DecodeHeader(src []byte, maxMessageSize int32, expected ...OpCode) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, errkind.New(errkind.Framing, "wire.DecodeHeader", errShortHeader)
	}

	h := Header{
		Length:     int32(binary.LittleEndian.Uint32(src[0:4])),
		RequestID:  int32(binary.LittleEndian.Uint32(src[4:8])),
		ResponseTo: int32(binary.LittleEndian.Uint32(src[8:12])),
		OpCode:     OpCode(binary.LittleEndian.Uint32(src[12:16])),
	}

	if h.Length < HeaderSize {
		return Header{}, errkind.New(errkind.Framing, "wire.DecodeHeader", errUndersized)
	}
	if maxMessageSize > 0 && h.Length > maxMessageSize {
		return Header{}, errkind.New(errkind.Framing, "wire.DecodeHeader", errOversized)
	}

	if len(expected) > 0 {
		ok := false
		for _, oc := range expected {
			if h.OpCode == oc {
				ok = true
				break
			}
		}
		if !ok {
			return Header{}, errkind.New(errkind.Framing, "wire.DecodeHeader", errUnexpectedOpCode)
		}
	}

	return h, nil
}
