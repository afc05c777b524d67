package wire

import (
	"encoding/binary"

	"github.com/atsika/dbwire/errkind"
)

// legacyReplyHeaderSize is the fixed portion following the message
// header on an OP_REPLY frame: responseFlags + cursorID + startingFrom +
// numberReturned.
const legacyReplyHeaderSize = 4 + 8 + 4 + 4

// LegacyReply is the read-tolerant OP_REPLY frame body (spec.md §4.1).
// Modern servers never send this for command replies, but some code
// paths (initial master/primary discovery against very old topologies)
// still decode it.
type LegacyReply struct {
	ResponseFlags  int32
	CursorID       int64
	StartingFrom   int32
	NumberReturned int32
	Documents      []byte // concatenated raw BSON documents
}

// DecodeLegacyReply parses the bytes following the message header of an
// OP_REPLY frame.
func DecodeLegacyReply(src []byte) (LegacyReply, error) {
	if len(src) < legacyReplyHeaderSize {
		return LegacyReply{}, errkind.New(errkind.Framing, "wire.DecodeLegacyReply", errShortHeader)
	}

	r := LegacyReply{
		ResponseFlags:  int32(binary.LittleEndian.Uint32(src[0:4])),
		CursorID:       int64(binary.LittleEndian.Uint64(src[4:12])),
		StartingFrom:   int32(binary.LittleEndian.Uint32(src[12:16])),
		NumberReturned: int32(binary.LittleEndian.Uint32(src[16:20])),
	}
	if r.NumberReturned < 0 {
		return LegacyReply{}, errkind.New(errkind.Framing, "wire.DecodeLegacyReply", errNegativeCount)
	}
	r.Documents = src[legacyReplyHeaderSize:]
	return r, nil
}
