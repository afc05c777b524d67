package wire

import (
	"encoding/binary"

	"github.com/atsika/dbwire/errkind"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// OpMessage flag bits (spec.md §6: "the preferred op-code is an
// op-message carrying a $db field and one or more section payloads").
const (
	OpMsgFlagChecksumPresent uint32 = 1 << 0
	OpMsgFlagMoreToCome      uint32 = 1 << 1
	OpMsgFlagExhaustAllowed  uint32 = 1 << 16
)

// sectionKind 0 is a single BSON document body; this module never emits
// kind-1 (document sequence) sections since bulk write shaping is out of
// scope (spec.md §1).
const sectionKindBody byte = 0

// EncodeOpMessage appends an OP_MSG body (flags + one kind-0 section
// carrying command) to dst. command must already carry $db.
func EncodeOpMessage(dst []byte, flags uint32, command bsoncore.Document) []byte {
	var flagBuf [4]byte
	binary.LittleEndian.PutUint32(flagBuf[:], flags)
	dst = append(dst, flagBuf[:]...)
	dst = append(dst, sectionKindBody)
	dst = append(dst, command...)
	return dst
}

// DecodeOpMessage extracts the flags and the first kind-0 section's
// document from an OP_MSG body.
func DecodeOpMessage(src []byte) (flags uint32, doc bsoncore.Document, err error) {
	if len(src) < 5 {
		return 0, nil, errkind.New(errkind.Framing, "wire.DecodeOpMessage", errShortHeader)
	}
	flags = binary.LittleEndian.Uint32(src[0:4])
	rest := src[4:]

	for len(rest) > 0 {
		kind := rest[0]
		rest = rest[1:]
		switch kind {
		case sectionKindBody:
			d, _, ok := bsoncore.ReadDocument(rest)
			if !ok {
				return 0, nil, errkind.New(errkind.Framing, "wire.DecodeOpMessage", errShortHeader)
			}
			return flags, d, nil
		default:
			// Document-sequence (kind 1) sections are skipped: this core
			// never produces them and has no bulk-result consumer for
			// them (spec.md §1 Non-goals).
			if len(rest) < 4 {
				return 0, nil, errkind.New(errkind.Framing, "wire.DecodeOpMessage", errShortHeader)
			}
			size := int32(binary.LittleEndian.Uint32(rest[0:4]))
			if int(size) > len(rest) || size < 4 {
				return 0, nil, errkind.New(errkind.Framing, "wire.DecodeOpMessage", errShortHeader)
			}
			rest = rest[size:]
		}
	}
	return 0, nil, errkind.New(errkind.Framing, "wire.DecodeOpMessage", errShortHeader)
}
