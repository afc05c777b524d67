package wire

import "errors"

var (
	errShortHeader      = errors.New("message shorter than the 16-byte header")
	errUndersized       = errors.New("message length smaller than header size")
	errOversized        = errors.New("message length exceeds max_message_size")
	errUnexpectedOpCode = errors.New("unexpected op code for this decoder")
	errNegativeCount    = errors.New("negative document count in legacy reply")
	errBadCompressedSize = errors.New("decompressed size does not match uncompressed_size")
	errUnknownCompressor = errors.New("unknown compressor id")
)
