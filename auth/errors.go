package auth

import "errors"

var (
	errConversationOverrun     = errors.New("scram: Step called after conversation completed")
	errNonceMismatch           = errors.New("scram: server nonce does not extend client nonce")
	errBadIterationCount       = errors.New("scram: invalid iteration count")
	errServerSignatureMismatch = errors.New("scram: server signature verification failed")
	errMalformedScramMessage   = errors.New("scram: malformed message")
)
