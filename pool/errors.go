package pool

import "errors"

var (
	errPoolClosed  = errors.New("pool: closed")
	errWaitTimeout = errors.New("pool: timed out waiting for an available connection")
)
