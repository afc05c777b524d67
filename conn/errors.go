package conn

import "errors"

var (
	errNotOpened              = errors.New("connection: not opened")
	errAlreadyOpened          = errors.New("connection: already opened")
	errClosed                 = errors.New("connection: closed")
	errReplyRequestIDMismatch = errors.New("connection: reply responseTo does not match any pending request")
)
