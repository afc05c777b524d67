package session

import "github.com/atsika/dbwire/errkind"

func errSnapshotAlreadySet() error {
	return errkind.New(errkind.Internal, "session.SetSnapshotTime", errAlreadySet)
}

func errSessionClosed(op string) error {
	return errkind.New(errkind.Internal, op, errClosed)
}

var (
	errAlreadySet = internalError("snapshot timestamp already set for this session")
	errClosed     = internalError("session is closed")
)

type internalError string

func (e internalError) Error() string { return string(e) }
