// Package auth models the SASL conversation shape spec.md §4.3 calls
// for during connection handshake: a mechanism exchanges opaque byte
// payloads with the server across one or more round trips until it
// reports completion. This package defines the conversation contract
// and mechanism registry, and implements SCRAM-SHA-1, SCRAM-SHA-256
// (including the HMAC/PBKDF2 derivation) and PLAIN; GSSAPI and
// MONGODB-AWS are registered, but their Step always fails (external.go).
//
// The round-trip contract below is the same shape the teacher's Noise
// handshake uses (WriteMessage/ReadMessage/IsComplete), generalized
// from a fixed two-message NN pattern to an arbitrary number of SASL
// round trips.
package auth

import (
	"context"

	"github.com/atsika/dbwire/errkind"
)

// Mechanism is a SASL authentication mechanism name as negotiated in a
// hello reply's saslSupportedMechs.
type Mechanism string

const (
	ScramSHA1   Mechanism = "SCRAM-SHA-1"
	ScramSHA256 Mechanism = "SCRAM-SHA-256"
	Plain       Mechanism = "PLAIN"
	GSSAPI      Mechanism = "GSSAPI"
	MongoDBAWS  Mechanism = "MONGODB-AWS"
	MongoDBX509 Mechanism = "MONGODB-X509"
)

// Credential carries whatever a mechanism needs to start a
// conversation. Fields unused by a given mechanism are left zero.
type Credential struct {
	Username  string
	Password  string
	Source    string // authentication database
	Mechanism Mechanism
}

// Conversation is one mechanism's exchange with the server. Step is
// called once per round trip: given the server's last payload (nil on
// the first call), it returns the client's next payload. Done reports
// whether the conversation has reached its final round trip — a true
// Done does not necessarily mean the server accepted the conversation,
// only that the client side has nothing further to send.
type Conversation interface {
	Step(ctx context.Context, serverPayload []byte) (clientPayload []byte, err error)
	Done() bool
}

// AuthSource returns the database a SASL conversation authenticates
// against, defaulting to admin when Source is unset.
func (c Credential) AuthSource() string {
	if c.Source == "" {
		return "admin"
	}
	return c.Source
}

// Starter begins a Conversation for a Credential. Each mechanism's file
// registers one from its init().
type Starter func(cred Credential) (Conversation, error)

var starters = map[Mechanism]Starter{}

// Register associates a Starter with a mechanism name, called from each
// mechanism's init().
func Register(m Mechanism, s Starter) { starters[m] = s }

// Start looks up the registered Starter for cred.Mechanism and begins a
// conversation.
func Start(cred Credential) (Conversation, error) {
	s, ok := starters[cred.Mechanism]
	if !ok {
		return nil, errkind.New(errkind.Security, "auth.Start", errUnsupportedMechanism(cred.Mechanism))
	}
	return s(cred)
}

type errUnsupportedMechanism Mechanism

func (e errUnsupportedMechanism) Error() string {
	return "unsupported authentication mechanism: " + string(e)
}
