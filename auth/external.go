package auth

import (
	"context"

	"github.com/atsika/dbwire/errkind"
)

func init() {
	Register(GSSAPI, func(cred Credential) (Conversation, error) {
		return &unimplementedConversation{mechanism: GSSAPI}, nil
	})
	Register(MongoDBAWS, func(cred Credential) (Conversation, error) {
		return &unimplementedConversation{mechanism: MongoDBAWS}, nil
	})
}

// unimplementedConversation preserves the Conversation shape for
// mechanisms whose real exchange requires infrastructure this module
// doesn't carry — a Kerberos ticket cache for GSSAPI, the AWS SDK's
// request-signing machinery for MONGODB-AWS. Step always fails; the
// mechanism is still registered so callers get a uniform "unsupported"
// error through Start/Step rather than a missing-mechanism error at
// negotiation time, and so a future Conversation implementation can
// replace this stub without changing the registry's shape.
type unimplementedConversation struct {
	mechanism Mechanism
}

func (c *unimplementedConversation) Done() bool { return false }

func (c *unimplementedConversation) Step(ctx context.Context, serverPayload []byte) ([]byte, error) {
	return nil, errkind.New(errkind.Security, "auth.Step", errUnsupportedMechanism(c.mechanism))
}
