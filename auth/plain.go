package auth

import "context"

func init() {
	Register(Plain, func(cred Credential) (Conversation, error) {
		return &plainConversation{cred: cred}, nil
	})
}

// plainConversation is SASL PLAIN (RFC 4616): a single message of the
// form authzid\0authcid\0password, after which the server replies with
// success or failure — no further client payload.
type plainConversation struct {
	cred Credential
	done bool
}

func (c *plainConversation) Done() bool { return c.done }

func (c *plainConversation) Step(ctx context.Context, serverPayload []byte) ([]byte, error) {
	if c.done {
		return nil, errConversationOverrun
	}
	c.done = true
	msg := make([]byte, 0, len(c.cred.Username)*2+len(c.cred.Password)+2)
	msg = append(msg, 0)
	msg = append(msg, c.cred.Username...)
	msg = append(msg, 0)
	msg = append(msg, c.cred.Password...)
	return msg, nil
}
