package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/atsika/dbwire/errkind"
)

func init() {
	Register(ScramSHA1, func(cred Credential) (Conversation, error) {
		return newScramConversation(cred, sha1.New, 1)
	})
	Register(ScramSHA256, func(cred Credential) (Conversation, error) {
		return newScramConversation(cred, sha256.New, 1)
	})
}

// scramConversation implements RFC 5802 SCRAM as a Conversation whose
// Step runs three times: it sends client-first, answers server-first
// with client-final, then verifies server-final. The server's iteration
// count only has to be a positive integer; no higher minimum is enforced.
type scramConversation struct {
	cred   Credential
	hashFn func() hash.Hash

	clientNonce string
	step        int
	done        bool

	clientFirstBare string
	serverSignature []byte
}

func newScramConversation(cred Credential, hashFn func() hash.Hash, _ int) (Conversation, error) {
	nonce, err := randomNonce(24)
	if err != nil {
		return nil, errkind.New(errkind.Security, "auth.newScramConversation", err)
	}
	return &scramConversation{cred: cred, hashFn: hashFn, clientNonce: nonce}, nil
}

func randomNonce(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

func (c *scramConversation) Done() bool { return c.done }

func (c *scramConversation) Step(ctx context.Context, serverPayload []byte) ([]byte, error) {
	switch c.step {
	case 0:
		c.step++
		c.clientFirstBare = "n=" + escapeSaslName(c.cred.Username) + ",r=" + c.clientNonce
		return []byte("n,," + c.clientFirstBare), nil
	case 1:
		msg, err := c.handleServerFirst(serverPayload)
		c.step++
		return msg, err
	case 2:
		if err := c.verifyServerFinal(serverPayload); err != nil {
			return nil, err
		}
		c.done = true
		return nil, nil
	default:
		return nil, errkind.New(errkind.Security, "auth.scram.Step", errConversationOverrun)
	}
}

func (c *scramConversation) handleServerFirst(payload []byte) ([]byte, error) {
	fields, err := parseScramFields(string(payload))
	if err != nil {
		return nil, errkind.New(errkind.Security, "auth.scram.Step", err)
	}
	serverNonce := fields["r"]
	if !strings.HasPrefix(serverNonce, c.clientNonce) {
		return nil, errkind.New(errkind.Security, "auth.scram.Step", errNonceMismatch)
	}
	salt, err := base64.StdEncoding.DecodeString(fields["s"])
	if err != nil {
		return nil, errkind.New(errkind.Security, "auth.scram.Step", err)
	}
	iterations, err := strconv.Atoi(fields["i"])
	if err != nil || iterations <= 0 {
		return nil, errkind.New(errkind.Security, "auth.scram.Step", errBadIterationCount)
	}

	saltedPassword := pbkdf2.Key([]byte(c.cred.Password), salt, iterations, c.hashFn().Size(), c.hashFn)
	clientKey := hmacSum(c.hashFn, saltedPassword, []byte("Client Key"))
	storedKey := hashSum(c.hashFn, clientKey)

	channelBinding := base64.StdEncoding.EncodeToString([]byte("n,,"))
	clientFinalWithoutProof := "c=" + channelBinding + ",r=" + serverNonce
	authMessage := c.clientFirstBare + "," + string(payload) + "," + clientFinalWithoutProof

	clientSignature := hmacSum(c.hashFn, storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	serverKey := hmacSum(c.hashFn, saltedPassword, []byte("Server Key"))
	c.serverSignature = hmacSum(c.hashFn, serverKey, []byte(authMessage))

	final := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	return []byte(final), nil
}

func (c *scramConversation) verifyServerFinal(payload []byte) error {
	fields, err := parseScramFields(string(payload))
	if err != nil {
		return errkind.New(errkind.Security, "auth.scram.Step", err)
	}
	if e, ok := fields["e"]; ok {
		return errkind.New(errkind.Security, "auth.scram.Step", fmt.Errorf("server rejected authentication: %s", e))
	}
	got, err := base64.StdEncoding.DecodeString(fields["v"])
	if err != nil {
		return errkind.New(errkind.Security, "auth.scram.Step", err)
	}
	if !hmac.Equal(got, c.serverSignature) {
		return errkind.New(errkind.Security, "auth.scram.Step", errServerSignatureMismatch)
	}
	return nil
}

func parseScramFields(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, errMalformedScramMessage
		}
		out[kv[0]] = kv[1]
	}
	return out, nil
}

func escapeSaslName(name string) string {
	name = strings.ReplaceAll(name, "=", "=3D")
	name = strings.ReplaceAll(name, ",", "=2C")
	return name
}

func hmacSum(hashFn func() hash.Hash, key, data []byte) []byte {
	mac := hmac.New(hashFn, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hashSum(hashFn func() hash.Hash, data []byte) []byte {
	h := hashFn()
	h.Write(data)
	return h.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
