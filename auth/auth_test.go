package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
)

func TestStartUnknownMechanismFails(t *testing.T) {
	_, err := Start(Credential{Mechanism: "NOPE"})
	assert.Error(t, err)
}

func TestPlainConversationSingleRoundTrip(t *testing.T) {
	conv, err := Start(Credential{Mechanism: Plain, Username: "u", Password: "p"})
	require.NoError(t, err)

	msg, err := conv.Step(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "\x00u\x00p", string(msg))
	assert.True(t, conv.Done())

	_, err = conv.Step(context.Background(), nil)
	assert.Error(t, err)
}

func TestScramConversationFullExchange(t *testing.T) {
	const (
		username   = "testuser"
		password   = "testpass"
		iterations = 4096
	)
	salt := []byte("fixedsaltforthistest")

	conv, err := Start(Credential{Mechanism: ScramSHA256, Username: username, Password: password})
	require.NoError(t, err)

	clientFirst, err := conv.Step(context.Background(), nil)
	require.NoError(t, err)
	require.Contains(t, string(clientFirst), "n,,n=testuser,r=")

	sc := conv.(*scramConversation)
	serverNonce := sc.clientNonce + "servernonce"
	serverFirst := []byte("r=" + serverNonce + ",s=" + base64.StdEncoding.EncodeToString(salt) + ",i=4096")

	clientFinal, err := conv.Step(context.Background(), serverFirst)
	require.NoError(t, err)
	require.Contains(t, string(clientFinal), "c=")
	require.Contains(t, string(clientFinal), "p=")

	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
	serverKey := hmacSum(sha256.New, saltedPassword, []byte("Server Key"))
	authMessage := sc.clientFirstBare + "," + string(serverFirst) + "," + "c=" + base64.StdEncoding.EncodeToString([]byte("n,,")) + ",r=" + serverNonce
	serverSignature := hmacSum(sha256.New, serverKey, []byte(authMessage))
	serverFinal := []byte("v=" + base64.StdEncoding.EncodeToString(serverSignature))

	_, err = conv.Step(context.Background(), serverFinal)
	require.NoError(t, err)
	assert.True(t, conv.Done())
}

func TestScramConversationRejectsBadServerSignature(t *testing.T) {
	conv, err := Start(Credential{Mechanism: ScramSHA1, Username: "u", Password: "p"})
	require.NoError(t, err)
	_, err = conv.Step(context.Background(), nil)
	require.NoError(t, err)

	sc := conv.(*scramConversation)
	salt := []byte("salt1234")
	serverNonce := sc.clientNonce + "xyz"
	serverFirst := []byte("r=" + serverNonce + ",s=" + base64.StdEncoding.EncodeToString(salt) + ",i=1000")
	_, err = conv.Step(context.Background(), serverFirst)
	require.NoError(t, err)

	_, err = conv.Step(context.Background(), []byte("v="+base64.StdEncoding.EncodeToString([]byte("wrongsignature12345678901234567890"))))
	assert.Error(t, err)
}

func TestGSSAPIAndAWSAreRegisteredButUnimplemented(t *testing.T) {
	conv, err := Start(Credential{Mechanism: GSSAPI})
	require.NoError(t, err)
	_, err = conv.Step(context.Background(), nil)
	assert.Error(t, err)

	conv, err = Start(Credential{Mechanism: MongoDBAWS})
	require.NoError(t, err)
	_, err = conv.Step(context.Background(), nil)
	assert.Error(t, err)
}
