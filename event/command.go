// Package event defines the command-monitoring and pool-monitoring
// event surfaces (spec.md §4.1 entities, §4.3/§4.4 Design Notes). The
// wrapping style — a plain interface the caller implements, with a
// no-op default so nil checks never have to guard every call site — is
// the same shape the teacher uses for its own Metrics interface.
package event

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// sensitiveCommands never have their command/reply document included in
// an event; spec.md requires these redacted regardless of the caller's
// monitoring intent, since they carry credentials in plaintext fields.
var sensitiveCommands = map[string]bool{
	"authenticate":    true,
	"saslstart":       true,
	"saslcontinue":    true,
	"getnonce":        true,
	"createuser":      true,
	"updateuser":      true,
	"copydbgetnonce":  true,
	"copydbsaslstart": true,
	"copydb":          true,
}

// IsSensitive reports whether commandName's event payload must be
// redacted.
func IsSensitive(commandName string) bool {
	return sensitiveCommands[normalizeCommandName(commandName)]
}

func normalizeCommandName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// CommandStartedEvent is emitted immediately before a command is
// written to the wire.
type CommandStartedEvent struct {
	Command      bsoncore.Document // redacted to an empty document for sensitive commands
	DatabaseName string
	CommandName  string
	RequestID    int32
	ConnectionID string
}

// CommandSucceededEvent is emitted after a successful reply is decoded.
type CommandSucceededEvent struct {
	Duration     time.Duration
	Reply        bsoncore.Document // redacted to an empty document for sensitive commands
	CommandName  string
	RequestID    int32
	ConnectionID string
}

// CommandFailedEvent is emitted when a command fails, whether from a
// server error reply or a transport error.
type CommandFailedEvent struct {
	Duration     time.Duration
	CommandName  string
	Failure      error
	RequestID    int32
	ConnectionID string
}

// CommandListener receives command lifecycle notifications. Every
// method is optional: embed NopCommandListener to get safe defaults for
// events the caller doesn't care about.
type CommandListener interface {
	CommandStarted(*CommandStartedEvent)
	CommandSucceeded(*CommandSucceededEvent)
	CommandFailed(*CommandFailedEvent)
}

// NopCommandListener implements CommandListener with no-ops, so callers
// can embed it and override only the methods they need.
type NopCommandListener struct{}

func (NopCommandListener) CommandStarted(*CommandStartedEvent)     {}
func (NopCommandListener) CommandSucceeded(*CommandSucceededEvent) {}
func (NopCommandListener) CommandFailed(*CommandFailedEvent)       {}

var emptyDocument = bsoncore.Document{0x05, 0x00, 0x00, 0x00, 0x00}

// RedactIfSensitive returns doc unchanged, or an empty BSON document if
// commandName is sensitive.
func RedactIfSensitive(commandName string, doc bsoncore.Document) bsoncore.Document {
	if IsSensitive(commandName) {
		return emptyDocument
	}
	return doc
}
