package conversation

import (
	"errors"

	"github.com/originprotocol/origin-messaging-go/identity"
)

// ErrUserDenied re-exports identity.ErrUserDenied: the wallet refused a
// signature request mid-ceremony.
var ErrUserDenied = identity.ErrUserDenied

// ErrRegistryUnavailable is returned when the registry lookup needed to
// establish a room fails outright, or finds no entry for the peer.
var ErrRegistryUnavailable = errors.New("conversation: registry unavailable")

// ErrIndexConflict is returned by SendMessage when another send is already
// in flight on the same engine (to any room), and when the key server
// answers 409 because the conversation index was already taken.
var ErrIndexConflict = errors.New("conversation: conversation index already claimed")

// ErrStreamDisconnected is reported (via an event, not necessarily this
// error) when the live stream is down; exported so callers polling engine
// state can recognize it.
var ErrStreamDisconnected = errors.New("conversation: stream disconnected")

// ErrInvalidAddress is returned when a caller supplies a malformed wallet
// address.
var ErrInvalidAddress = errors.New("conversation: invalid wallet address")

// ErrNotReady is returned by operations that require a completed identity
// binding (SetAccount/Initialize) before they can run.
var ErrNotReady = errors.New("conversation: engine has no bound identity yet")

// ErrRoomNotFound is returned when an operation names a room the engine
// has no local state for.
var ErrRoomNotFound = errors.New("conversation: unknown room")

// ErrNoRoomKey is returned when a send or out-of-band operation is
// attempted before any symmetric key has been established for the room.
var ErrNoRoomKey = errors.New("conversation: no room key available")

// ConfigurationError reports a missing or invalid Engine dependency,
// caught at construction rather than deep inside an operation.
type ConfigurationError struct {
	Field string
}

func (e ConfigurationError) Error() string {
	return "conversation: missing required configuration: " + e.Field
}
