package conversation

import "github.com/originprotocol/origin-messaging-go/codec"

// EventType names the events an Engine fires through its single observer
// callback (§4.7/§9 — a set callback, not a process-wide pubsub).
type EventType string

const (
	EventNew        EventType = "new"
	EventInitialized EventType = "initialized"
	EventReady      EventType = "ready"
	EventSignedSig  EventType = "signedSig"
	EventMsg        EventType = "msg"
	EventEmsg       EventType = "emsg"
)

// Event is delivered to the Engine's observer. RoomID and Message are set
// only for room-scoped events (msg/emsg); Err is set only when the event
// reports a failure (emsg).
type Event struct {
	Type    EventType
	RoomID  string
	Message *codec.DecryptedMessage
	Err     error
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	observer := e.observer
	e.mu.Unlock()
	if observer != nil {
		observer(ev)
	}
}

// OnEvent sets the Engine's single event observer, replacing any previous
// one.
func (e *Engine) OnEvent(fn func(Event)) {
	e.mu.Lock()
	e.observer = fn
	e.mu.Unlock()
}
