package codec

import (
	"encoding/json"
	"errors"
)

// ErrUnknownEnvelopeType is returned by EnvelopeTypeOf for any Type other
// than "keys"/"msg". Per §9, unknown types must be ignored
// forward-compatibly: callers treat this as "skip", never panic.
var ErrUnknownEnvelopeType = errors.New("codec: unknown envelope type")

// EnvelopeType is the tagged-union discriminator for content envelopes (§3).
type EnvelopeType string

const (
	EnvelopeKeys EnvelopeType = "keys"
	EnvelopeMsg  EnvelopeType = "msg"
)

// envelopeHeader is used only to read the Type field before dispatching to
// the concrete shape, the same two-pass approach the teacher uses to sniff
// x402Version out of an otherwise-opaque payload in facilitator.go.
type envelopeHeader struct {
	Type EnvelopeType `json:"type"`
}

// KeyGrant is one wrapped-key entry inside a "keys" envelope, addressed to
// a single participant.
type KeyGrant struct {
	Address          string `json:"address"`
	MessagingAddress string `json:"messagingAddress"`
	WrappedKey       string `json:"wrappedKey"` // hex
}

// KeysEnvelope announces room membership and hands each participant a
// wrapped copy of a fresh symmetric key.
type KeysEnvelope struct {
	Type    EnvelopeType `json:"type"`
	Address string       `json:"address"`
	Keys    []KeyGrant   `json:"keys"`
}

// MsgEnvelope is an encrypted message.
type MsgEnvelope struct {
	Type       EnvelopeType `json:"type"`
	Address    string       `json:"address"`
	IV         string       `json:"iv"`         // base64
	Ciphertext string       `json:"ciphertext"` // base64
}

// EnvelopeTypeOf reads only the Type discriminator from raw content,
// without committing to either concrete shape.
func EnvelopeTypeOf(raw json.RawMessage) (EnvelopeType, error) {
	var h envelopeHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return "", err
	}
	switch h.Type {
	case EnvelopeKeys, EnvelopeMsg:
		return h.Type, nil
	default:
		return "", ErrUnknownEnvelopeType
	}
}
