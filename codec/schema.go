// Package codec encodes and decodes the two content envelope shapes
// exchanged over the key server's per-room log — "keys" announcements and
// "msg" ciphertexts — and validates decrypted payloads against the message
// schema, grounded on the teacher's tagged-JSON handling in x402/middleware.go
// and on the envelope shape used by mutecomm/mute's msg-encrypt/msg-decrypt.
package codec

import (
	"encoding/json"
	"errors"
)

// ErrInvalidMessage is the schema-validation failure outcome of §4.5/§7: the
// decrypted payload is not a well-formed Message. The message is dropped;
// conversation.Engine reports it on an emsg event carrying this error, so
// it stays distinguishable from a still-encrypted message.
var ErrInvalidMessage = errors.New("codec: decrypted payload is not a valid message")

// Message is the plaintext, post-decrypt payload (§3). Unknown additional
// fields are tolerated and preserved in Extra.
type Message struct {
	Created    int64            `json:"created"`
	Content    *string          `json:"content,omitempty"`
	Media      []json.RawMessage `json:"media,omitempty"`
	Decryption *DecryptionMeta  `json:"decryption,omitempty"`
	Extra      map[string]json.RawMessage `json:"-"`
}

// DecryptionMeta describes a room-key rotation embedded in a message.
type DecryptionMeta struct {
	Keys   []string `json:"keys"`
	RoomID string   `json:"roomId"`
}

// MarshalJSON serializes Message, folding Extra back into the top-level
// object so a round trip preserves fields this client does not understand.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}

	createdRaw, err := json.Marshal(m.Created)
	if err != nil {
		return nil, err
	}
	out["created"] = createdRaw

	if m.Content != nil {
		contentRaw, err := json.Marshal(*m.Content)
		if err != nil {
			return nil, err
		}
		out["content"] = contentRaw
	}
	if m.Media != nil {
		mediaRaw, err := json.Marshal(m.Media)
		if err != nil {
			return nil, err
		}
		out["media"] = mediaRaw
	}
	if m.Decryption != nil {
		decRaw, err := json.Marshal(m.Decryption)
		if err != nil {
			return nil, err
		}
		out["decryption"] = decRaw
	}

	return json.Marshal(out)
}

// UnmarshalJSON parses raw into Message, validating the schema from §3:
// created is required and must be numeric; everything else is optional.
// Unknown fields are kept in Extra rather than rejected.
func (m *Message) UnmarshalJSON(raw []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ErrInvalidMessage
	}

	createdRaw, ok := fields["created"]
	if !ok {
		return ErrInvalidMessage
	}
	var created int64
	if err := json.Unmarshal(createdRaw, &created); err != nil {
		return ErrInvalidMessage
	}
	m.Created = created
	delete(fields, "created")

	if contentRaw, ok := fields["content"]; ok {
		var content string
		if err := json.Unmarshal(contentRaw, &content); err != nil {
			return ErrInvalidMessage
		}
		m.Content = &content
		delete(fields, "content")
	}

	if mediaRaw, ok := fields["media"]; ok {
		var media []json.RawMessage
		if err := json.Unmarshal(mediaRaw, &media); err != nil {
			return ErrInvalidMessage
		}
		m.Media = media
		delete(fields, "media")
	}

	if decRaw, ok := fields["decryption"]; ok {
		var dec DecryptionMeta
		if err := json.Unmarshal(decRaw, &dec); err != nil {
			return ErrInvalidMessage
		}
		m.Decryption = &dec
		delete(fields, "decryption")
	}

	m.Extra = fields
	return nil
}
