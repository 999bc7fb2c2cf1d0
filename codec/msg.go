package codec

import (
	"encoding/base64"
	"encoding/json"

	origincrypto "github.com/originprotocol/origin-messaging-go/crypto"
)

// Outcome classifies the result of DecodeMsg: a "msg" envelope may decrypt
// to a well-formed Message, decrypt to garbage (schema validation fails),
// or fail to decrypt under every key currently held (§4.5/§7).
type Outcome int

const (
	Decoded Outcome = iota
	DroppedInvalid
	StillEncrypted
)

// DecryptedMessage pairs a successfully decoded Message with the log
// position it arrived at. RoomID/Index/Hash are log coordinates the codec
// package has no way to know on its own (DecodeMsg only sees one
// envelope) — callers that have them (conversation.Engine) fill them in
// after a Decoded outcome. Index is -1 and Hash is empty for messages that
// never passed through the log, e.g. an out-of-band envelope.
type DecryptedMessage struct {
	SenderAddress string
	RoomID        string
	Index         int
	Hash          string
	Message       Message
}

// DecodeResult is the outcome of attempting to decrypt and validate one
// "msg" envelope against a set of candidate keys.
type DecodeResult struct {
	Outcome  Outcome
	Message  *DecryptedMessage
	Envelope *MsgEnvelope
}

// EncodeMsg encrypts content under key, stamping Created with now, and
// wraps the result in a "msg" envelope addressed from selfWalletAddress.
func EncodeMsg(selfWalletAddress string, key [32]byte, msg Message, now int64) (*MsgEnvelope, error) {
	msg.Created = now
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	iv, ciphertext, err := origincrypto.EncryptEnvelope(key, string(plaintext))
	if err != nil {
		return nil, err
	}

	return &MsgEnvelope{
		Type:       EnvelopeMsg,
		Address:    selfWalletAddress,
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// DecodeMsg tries every key in keys, in order, until one decrypts the
// envelope; if that plaintext is not a schema-valid Message the result is
// DroppedInvalid and no further key is tried. It never returns an error:
// every failure mode is reported through Outcome so callers can decide
// whether to drop, retry later, or surface the message.
func DecodeMsg(env *MsgEnvelope, keys [][32]byte) DecodeResult {
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return DecodeResult{Outcome: StillEncrypted, Envelope: env}
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return DecodeResult{Outcome: StillEncrypted, Envelope: env}
	}

	for _, key := range keys {
		plaintext, err := origincrypto.DecryptEnvelope(key, iv, ciphertext)
		if err != nil {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(plaintext), &msg); err != nil {
			return DecodeResult{Outcome: DroppedInvalid, Envelope: env}
		}

		return DecodeResult{
			Outcome: Decoded,
			Message: &DecryptedMessage{SenderAddress: env.Address, Index: -1, Message: msg},
		}
	}

	return DecodeResult{Outcome: StillEncrypted, Envelope: env}
}

// ParseMsgEnvelope decodes raw JSON content as a MsgEnvelope.
func ParseMsgEnvelope(raw json.RawMessage) (*MsgEnvelope, error) {
	var env MsgEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
