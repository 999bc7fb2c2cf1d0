package codec

import (
	"bytes"
	"encoding/json"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/common"

	"github.com/originprotocol/origin-messaging-go/registry"
)

func genParticipant(t *testing.T, wallet string) (Participant, [32]byte) {
	t.Helper()
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	pub := ethcrypto.FromECDSAPub(&priv.PublicKey)[1:] // strip 0x04 prefix

	var privBytes [32]byte
	copy(privBytes[:], ethcrypto.FromECDSA(priv))

	entry := &registry.Entry{
		WalletAddress:      common.HexToAddress(wallet),
		MessagingAddress:   ethcrypto.PubkeyToAddress(priv.PublicKey),
		MessagingPublicKey: pub,
	}
	return Participant{WalletAddress: wallet, Entry: entry}, privBytes
}

func TestEncodeDecodeKeysRoundTrip(t *testing.T) {
	alice := "0x0000000000000000000000000000000000000001"
	bob := "0x0000000000000000000000000000000000000002"

	aliceP, aliceKey := genParticipant(t, alice)
	bobP, bobKey := genParticipant(t, bob)

	env, roomKey, err := EncodeKeys(alice, []Participant{aliceP, bobP})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(env.Keys) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(env.Keys))
	}

	bobRecovered := DecodeKeys(env, bob, bobKey)
	if len(bobRecovered) != 1 || bobRecovered[0] != roomKey {
		t.Fatal("bob should recover exactly the generated room key")
	}

	aliceRecovered := DecodeKeys(env, alice, aliceKey)
	if len(aliceRecovered) != 1 || aliceRecovered[0] != roomKey {
		t.Fatal("alice should recover exactly the generated room key")
	}

	carolRecovered := DecodeKeys(env, "0x0000000000000000000000000000000000000003", bobKey)
	if len(carolRecovered) != 0 {
		t.Fatal("non-participant address should recover nothing")
	}
}

func TestEncodeDecodeMsgRoundTrip(t *testing.T) {
	var key [32]byte
	key[0] = 7

	content := "hello room"
	env, err := EncodeMsg("0xabc", key, Message{Content: &content}, 1700000000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	result := DecodeMsg(env, [][32]byte{key})
	if result.Outcome != Decoded {
		t.Fatalf("expected Decoded, got %v", result.Outcome)
	}
	if result.Message.Message.Content == nil || *result.Message.Message.Content != content {
		t.Fatal("decoded content mismatch")
	}
	if result.Message.Message.Created != 1700000000 {
		t.Fatal("created timestamp mismatch")
	}
}

func TestDecodeMsgWrongKeyStillEncrypted(t *testing.T) {
	var key, wrongKey [32]byte
	key[0] = 1
	wrongKey[0] = 2

	content := "secret"
	env, err := EncodeMsg("0xabc", key, Message{Content: &content}, 1700000000)
	if err != nil {
		t.Fatal(err)
	}

	result := DecodeMsg(env, [][32]byte{wrongKey})
	if result.Outcome != StillEncrypted {
		t.Fatalf("expected StillEncrypted, got %v", result.Outcome)
	}
}

func TestDecodeMsgTriesAllKeysInOrder(t *testing.T) {
	var k1, k2 [32]byte
	k1[0] = 1
	k2[0] = 2

	content := "second key wins"
	env, err := EncodeMsg("0xabc", k2, Message{Content: &content}, 1700000000)
	if err != nil {
		t.Fatal(err)
	}

	result := DecodeMsg(env, [][32]byte{k1, k2})
	if result.Outcome != Decoded {
		t.Fatalf("expected Decoded, got %v", result.Outcome)
	}
}

func TestMessageSchemaRejectsMissingCreated(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"content":"hi"}`), &m)
	if err != ErrInvalidMessage {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestMessageSchemaPreservesUnknownFields(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"created":1,"weird":"field"}`), &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Extra["weird"]; !ok {
		t.Fatal("expected unknown field preserved in Extra")
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(out, []byte(`"weird":"field"`)) {
		t.Fatal("expected unknown field to survive round trip")
	}
}

func TestEnvelopeTypeOf(t *testing.T) {
	kind, err := EnvelopeTypeOf(json.RawMessage(`{"type":"keys"}`))
	if err != nil || kind != EnvelopeKeys {
		t.Fatalf("got %v, %v", kind, err)
	}

	_, err = EnvelopeTypeOf(json.RawMessage(`{"type":"bogus"}`))
	if err != ErrUnknownEnvelopeType {
		t.Fatalf("expected ErrUnknownEnvelopeType, got %v", err)
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	type payload struct {
		ConversationIndex int    `json:"conversationIndex"`
		ConversationID    string `json:"conversationId"`
		Content           string `json:"content"`
	}

	a, err := CanonicalJSON(payload{ConversationIndex: 3, ConversationID: "room-1", Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := CanonicalJSON(map[string]interface{}{
		"content":           "hi",
		"conversationId":    "room-1",
		"conversationIndex": 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected identical canonical output, got %s vs %s", a, b)
	}
}
