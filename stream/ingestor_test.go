package stream

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/originprotocol/origin-messaging-go/codec"
	origincrypto "github.com/originprotocol/origin-messaging-go/crypto"
	"github.com/originprotocol/origin-messaging-go/registry"
)

// signEntry signs an entry's canonical-JSON subject with the sender's
// messaging private key and stamps "from" with the sender's wallet
// address — the two are always distinct addresses in practice, and
// keeping them distinct in tests is what catches a verifyEntry that
// resolves the wrong one.
func signEntry(t *testing.T, messagingPriv []byte, walletHex, conversationID string, index int, content string) wireLogEntry {
	t.Helper()
	payload := signingPayload{
		ConversationID:    conversationID,
		ConversationIndex: index,
		Content:           json.RawMessage(content),
	}
	canonical, err := codec.CanonicalJSON(payload)
	if err != nil {
		t.Fatal(err)
	}
	digest := origincrypto.Keccak256(canonical)
	ecdsaPriv, err := ethcrypto.ToECDSA(messagingPriv)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := ethcrypto.Sign(digest, ecdsaPriv)
	if err != nil {
		t.Fatal(err)
	}
	return wireLogEntry{
		ConversationID:    conversationID,
		ConversationIndex: index,
		Content:           json.RawMessage(content),
		From:              walletHex,
		Signature:         hex.EncodeToString(sig),
	}
}

// newWalletKeyedRegistry serves GET /accounts/<walletHex> the way the real
// key server does: keyed by wallet address, not messaging address. A
// lookup under any other address (including the sender's own messaging
// address) must miss, the same contract verifyEntry depends on.
func newWalletKeyedRegistry(walletHex, msgAddressHex string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Path[len("/accounts/"):]
		if !strings.EqualFold(addr, walletHex) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"address":"%s","msg_address":"%s","pub_key":"","msg":"","signature":"","ph":"","phs":""}`,
			walletHex, msgAddressHex)
	}))
}

func TestBulkLoadVerifiesAndSorts(t *testing.T) {
	msgPriv, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	msgPrivBytes := ethcrypto.FromECDSA(msgPriv)
	msgAddr := ethcrypto.PubkeyToAddress(msgPriv.PublicKey)
	walletAddr := "0x00000000000000000000000000000000000000F1"

	e2 := signEntry(t, msgPrivBytes, walletAddr, "room-1", 1, `{"a":1}`)
	e1 := signEntry(t, msgPrivBytes, walletAddr, "room-1", 0, `{"a":0}`)

	registryServer := newWalletKeyedRegistry(walletAddr, msgAddr.Hex())
	defer registryServer.Close()
	reg := registry.NewClient(registryServer.URL)

	logServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]wireLogEntry{e2, e1})
	}))
	defer logServer.Close()

	in := NewIngestor(logServer.URL, reg)
	entries, err := in.BulkLoad(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("bulk load: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ConversationIndex != 0 || entries[1].ConversationIndex != 1 {
		t.Fatal("expected entries sorted by index ascending")
	}
}

// TestBulkLoadDropsEntryStampedWithMessagingAddress guards the §6 wallet-
// vs-messaging-address distinction directly: an entry whose "from" carries
// the sender's messaging address (the old bug) must be dropped, because
// the registry has no account keyed by a messaging address.
func TestBulkLoadDropsEntryStampedWithMessagingAddress(t *testing.T) {
	msgPriv, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	msgPrivBytes := ethcrypto.FromECDSA(msgPriv)
	msgAddr := ethcrypto.PubkeyToAddress(msgPriv.PublicKey)
	walletAddr := "0x00000000000000000000000000000000000000F2"

	wrong := signEntry(t, msgPrivBytes, msgAddr.Hex(), "room-1", 0, `{"a":1}`)

	registryServer := newWalletKeyedRegistry(walletAddr, msgAddr.Hex())
	defer registryServer.Close()
	reg := registry.NewClient(registryServer.URL)

	logServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]wireLogEntry{wrong})
	}))
	defer logServer.Close()

	in := NewIngestor(logServer.URL, reg)
	entries, err := in.BulkLoad(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("bulk load: %v", err)
	}
	if len(entries) != 0 {
		t.Fatal("expected the entry stamped with a messaging address to be dropped")
	}
}

func TestBulkLoadDropsBadSignature(t *testing.T) {
	msgPriv, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	msgAddr := ethcrypto.PubkeyToAddress(msgPriv.PublicKey)
	walletAddr := "0x00000000000000000000000000000000000000F3"

	bad := wireLogEntry{
		ConversationID:    "room-1",
		ConversationIndex: 0,
		Content:           json.RawMessage(`{"a":1}`),
		From:              walletAddr,
		Signature:         hex.EncodeToString(make([]byte, 65)),
	}

	registryServer := newWalletKeyedRegistry(walletAddr, msgAddr.Hex())
	defer registryServer.Close()
	reg := registry.NewClient(registryServer.URL)

	logServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]wireLogEntry{bad})
	}))
	defer logServer.Close()

	in := NewIngestor(logServer.URL, reg)
	entries, err := in.BulkLoad(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("bulk load: %v", err)
	}
	if len(entries) != 0 {
		t.Fatal("expected the badly signed entry to be dropped")
	}
}

func TestHasGapDetectsForwardGapAndDuplicate(t *testing.T) {
	in := NewIngestor("http://example.invalid", nil)
	sub := &subscription{lastIndex: make(map[string]int), reloading: make(map[string]bool)}

	first := LogEntry{ConversationID: "room-1", ConversationIndex: 0}
	if in.hasGap(sub, first) {
		t.Fatal("first entry at index 0 should not be a gap")
	}
	sub.lastIndex["room-1"] = 0

	next := LogEntry{ConversationID: "room-1", ConversationIndex: 1}
	if in.hasGap(sub, next) {
		t.Fatal("index last+1 should not be a gap")
	}

	dup := LogEntry{ConversationID: "room-1", ConversationIndex: 0}
	if !in.hasGap(sub, dup) {
		t.Fatal("duplicate index should be reported as a gap")
	}

	skip := LogEntry{ConversationID: "room-1", ConversationIndex: 5}
	if !in.hasGap(sub, skip) {
		t.Fatal("forward skip should be reported as a gap")
	}
}

func TestLogEntryVerifyRejectsWrongSigner(t *testing.T) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	other, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	w := signEntry(t, ethcrypto.FromECDSA(priv), ethcrypto.PubkeyToAddress(priv.PublicKey).Hex(), "room-1", 0, `{"a":1}`)
	entry, err := w.toEntry()
	if err != nil {
		t.Fatal(err)
	}

	if entry.Verify(ethcrypto.PubkeyToAddress(other.PublicKey)) {
		t.Fatal("expected verification against the wrong signer to fail")
	}
	if !entry.Verify(ethcrypto.PubkeyToAddress(priv.PublicKey)) {
		t.Fatal("expected verification against the correct signer to succeed")
	}
}
