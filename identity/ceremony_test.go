package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/originprotocol/origin-messaging-go/registry"
)

type fakeSigner struct {
	sigFor func(message []byte) []byte
}

func (f *fakeSigner) Sign(ctx context.Context, message []byte, address common.Address) ([]byte, error) {
	return f.sigFor(message), nil
}

func randomSig() []byte {
	b := make([]byte, 65)
	rand.Read(b)
	return b
}

func TestEnrollmentDerivesMessagingKeyFromFirst32Bytes(t *testing.T) {
	sig := randomSig()
	signer := &fakeSigner{sigFor: func(message []byte) []byte { return sig }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	reg := registry.NewClient(srv.URL)
	c := NewCeremony(signer, PersonalSign, NewMemorySecretStore(), reg)

	addr := common.HexToAddress("0xA100000000000000000000000000000000000A1")
	c.SetAccount(addr)
	if c.State() != Bound {
		t.Fatalf("expected Bound, got %s", c.State())
	}

	if err := c.Enable(context.Background()); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if c.State() != Enrolled {
		t.Fatalf("expected Enrolled, got %s", c.State())
	}

	binding := c.Binding()
	for i := 0; i < 32; i++ {
		if binding.MessagingPrivateKey[i] != sig[i] {
			t.Fatalf("messaging private key byte %d mismatch", i)
		}
	}

	if err := c.Publish(context.Background()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if c.State() != Published {
		t.Fatalf("expected Published, got %s", c.State())
	}
}

// TestPublishUsesEnrollmentSignatureNotPublicationSignature guards against
// the phs field being filled with the wrong signature: a peer verifying
// the published RegistryEntry's EnrollmentPhraseSignature must recover the
// enrollment-phrase signer, not the publication-message signer.
func TestPublishUsesEnrollmentSignatureNotPublicationSignature(t *testing.T) {
	enrollSig := randomSig()
	pubSig := randomSig()
	signer := &fakeSigner{sigFor: func(message []byte) []byte {
		if strings.Contains(string(message), EnrollmentPhrase) {
			return enrollSig
		}
		return pubSig
	}}

	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			captured, _ = io.ReadAll(r.Body)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	reg := registry.NewClient(srv.URL)
	c := NewCeremony(signer, PersonalSign, NewMemorySecretStore(), reg)
	addr := common.HexToAddress("0xA300000000000000000000000000000000000A3")
	c.SetAccount(addr)
	if err := c.Enable(context.Background()); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := c.Publish(context.Background()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var posted struct {
		Data struct {
			EnrollmentPhraseSig string `json:"phs"`
		} `json:"data"`
	}
	if err := json.Unmarshal(captured, &posted); err != nil {
		t.Fatalf("decoding posted body: %v", err)
	}
	if posted.EnrollmentPhraseSig != hex.EncodeToString(enrollSig) {
		t.Fatalf("expected phs to carry the enrollment signature, got %s want %s",
			posted.EnrollmentPhraseSig, hex.EncodeToString(enrollSig))
	}
}

func TestSignerDenialIsFatalButStateUnchanged(t *testing.T) {
	signer := &fakeSigner{sigFor: func(message []byte) []byte { return nil }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	reg := registry.NewClient(srv.URL)
	c := NewCeremony(signer, PersonalSign, NewMemorySecretStore(), reg)
	addr := common.HexToAddress("0xA2")
	c.SetAccount(addr)

	// A nil signature is too short to derive a key from, which Enable
	// surfaces as an error without advancing state.
	if err := c.Enable(context.Background()); err == nil {
		t.Fatal("expected enable to fail with a short/denied signature")
	}
	if c.State() != Bound {
		t.Fatalf("expected state to remain Bound after failure, got %s", c.State())
	}
}
