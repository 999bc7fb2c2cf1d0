package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	origincrypto "github.com/originprotocol/origin-messaging-go/crypto"
	"github.com/originprotocol/origin-messaging-go/registry"
)

// ErrUserDenied is returned when the wallet refuses a requested signature.
// It is fatal to the in-progress transition; the Ceremony stays in its
// prior state (§7).
var ErrUserDenied = errors.New("identity: wallet denied the signature request")

// ErrNotBound is returned by Enable/Publish when no wallet address has been
// set yet.
var ErrNotBound = errors.New("identity: no wallet address bound")

// ErrNotEnrolled is returned by Publish when Enable has not completed.
var ErrNotEnrolled = errors.New("identity: messaging key not yet derived")

// Ceremony drives the wallet-to-messaging-identity state machine of §4.2.
// It is owned by exactly one conversation.Engine; it is not safe to share
// across engines any more than the teacher's Middleware is.
type Ceremony struct {
	mu     sync.Mutex
	state  State
	signer Signer
	secrets SecretStore
	reg    *registry.Client
	mode   SignMode

	binding *Binding
}

// NewCeremony creates a Ceremony. secrets stores enrollment material per the
// §6 key-naming scheme; reg is the registry client used by Publish and
// InitMessaging.
func NewCeremony(signer Signer, mode SignMode, secrets SecretStore, reg *registry.Client) *Ceremony {
	return &Ceremony{
		state:   Unbound,
		signer:  signer,
		secrets: secrets,
		reg:     reg,
		mode:    mode,
	}
}

// State returns the current identity state.
func (c *Ceremony) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Binding returns the current messaging identity, or nil before Enable
// completes.
func (c *Ceremony) Binding() *Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding
}

// SetAccount moves Unbound/Bound → Bound. The caller is responsible for
// resetting room state and cancelling any running subscription (§4.2,
// §5 cancellation point) — that is conversation.Engine's job, not
// Ceremony's, since Ceremony has no knowledge of rooms or streams.
func (c *Ceremony) SetAccount(wallet common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Bound
	c.binding = &Binding{WalletAddress: wallet}
}

// Enable drives Bound → Enrolled by prompting the wallet for the enrollment
// signature over EnrollmentPhrase.
func (c *Ceremony) Enable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state < Bound || c.binding == nil {
		return ErrNotBound
	}

	sig, err := c.sign(ctx, []byte(EnrollmentPhrase), c.binding.WalletAddress)
	if err != nil {
		return fmt.Errorf("enrollment signature: %w", ErrUserDenied)
	}

	priv, pub, addr, err := origincrypto.DeriveMessagingKeypair(sig)
	if err != nil {
		return fmt.Errorf("deriving messaging keypair: %w", err)
	}

	c.binding.MessagingPrivateKey = priv
	c.binding.MessagingPublicKey = pub
	c.binding.MessagingAddress = addr
	c.binding.EnrollmentPhrase = []byte(EnrollmentPhrase)
	c.binding.EnrollmentSignature = sig
	c.state = Enrolled

	c.secrets.Set(KeyMessagingPrivateKey+c.binding.WalletAddress.Hex(), priv[:])
	c.secrets.Set(KeyEnrollmentPhrase+c.binding.WalletAddress.Hex(), c.binding.EnrollmentPhrase)

	return nil
}

// Publish drives Enrolled → Published by prompting for the publication
// signature (or reusing cached values) and POSTing the RegistryEntry.
// Per §4.2/§7, a server failure here is non-fatal: the Ceremony stays
// Enrolled and the caller is told via the returned error.
func (c *Ceremony) Publish(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state < Enrolled || c.binding == nil {
		return ErrNotEnrolled
	}

	if c.binding.PublicationSignature == nil {
		msg := PublicationMessageFor(c.binding.MessagingAddress)
		sig, err := c.sign(ctx, []byte(msg), c.binding.WalletAddress)
		if err != nil {
			return fmt.Errorf("publication signature: %w", ErrUserDenied)
		}
		c.binding.PublicationMessage = msg
		c.binding.PublicationSignature = sig
		c.secrets.Set(KeyPublicationMessage+c.binding.WalletAddress.Hex(), []byte(msg))
		c.secrets.Set(KeyPublicationSig+c.binding.WalletAddress.Hex(), sig)
	}

	entry := &registry.Entry{
		WalletAddress:             c.binding.WalletAddress,
		MessagingAddress:          c.binding.MessagingAddress,
		MessagingPublicKey:        c.binding.MessagingPublicKey[:],
		PublicationMessage:        c.binding.PublicationMessage,
		PublicationSignature:      c.binding.PublicationSignature,
		EnrollmentPhrase:          c.binding.EnrollmentPhrase,
		EnrollmentPhraseSignature: c.binding.EnrollmentSignature,
	}

	if err := c.reg.Publish(ctx, entry); err != nil {
		slog.Warn("registry publish failed, staying enrolled", "err", err)
		return err
	}

	c.state = Published
	return nil
}

// AdoptPrecomputed injects a pre-computed enrollment (signatures gathered
// externally), taking the same Bound→Published path as Enable+Publish
// combined.
func (c *Ceremony) AdoptPrecomputed(ctx context.Context, enrollmentSig, publicationSig []byte) error {
	c.mu.Lock()
	if c.state < Bound || c.binding == nil {
		c.mu.Unlock()
		return ErrNotBound
	}

	priv, pub, addr, err := origincrypto.DeriveMessagingKeypair(enrollmentSig)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("deriving messaging keypair: %w", err)
	}
	c.binding.MessagingPrivateKey = priv
	c.binding.MessagingPublicKey = pub
	c.binding.MessagingAddress = addr
	c.binding.EnrollmentPhrase = []byte(EnrollmentPhrase)
	c.binding.EnrollmentSignature = enrollmentSig
	c.binding.PublicationMessage = PublicationMessageFor(addr)
	c.binding.PublicationSignature = publicationSig
	c.state = Enrolled
	c.mu.Unlock()

	return c.Publish(ctx)
}

// InitMessaging reconciles local and server state (§4.2): if a server entry
// exists for this wallet address and its messagingAddress matches the
// locally-derived one, the engine adopts the server's publication
// message/signature; otherwise it re-publishes.
func (c *Ceremony) InitMessaging(ctx context.Context) error {
	c.mu.Lock()
	binding := c.binding
	state := c.state
	c.mu.Unlock()

	if state < Enrolled || binding == nil {
		return ErrNotEnrolled
	}

	entry, err := c.reg.Lookup(ctx, binding.WalletAddress)
	if err != nil {
		return err
	}

	if entry != nil && entry.MessagingAddress == binding.MessagingAddress {
		c.mu.Lock()
		c.binding.PublicationMessage = entry.PublicationMessage
		c.binding.PublicationSignature = entry.PublicationSignature
		c.state = Published
		c.mu.Unlock()
		return nil
	}

	return c.Publish(ctx)
}

// MarkReady transitions Published → Ready once rooms are loaded and
// subscriptions are live. conversation.Engine calls this after loadRooms.
func (c *Ceremony) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Published {
		c.state = Ready
	}
}

func (c *Ceremony) sign(ctx context.Context, message []byte, addr common.Address) ([]byte, error) {
	framed := message
	if c.mode == PersonalSign {
		framed = personalSignFrame(message)
	}
	return c.signer.Sign(ctx, framed, addr)
}

// personalSignFrame applies the EIP-191 personal_sign prefix.
func personalSignFrame(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return append([]byte(prefix), message...)
}
