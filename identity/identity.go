// Package identity implements the two-signature enrollment ceremony that
// turns a wallet address into a published messaging identity, grounded on
// the key/address derivation discipline in the teacher's local facilitator
// and the state-driven issuance flow in its token manager.
package identity

import (
	"github.com/ethereum/go-ethereum/common"
)

// EnrollmentPhrase is the fixed constant the wallet signs to derive the
// messaging private key. It must never change: changing it breaks
// cross-client compatibility, since the derivation is deterministic only
// with respect to this exact phrase.
const EnrollmentPhrase = "I am ready to start messaging on Origin."

// PublicationPrefix precedes the messaging address in the message the wallet
// signs to authorize publication of its messaging identity.
const PublicationPrefix = "My public messaging key is: "

// State is the engine's identity lifecycle, as specified in §4.2.
type State int

const (
	// Unbound: no wallet address set.
	Unbound State = iota
	// Bound: wallet address set; no messaging key available yet.
	Bound
	// Enrolled: messaging key derived and cached locally.
	Enrolled
	// Published: enrollment plus publication present locally and on the registry.
	Published
	// Ready: Published, and rooms have been loaded and subscribed.
	Ready
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Enrolled:
		return "enrolled"
	case Published:
		return "published"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Binding is the enrolled messaging identity for a wallet address — the
// AccountBinding of §3.
type Binding struct {
	WalletAddress         common.Address
	MessagingPrivateKey   [32]byte
	MessagingPublicKey    [64]byte
	MessagingAddress      common.Address
	EnrollmentPhrase      []byte
	EnrollmentSignature   []byte
	PublicationMessage    string
	PublicationSignature  []byte
}

// PublicationMessageFor builds the exact text the wallet must sign to
// authorize publishing addr as its messaging address.
func PublicationMessageFor(addr common.Address) string {
	return PublicationPrefix + addr.Hex()
}
