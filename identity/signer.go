package identity

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// SignMode selects how Signer.Sign frames the message before the wallet
// signs it, as specified in §6.
type SignMode int

const (
	// PersonalSign wraps message in the EIP-191 personal_sign envelope.
	PersonalSign SignMode = iota
	// RawSign signs message bytes directly with no framing.
	RawSign
)

// Signer is the external wallet signer collaborator (§6, out of scope to
// implement here). The engine is configured with which signing convention
// the wallet uses.
type Signer interface {
	Sign(ctx context.Context, message []byte, address common.Address) ([]byte, error)
}
