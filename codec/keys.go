package codec

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	origincrypto "github.com/originprotocol/origin-messaging-go/crypto"
	"github.com/originprotocol/origin-messaging-go/registry"
)

// Participant is the minimal per-participant data EncodeKeys needs: the
// wallet address it announces membership under, and the registry entry
// used to wrap the fresh room key for that participant.
type Participant struct {
	WalletAddress string
	Entry         *registry.Entry
}

// EncodeKeys generates a fresh 32-byte room key and wraps a copy for each
// participant, producing the "keys" envelope of §4.5. It returns both the
// envelope (to publish) and the raw key (for the caller to add to its own
// local keystore on publish success).
func EncodeKeys(selfWalletAddress string, participants []Participant) (*KeysEnvelope, [32]byte, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, key, err
	}

	grants := make([]KeyGrant, 0, len(participants))
	for _, p := range participants {
		wrapped, err := origincrypto.Wrap(toPubKeyArray(p.Entry.MessagingPublicKey), key[:])
		if err != nil {
			return nil, key, fmt.Errorf("wrapping key for %s: %w", p.WalletAddress, err)
		}
		grants = append(grants, KeyGrant{
			Address:          p.WalletAddress,
			MessagingAddress: p.Entry.MessagingAddress.Hex(),
			WrappedKey:       hex.EncodeToString(wrapped),
		})
	}

	return &KeysEnvelope{
		Type:    EnvelopeKeys,
		Address: selfWalletAddress,
		Keys:    grants,
	}, key, nil
}

// DecodeKeys recovers any room keys in env addressed to selfWalletAddress,
// attempting unwrap with selfMessagingPrivateKey. Entries addressed to
// other participants are ignored; unwrap failures are silently skipped —
// they can legitimately occur for entries not destined for us (§4.5).
func DecodeKeys(env *KeysEnvelope, selfWalletAddress string, selfMessagingPrivateKey [32]byte) [][32]byte {
	var recovered [][32]byte
	for _, grant := range env.Keys {
		if grant.Address != selfWalletAddress {
			continue
		}
		wrapped, err := hex.DecodeString(grant.WrappedKey)
		if err != nil {
			continue
		}
		plain, err := origincrypto.Unwrap(selfMessagingPrivateKey, wrapped)
		if err != nil || len(plain) != 32 {
			continue
		}
		var key [32]byte
		copy(key[:], plain)
		recovered = append(recovered, key)
	}
	return recovered
}

// ParseKeysEnvelope decodes raw JSON content as a KeysEnvelope.
func ParseKeysEnvelope(raw json.RawMessage) (*KeysEnvelope, error) {
	var env KeysEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func toPubKeyArray(b []byte) [64]byte {
	var out [64]byte
	copy(out[:], b)
	return out
}
