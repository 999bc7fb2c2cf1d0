package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

// ErrInvalidPublicKey is returned when a 64-byte uncompressed point cannot be
// parsed as a valid secp256k1 public key.
var ErrInvalidPublicKey = errors.New("crypto: invalid secp256k1 public key")

// Wrap encrypts plaintext for the holder of the secp256k1 private key
// corresponding to pub (a 64-byte uncompressed point with the leading 0x04
// tag byte already stripped, as used throughout the registry and codec).
func Wrap(pub [64]byte, plaintext []byte) ([]byte, error) {
	pk, err := unmarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}
	eciesPub := ecies.ImportECDSAPublic(pk)
	return eciesPub.Encrypt(rand.Reader, plaintext, nil, nil)
}

// Unwrap decrypts ciphertext produced by Wrap using the 32-byte secp256k1
// scalar priv.
func Unwrap(priv [32]byte, ciphertext []byte) ([]byte, error) {
	ecdsaPriv, err := ethcrypto.ToECDSA(priv[:])
	if err != nil {
		return nil, err
	}
	eciesPriv := ecies.ImportECDSA(ecdsaPriv)
	return eciesPriv.Decrypt(ciphertext, nil, nil)
}

// unmarshalPublicKey rebuilds an *ecdsa.PublicKey from the 64-byte
// tag-stripped uncompressed point form used on the wire.
func unmarshalPublicKey(pub [64]byte) (*ecdsa.PublicKey, error) {
	full := make([]byte, 0, 65)
	full = append(full, 0x04)
	full = append(full, pub[:]...)
	pk, err := ethcrypto.UnmarshalPubkey(full)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return pk, nil
}

// marshalPublicKey returns the 64-byte tag-stripped uncompressed point form
// of pub.
func marshalPublicKey(pub *ecdsa.PublicKey) [64]byte {
	var out [64]byte
	full := ethcrypto.FromECDSAPub(pub) // 0x04 || X || Y
	copy(out[:], full[1:])
	return out
}
