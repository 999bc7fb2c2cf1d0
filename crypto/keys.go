package crypto

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrShortSignature is returned when a wallet signature is too short to take
// the first 32 bytes as a messaging private key.
var ErrShortSignature = errors.New("crypto: signature shorter than 32 bytes")

// DeriveMessagingKeypair turns a wallet signature over the enrollment phrase
// into a messaging keypair. The private key is exactly the first 32 bytes of
// the signature — any other derivation breaks cross-client compatibility.
func DeriveMessagingKeypair(enrollmentSignature []byte) (priv [32]byte, pub [64]byte, addr common.Address, err error) {
	if len(enrollmentSignature) < 32 {
		return priv, pub, addr, ErrShortSignature
	}
	copy(priv[:], enrollmentSignature[:32])

	ecdsaPriv, err := ethcrypto.ToECDSA(priv[:])
	if err != nil {
		return priv, pub, addr, err
	}
	pub = marshalPublicKey(&ecdsaPriv.PublicKey)
	addr = ethcrypto.PubkeyToAddress(ecdsaPriv.PublicKey)
	return priv, pub, addr, nil
}

// RecoverSigner recovers the checksummed address that produced signature
// over digest (a 32-byte Keccak256 hash), matching go-ethereum's
// crypto.Ecrecover/SigToPub convention used to verify inbound log entries.
func RecoverSigner(digest, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, errors.New("crypto: signature must be 65 bytes")
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Keccak256 hashes data the way go-ethereum does everywhere else in the pack,
// used here for the canonical-JSON log entry signature digest.
func Keccak256(data ...[]byte) []byte {
	return ethcrypto.Keccak256(data...)
}
