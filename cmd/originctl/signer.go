package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// localSigner signs with an in-process ECDSA private key, standing in for
// the external wallet connector identity.Signer is meant to front. It
// exists for this demo CLI only — a real client never holds a private key
// in the same process as the messaging engine.
type localSigner struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

func newLocalSigner(hexKey string) (*localSigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimPrefix(hexKey, "0x"), "0X")
	priv, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &localSigner{priv: priv, addr: ethcrypto.PubkeyToAddress(priv.PublicKey)}, nil
}

func (s *localSigner) Sign(ctx context.Context, message []byte, address common.Address) ([]byte, error) {
	if address != s.addr {
		return nil, fmt.Errorf("localSigner: address mismatch: have %s, want %s", s.addr.Hex(), address.Hex())
	}
	digest := ethcrypto.Keccak256(message)
	sig, err := ethcrypto.Sign(digest, s.priv)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}
