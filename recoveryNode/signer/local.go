package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner signs with an in-process secp256k1 key.
type LocalSigner struct {
	id      string
	key     *ecdsa.PrivateKey
	address ethcommon.Address
}

// NewLocalSigner parses a hex private key, with or without 0x prefix.
func NewLocalSigner(id, privateKeyHex string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewLocalSignerFromKey(id, key), nil
}

// NewLocalSignerFromKey wraps an existing key.
func NewLocalSignerFromKey(id string, key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{
		id:      id,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *LocalSigner) ID() string { return s.id }

func (s *LocalSigner) Address(context.Context) (ethcommon.Address, error) {
	return s.address, nil
}

func (s *LocalSigner) Sign(_ context.Context, digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *LocalSigner) HealthCheck(context.Context) error {
	return nil
}
