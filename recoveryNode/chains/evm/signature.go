package evm

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc1271ABIJSON = `[
  {"type":"function","name":"isValidSignature","stateMutability":"view",
   "inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"outputs":[{"name":"","type":"bytes4"}]}
]`

var (
	erc1271ABI = mustParseABI(erc1271ABIJSON)

	// erc1271MagicValue is bytes4(keccak256("isValidSignature(bytes32,bytes)")).
	erc1271MagicValue = []byte{0x16, 0x26, 0xba, 0x7e}
)

// RecoverAddress returns the address that produced the 65-byte signature over digest.
// v is accepted as 0/1 or 27/28.
func RecoverAddress(digest []byte, signature []byte) (ethcommon.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return ethcommon.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature accepts an ECDSA signature from signer, or falls back to the
// EIP-1271 isValidSignature check when signer is a contract.
func VerifySignature(ctx context.Context, caller ContractCaller, signer ethcommon.Address, digest ethcommon.Hash, signature []byte) (bool, error) {
	if recovered, err := RecoverAddress(digest.Bytes(), signature); err == nil && recovered == signer {
		return true, nil
	}

	code, err := caller.CodeAt(ctx, signer, nil)
	if err != nil {
		return false, fmt.Errorf("failed to read code at %s: %w", signer.Hex(), err)
	}
	if len(code) == 0 {
		return false, nil
	}

	data, err := erc1271ABI.Pack("isValidSignature", [32]byte(digest), signature)
	if err != nil {
		return false, fmt.Errorf("failed to pack isValidSignature: %w", err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &signer, Data: data}, nil)
	if err != nil {
		// reverting validators reject the signature
		return false, nil
	}
	return len(out) >= 4 && bytes.Equal(out[:4], erc1271MagicValue), nil
}

// VerifyMessageSignature verifies an EIP-191 personal_sign signature over message.
func VerifyMessageSignature(ctx context.Context, caller ContractCaller, signer ethcommon.Address, message string, signature []byte) (bool, error) {
	digest := ethcommon.BytesToHash(accounts.TextHash([]byte(message)))
	return VerifySignature(ctx, caller, signer, digest, signature)
}
