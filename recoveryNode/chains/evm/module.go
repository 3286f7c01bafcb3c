package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const recoveryModuleABIJSON = `[
  {"type":"function","name":"nonce","stateMutability":"view",
   "inputs":[{"name":"wallet","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getGuardians","stateMutability":"view",
   "inputs":[{"name":"wallet","type":"address"}],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"isGuardian","stateMutability":"view",
   "inputs":[{"name":"wallet","type":"address"},{"name":"guardian","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"threshold","stateMutability":"view",
   "inputs":[{"name":"wallet","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getRecoveryHash","stateMutability":"view",
   "inputs":[{"name":"wallet","type":"address"},{"name":"newOwners","type":"address[]"},{"name":"newThreshold","type":"uint256"},{"name":"nonce","type":"uint256"}],
   "outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getRecoveryRequest","stateMutability":"view",
   "inputs":[{"name":"wallet","type":"address"}],
   "outputs":[{"name":"request","type":"tuple","components":[
     {"name":"guardiansApprovalCount","type":"uint256"},
     {"name":"newThreshold","type":"uint256"},
     {"name":"executeAfter","type":"uint64"},
     {"name":"newOwners","type":"address[]"}]}]},
  {"type":"function","name":"multiConfirmRecovery","stateMutability":"nonpayable",
   "inputs":[{"name":"wallet","type":"address"},{"name":"newOwners","type":"address[]"},{"name":"newThreshold","type":"uint256"},
     {"name":"signatures","type":"tuple[]","components":[{"name":"signer","type":"address"},{"name":"signature","type":"bytes"}]},
     {"name":"execute","type":"bool"}],"outputs":[]},
  {"type":"function","name":"finalizeRecovery","stateMutability":"nonpayable",
   "inputs":[{"name":"wallet","type":"address"}],"outputs":[]}
]`

const safeABIJSON = `[
  {"type":"function","name":"nonce","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	recoveryModuleABI = mustParseABI(recoveryModuleABIJSON)
	safeABI           = mustParseABI(safeABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded ABI: %v", err))
	}
	return parsed
}

// ContractCaller is the read-only chain access the bindings need.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account ethcommon.Address, blockNumber *big.Int) ([]byte, error)
}

// GuardianSignature is one entry of the multiConfirmRecovery signatures array.
type GuardianSignature struct {
	Signer    ethcommon.Address
	Signature []byte
}

// PendingRecovery mirrors the module's stored recovery request for a wallet.
type PendingRecovery struct {
	GuardiansApprovalCount *uint256.Int
	NewThreshold           *uint256.Int
	ExecuteAfter           uint64
	NewOwners              []ethcommon.Address
}

// Active reports whether the module holds a recovery request awaiting finalization.
func (p PendingRecovery) Active() bool {
	return p.ExecuteAfter > 0
}

type recoveryRequestTuple struct {
	GuardiansApprovalCount *big.Int
	NewThreshold           *big.Int
	ExecuteAfter           uint64
	NewOwners              []ethcommon.Address
}

// RecoveryModule binds the social recovery module deployed at one address.
type RecoveryModule struct {
	caller  ContractCaller
	address ethcommon.Address
}

// NewRecoveryModule creates bindings for the module at address.
func NewRecoveryModule(caller ContractCaller, address ethcommon.Address) *RecoveryModule {
	return &RecoveryModule{caller: caller, address: address}
}

// Address returns the module address.
func (m *RecoveryModule) Address() ethcommon.Address {
	return m.address
}

func (m *RecoveryModule) call(ctx context.Context, contract abi.ABI, to ethcommon.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := m.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s failed: %w", method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("call %s returned no values", method)
	}
	return values, nil
}

// WalletNonce reads the Safe transaction nonce of account; it fails for non-Safe accounts.
func (m *RecoveryModule) WalletNonce(ctx context.Context, account ethcommon.Address) (*uint256.Int, error) {
	values, err := m.call(ctx, safeABI, account, "nonce")
	if err != nil {
		return nil, err
	}
	return toUint256(values[0])
}

// RecoveryNonce reads the module's recovery nonce for account.
func (m *RecoveryModule) RecoveryNonce(ctx context.Context, account ethcommon.Address) (*uint256.Int, error) {
	values, err := m.call(ctx, recoveryModuleABI, m.address, "nonce", account)
	if err != nil {
		return nil, err
	}
	return toUint256(values[0])
}

// Threshold reads the guardian threshold of account.
func (m *RecoveryModule) Threshold(ctx context.Context, account ethcommon.Address) (*uint256.Int, error) {
	values, err := m.call(ctx, recoveryModuleABI, m.address, "threshold", account)
	if err != nil {
		return nil, err
	}
	return toUint256(values[0])
}

// IsGuardian reports whether guardian protects account.
func (m *RecoveryModule) IsGuardian(ctx context.Context, account, guardian ethcommon.Address) (bool, error) {
	values, err := m.call(ctx, recoveryModuleABI, m.address, "isGuardian", account, guardian)
	if err != nil {
		return false, err
	}
	ok, isBool := values[0].(bool)
	if !isBool {
		return false, fmt.Errorf("unexpected isGuardian result %T", values[0])
	}
	return ok, nil
}

// Guardians lists the current guardians of account.
func (m *RecoveryModule) Guardians(ctx context.Context, account ethcommon.Address) ([]ethcommon.Address, error) {
	values, err := m.call(ctx, recoveryModuleABI, m.address, "getGuardians", account)
	if err != nil {
		return nil, err
	}
	guardians, ok := values[0].([]ethcommon.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected getGuardians result %T", values[0])
	}
	return guardians, nil
}

// RecoveryHash returns the digest guardians sign to approve a recovery.
func (m *RecoveryModule) RecoveryHash(
	ctx context.Context,
	account ethcommon.Address,
	newOwners []ethcommon.Address,
	newThreshold uint64,
	nonce *uint256.Int,
) (ethcommon.Hash, error) {
	values, err := m.call(ctx, recoveryModuleABI, m.address, "getRecoveryHash",
		account, newOwners, new(big.Int).SetUint64(newThreshold), nonce.ToBig())
	if err != nil {
		return ethcommon.Hash{}, err
	}
	hash, ok := values[0].([32]byte)
	if !ok {
		return ethcommon.Hash{}, fmt.Errorf("unexpected getRecoveryHash result %T", values[0])
	}
	return ethcommon.Hash(hash), nil
}

// PendingRecovery reads the recovery request stored on-chain for account.
func (m *RecoveryModule) PendingRecovery(ctx context.Context, account ethcommon.Address) (PendingRecovery, error) {
	values, err := m.call(ctx, recoveryModuleABI, m.address, "getRecoveryRequest", account)
	if err != nil {
		return PendingRecovery{}, err
	}

	raw := *abi.ConvertType(values[0], new(recoveryRequestTuple)).(*recoveryRequestTuple)

	approvals, err := toUint256(raw.GuardiansApprovalCount)
	if err != nil {
		return PendingRecovery{}, err
	}
	threshold, err := toUint256(raw.NewThreshold)
	if err != nil {
		return PendingRecovery{}, err
	}
	return PendingRecovery{
		GuardiansApprovalCount: approvals,
		NewThreshold:           threshold,
		ExecuteAfter:           raw.ExecuteAfter,
		NewOwners:              raw.NewOwners,
	}, nil
}

// IsValidSignature checks signature over digest by signer (ECDSA first, then EIP-1271).
func (m *RecoveryModule) IsValidSignature(ctx context.Context, signer ethcommon.Address, digest ethcommon.Hash, signature []byte) (bool, error) {
	return VerifySignature(ctx, m.caller, signer, digest, signature)
}

// IsValidMessageSignature checks an EIP-191 personal message signature.
func (m *RecoveryModule) IsValidMessageSignature(ctx context.Context, signer ethcommon.Address, message string, signature []byte) (bool, error) {
	return VerifyMessageSignature(ctx, m.caller, signer, message, signature)
}

// PackMultiConfirmRecovery encodes the call that submits guardian approvals and optionally executes the recovery.
func PackMultiConfirmRecovery(
	account ethcommon.Address,
	newOwners []ethcommon.Address,
	newThreshold uint64,
	signatures []GuardianSignature,
	execute bool,
) ([]byte, error) {
	return recoveryModuleABI.Pack("multiConfirmRecovery",
		account, newOwners, new(big.Int).SetUint64(newThreshold), signatures, execute)
}

// PackFinalizeRecovery encodes the call that finalizes an executed recovery.
func PackFinalizeRecovery(account ethcommon.Address) ([]byte, error) {
	return recoveryModuleABI.Pack("finalizeRecovery", account)
}

func toUint256(v any) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return nil, fmt.Errorf("unexpected integer type %T", v)
	}
	out, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("integer %s overflows 256 bits", b)
	}
	return out, nil
}
