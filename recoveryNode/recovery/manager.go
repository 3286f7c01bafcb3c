// Package recovery manages recovery requests: creation, guardian signature
// collection and sponsored on-chain execution and finalization.
package recovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
	"github.com/socialrecovery/recovery-node/recoveryNode/db"
	rerrors "github.com/socialrecovery/recovery-node/recoveryNode/errors"
	"github.com/socialrecovery/recovery-node/recoveryNode/executor"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

// Enqueuer accepts sponsored transactions.
type Enqueuer interface {
	AddTransaction(job *executor.Job)
}

// Manager owns the recovery request lifecycle.
type Manager struct {
	database *db.DB
	networks *network.Registry
	executor Enqueuer
	logger   zerolog.Logger
	now      func() time.Time

	mu         sync.Mutex
	inProgress map[string]struct{}
}

// NewManager creates a manager.
func NewManager(database *db.DB, networks *network.Registry, exec Enqueuer, logger zerolog.Logger) *Manager {
	return &Manager{
		database:   database,
		networks:   networks,
		executor:   exec,
		logger:     logger.With().Str("component", "recovery_manager").Logger(),
		now:        time.Now,
		inProgress: make(map[string]struct{}),
	}
}

func (m *Manager) network(chainID uint64) (*network.Network, error) {
	n, ok := m.networks.Get(chainID)
	if !ok || n.Contracts == nil {
		return nil, rerrors.NewValidationError("", "Unsupported chain")
	}
	return n, nil
}

// Create stores a new recovery request bootstrapped with the signature of one guardian.
func (m *Manager) Create(
	ctx context.Context,
	account string,
	newOwners []string,
	newThreshold uint64,
	chainID uint64,
	signer string,
	signature string,
) (*store.RecoveryRequest, error) {
	n, err := m.network(chainID)
	if err != nil {
		return nil, err
	}
	if !ethcommon.IsHexAddress(account) {
		return nil, rerrors.NewValidationError(n.Name, "Invalid account address")
	}
	owners := make([]string, len(newOwners))
	for i, owner := range newOwners {
		if !ethcommon.IsHexAddress(owner) {
			return nil, rerrors.NewValidationError(n.Name, "Invalid owner address")
		}
		owners[i] = strings.ToLower(owner)
	}
	account = strings.ToLower(account)

	var recent int64
	err = m.database.Client().Model(&store.RecoveryRequest{}).
		Where("account = ? AND chain_id = ? AND created_at >= ?", account, chainID, m.now().Add(-constant.RecoveryCreationCooldown)).
		Count(&recent).Error
	if err != nil {
		return nil, rerrors.NewDatabaseError(n.Name, "failed to check recent requests", err)
	}
	if recent > 0 {
		return nil, rerrors.NewRateLimitError(n.Name, "You can only create 1 recovery request every 5 minutes")
	}

	accountAddr := ethcommon.HexToAddress(account)
	if _, err := n.Contracts.WalletNonce(ctx, accountAddr); err != nil {
		return nil, rerrors.NewValidationError(n.Name, "Account address is not a safe smart contract account")
	}
	nonce, err := n.Contracts.RecoveryNonce(ctx, accountAddr)
	if err != nil {
		return nil, rerrors.NewRPCError(n.Name, "failed to read recovery nonce", err)
	}

	req := &store.RecoveryRequest{
		Emoji:        newEmojiSet(),
		Account:      account,
		ChainID:      chainID,
		NewOwners:    owners,
		NewThreshold: newThreshold,
		Nonce:        store.NewBigUint(nonce),
		Signatures:   []store.RecoverySignature{},
		Status:       store.StatusPending,
	}
	if err := m.database.Client().Create(req).Error; err != nil {
		return nil, rerrors.NewDatabaseError(n.Name, "failed to store recovery request", err)
	}

	if err := m.sign(ctx, n, req, signer, signature); err != nil {
		if delErr := m.database.Client().Delete(&store.RecoveryRequest{}, "id = ?", req.ID).Error; delErr != nil {
			m.logger.Error().Err(delErr).Str("id", req.ID).Msg("failed to delete unsigned recovery request")
		}
		return nil, err
	}

	if err := m.database.Client().Model(&store.RecoveryRequest{}).
		Where("id = ?", req.ID).Update("discoverable", true).Error; err != nil {
		return nil, rerrors.NewDatabaseError(n.Name, "failed to publish recovery request", err)
	}

	m.logger.Info().Str("id", req.ID).Str("account", account).Uint64("chain_id", chainID).Msg("recovery request created")
	return m.FindByID(req.ID)
}

// SignRecoveryHash adds a guardian signature to an existing request. Repeated signatures are accepted without change.
func (m *Manager) SignRecoveryHash(ctx context.Context, id, signer, signature string) error {
	req, err := m.FindByID(id)
	if err != nil {
		return err
	}
	n, err := m.network(req.ChainID)
	if err != nil {
		return err
	}
	return m.sign(ctx, n, req, signer, signature)
}

func (m *Manager) sign(ctx context.Context, n *network.Network, req *store.RecoveryRequest, signer, signature string) error {
	if !ethcommon.IsHexAddress(signer) {
		return rerrors.NewValidationError(n.Name, "Invalid signer address")
	}
	signerAddr := ethcommon.HexToAddress(signer)
	accountAddr := ethcommon.HexToAddress(req.Account)

	isGuardian, err := n.Contracts.IsGuardian(ctx, accountAddr, signerAddr)
	if err != nil {
		return rerrors.NewRPCError(n.Name, "failed to check guardian", err)
	}
	if !isGuardian {
		return rerrors.NewValidationError(n.Name, "Signer not a guardian")
	}

	hash, err := n.Contracts.RecoveryHash(ctx, accountAddr, toAddresses(req.NewOwners), req.NewThreshold, req.Nonce.Uint256())
	if err != nil {
		return rerrors.NewRPCError(n.Name, "failed to compute recovery hash", err)
	}

	sigBytes, err := hexutil.Decode(signature)
	if err != nil {
		return rerrors.NewValidationError(n.Name, "Invalid signature")
	}
	valid, err := n.Contracts.IsValidSignature(ctx, signerAddr, hash, sigBytes)
	if err != nil {
		return rerrors.NewRPCError(n.Name, "failed to verify signature", err)
	}
	if !valid {
		return rerrors.NewValidationError(n.Name, "Invalid signature")
	}

	err = m.database.Client().Transaction(func(tx *gorm.DB) error {
		var current store.RecoveryRequest
		if err := tx.First(&current, "id = ?", req.ID).Error; err != nil {
			return err
		}
		if current.HasSigner(signerAddr.Hex()) {
			return nil
		}
		current.Signatures = append(current.Signatures, store.RecoverySignature{
			Signer:    signerAddr.Hex(),
			Signature: hexutil.Encode(sigBytes),
		})
		sort.Slice(current.Signatures, func(i, j int) bool {
			return strings.ToLower(current.Signatures[i].Signer) < strings.ToLower(current.Signatures[j].Signer)
		})
		return tx.Model(&current).Select("signatures").Updates(&current).Error
	})
	if err != nil {
		return rerrors.NewDatabaseError(n.Name, "failed to store signature", err)
	}
	return nil
}

// FindByAccount returns the discoverable requests of account for one recovery nonce.
func (m *Manager) FindByAccount(account string, chainID uint64, nonce *uint256.Int) ([]store.RecoveryRequest, error) {
	var requests []store.RecoveryRequest
	err := m.database.Client().
		Where("account = ? AND chain_id = ? AND nonce = ? AND discoverable = ?",
			strings.ToLower(account), chainID, nonce.Dec(), true).
		Order("created_at").
		Find(&requests).Error
	if err != nil {
		return nil, rerrors.NewDatabaseError("", "failed to query recovery requests", err)
	}
	return requests, nil
}

// FindByID returns one request.
func (m *Manager) FindByID(id string) (*store.RecoveryRequest, error) {
	var req store.RecoveryRequest
	err := m.database.Client().First(&req, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, rerrors.NewNotFoundError("Recovery request not found")
	}
	if err != nil {
		return nil, rerrors.NewDatabaseError("", "failed to load recovery request", err)
	}
	return &req, nil
}

func toAddresses(hexes []string) []ethcommon.Address {
	out := make([]ethcommon.Address, len(hexes))
	for i, h := range hexes {
		out[i] = ethcommon.HexToAddress(h)
	}
	return out
}
