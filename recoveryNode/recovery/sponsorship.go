package recovery

import (
	"context"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/socialrecovery/recovery-node/recoveryNode/chains/evm"
	rerrors "github.com/socialrecovery/recovery-node/recoveryNode/errors"
	"github.com/socialrecovery/recovery-node/recoveryNode/executor"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

// step names the sponsored transaction and its embedded column prefix.
type step string

const (
	stepExecute  step = "execute"
	stepFinalize step = "finalize"
)

// SponsorExecution queues multiConfirmRecovery with the collected signatures,
// paid for by the network's execution signer. It returns the transaction hash
// when the request was already executed.
func (m *Manager) SponsorExecution(ctx context.Context, id string) (string, error) {
	req, err := m.FindByID(id)
	if err != nil {
		return "", err
	}
	switch {
	case req.Execute.Sponsored, req.Status == store.StatusExecuted,
		req.Status == store.StatusFinalizationInProgress, req.Status == store.StatusFinalized:
		return req.Execute.TransactionHash, nil
	}

	n, err := m.network(req.ChainID)
	if err != nil {
		return "", err
	}
	if !n.Execute.Enabled {
		return "", rerrors.NewValidationError(n.Name, "Recovery execution sponsorship is not enabled on this network")
	}
	if err := m.checkRateLimit(n, n.Execute, req, stepExecute); err != nil {
		return "", err
	}

	account := ethcommon.HexToAddress(req.Account)
	liveNonce, err := n.Contracts.RecoveryNonce(ctx, account)
	if err != nil {
		return "", rerrors.NewRPCError(n.Name, "failed to read recovery nonce", err)
	}
	if !liveNonce.Eq(req.Nonce.Uint256()) {
		return "", rerrors.NewValidationError(n.Name, "Recovery request nonce is stale")
	}

	threshold, err := n.Contracts.Threshold(ctx, account)
	if err != nil {
		return "", rerrors.NewRPCError(n.Name, "failed to read threshold", err)
	}
	collected := uint256.NewInt(uint64(len(req.Signatures)))
	if collected.Lt(threshold) {
		return "", rerrors.NewValidationError(n.Name, fmt.Sprintf(
			"This recovery request has insufficient signatures (collected %d signatures, account threshold is %s)",
			len(req.Signatures), threshold.Dec()))
	}

	pending, err := n.Contracts.PendingRecovery(ctx, account)
	if err != nil {
		return "", rerrors.NewRPCError(n.Name, "failed to read on-chain recovery request", err)
	}
	if pending.GuardiansApprovalCount != nil && !pending.GuardiansApprovalCount.Lt(collected) {
		return "", rerrors.NewConflictError(n.Name, "An on-chain recovery request with at least as many approvals already exists")
	}

	signatures := make([]evm.GuardianSignature, len(req.Signatures))
	for i, s := range req.Signatures {
		raw, err := hexutil.Decode(s.Signature)
		if err != nil {
			return "", rerrors.NewInternalError(n.Name, "stored signature is malformed", err)
		}
		signatures[i] = evm.GuardianSignature{Signer: ethcommon.HexToAddress(s.Signer), Signature: raw}
	}
	data, err := evm.PackMultiConfirmRecovery(account, toAddresses(req.NewOwners), req.NewThreshold, signatures, true)
	if err != nil {
		return "", rerrors.NewInternalError(n.Name, "failed to encode execution call", err)
	}

	if err := m.begin(n, req.ID, stepExecute, store.StatusPending, store.StatusExecutionInProgress); err != nil {
		return "", err
	}
	m.enqueue(n, n.Execute.SignerID, data, req.ID, stepExecute, store.StatusExecuted, store.StatusPending)
	return "", nil
}

// SponsorFinalization queues finalizeRecovery once the on-chain grace period has passed.
func (m *Manager) SponsorFinalization(ctx context.Context, id string) (string, error) {
	req, err := m.FindByID(id)
	if err != nil {
		return "", err
	}
	if req.Finalize.Sponsored || req.Status == store.StatusFinalized {
		return req.Finalize.TransactionHash, nil
	}

	n, err := m.network(req.ChainID)
	if err != nil {
		return "", err
	}
	if req.Status != store.StatusExecuted {
		return "", rerrors.NewValidationError(n.Name, "Recovery request is not executed yet")
	}
	if !n.Finalize.Enabled {
		return "", rerrors.NewValidationError(n.Name, "Recovery finalization sponsorship is not enabled on this network")
	}
	if err := m.checkRateLimit(n, n.Finalize, req, stepFinalize); err != nil {
		return "", err
	}

	account := ethcommon.HexToAddress(req.Account)
	pending, err := n.Contracts.PendingRecovery(ctx, account)
	if err != nil {
		return "", rerrors.NewRPCError(n.Name, "failed to read on-chain recovery request", err)
	}
	if !pending.Active() || pending.ExecuteAfter > uint64(m.now().Unix()) {
		return "", rerrors.NewValidationError(n.Name, "Recovery request is not yet ready for finalization")
	}

	data, err := evm.PackFinalizeRecovery(account)
	if err != nil {
		return "", rerrors.NewInternalError(n.Name, "failed to encode finalization call", err)
	}

	if err := m.begin(n, req.ID, stepFinalize, store.StatusExecuted, store.StatusFinalizationInProgress); err != nil {
		return "", err
	}
	m.enqueue(n, n.Finalize.SignerID, data, req.ID, stepFinalize, store.StatusFinalized, store.StatusExecuted)
	return "", nil
}

// checkRateLimit counts the sponsorships of this step for the account inside the rolling period.
func (m *Manager) checkRateLimit(n *network.Network, policy network.SponsorshipPolicy, req *store.RecoveryRequest, s step) error {
	if policy.RateLimit == nil {
		return nil
	}
	var count int64
	err := m.database.Client().Model(&store.RecoveryRequest{}).
		Where("account = ? AND chain_id = ?", req.Account, req.ChainID).
		Where(string(s)+"_sponsored_at >= ?", m.now().Add(-policy.RateLimit.Period)).
		Count(&count).Error
	if err != nil {
		return rerrors.NewDatabaseError(n.Name, "failed to check sponsorship rate limit", err)
	}
	if count >= int64(policy.RateLimit.MaxPerAccount) {
		return rerrors.NewRateLimitError(n.Name, fmt.Sprintf(
			"Sponsorship limit reached (%d per %s)", policy.RateLimit.MaxPerAccount, policy.RateLimit.Period))
	}
	return nil
}

// begin takes the in-progress guard and moves the request from one status to the next.
func (m *Manager) begin(n *network.Network, id string, s step, from, to string) error {
	m.mu.Lock()
	if _, busy := m.inProgress[id]; busy {
		m.mu.Unlock()
		return rerrors.NewConflictError(n.Name, "Recovery request sponsorship is already in progress")
	}
	m.inProgress[id] = struct{}{}
	m.mu.Unlock()

	res := m.database.Client().Model(&store.RecoveryRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":                    to,
			string(s) + "_sponsored_at": m.now(),
		})
	if res.Error != nil || res.RowsAffected == 0 {
		m.release(id)
		if res.Error != nil {
			return rerrors.NewDatabaseError(n.Name, "failed to update recovery request", res.Error)
		}
		return rerrors.NewConflictError(n.Name, "Recovery request status changed concurrently")
	}
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.inProgress, id)
	m.mu.Unlock()
}

// enqueue submits the call and settles the request status from the executor callback.
func (m *Manager) enqueue(n *network.Network, signerID string, data []byte, id string, s step, done, reverted string) {
	log := m.logger.With().Str("id", id).Str("step", string(s)).Uint64("chain_id", n.ChainID).Logger()

	m.executor.AddTransaction(&executor.Job{
		ChainID:  n.ChainID,
		SignerID: signerID,
		To:       n.RecoveryModule,
		Data:     data,
		Callback: func(success bool, txHash string) {
			defer m.release(id)

			updates := map[string]any{"status": reverted, string(s) + "_sponsored_at": nil}
			if success {
				updates = map[string]any{
					"status":                        done,
					string(s) + "_sponsored":        true,
					string(s) + "_transaction_hash": txHash,
				}
			}
			if err := m.database.Client().Model(&store.RecoveryRequest{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				log.Error().Err(err).Bool("success", success).Msg("failed to record sponsorship outcome")
				return
			}
			if success {
				log.Info().Str("tx_hash", txHash).Msg("sponsored transaction mined")
			} else {
				log.Warn().Msg("sponsored transaction failed, status reverted")
			}
		},
	})
	log.Info().Msg("sponsored transaction queued")
}
