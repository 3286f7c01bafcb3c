// Package executor submits sponsored transactions with one ordered queue per
// chain and signer, so nonces never collide.
package executor

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/socialrecovery/recovery-node/recoveryNode/config"
	rerrors "github.com/socialrecovery/recovery-node/recoveryNode/errors"
	"github.com/socialrecovery/recovery-node/recoveryNode/gasprice"
	"github.com/socialrecovery/recovery-node/recoveryNode/signer"
)

const defaultReceiptPollInterval = 2 * time.Second

// Backend is the chain access needed to build, submit and confirm a transaction.
type Backend interface {
	PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, txHash ethcommon.Hash, pollInterval time.Duration) (*types.Receipt, error)
}

// SignerSource resolves signers by id.
type SignerSource interface {
	Get(id string) (signer.Signer, bool)
}

// Callback receives the outcome of a job. txHash is empty on failure.
type Callback func(success bool, txHash string)

// Job is one transaction to submit.
type Job struct {
	ChainID  uint64
	SignerID string
	To       ethcommon.Address
	Data     []byte
	Value    *big.Int
	Callback Callback

	retries int
}

type queueKey struct {
	chainID  uint64
	signerID string
}

type chain struct {
	backend   Backend
	estimator gasprice.Estimator
}

// Executor drains per-key FIFO queues, one goroutine per non-empty key.
type Executor struct {
	signers SignerSource
	cfg     config.ExecutorConfig
	metrics *Metrics
	logger  zerolog.Logger

	receiptPollInterval time.Duration

	mu       sync.Mutex
	chains   map[uint64]chain
	queues   map[queueKey][]*Job
	draining map[queueKey]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an executor. Zero config fields fall back to 3 retries, 1.25x gas and 1.5x fees.
func New(signers SignerSource, cfg config.ExecutorConfig, metrics *Metrics, logger zerolog.Logger) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.GasLimitMultiplier <= 0 {
		cfg.GasLimitMultiplier = 1.25
	}
	if cfg.FeeMultiplier <= 0 {
		cfg.FeeMultiplier = 1.5
	}
	if cfg.ReceiptTimeoutSeconds <= 0 {
		cfg.ReceiptTimeoutSeconds = 180
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		signers:             signers,
		cfg:                 cfg,
		metrics:             metrics,
		logger:              logger.With().Str("component", "chain_executor").Logger(),
		receiptPollInterval: defaultReceiptPollInterval,
		chains:              make(map[uint64]chain),
		queues:              make(map[queueKey][]*Job),
		draining:            make(map[queueKey]bool),
		ctx:                 ctx,
		cancel:              cancel,
	}
}

// AddChain registers the backend and gas estimator of a chain.
func (e *Executor) AddChain(chainID uint64, backend Backend, estimator gasprice.Estimator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chains[chainID] = chain{backend: backend, estimator: estimator}
}

// AddTransaction queues job and starts a drain goroutine for its key if none runs. It never blocks.
func (e *Executor) AddTransaction(job *Job) {
	key := queueKey{chainID: job.ChainID, signerID: job.SignerID}

	e.mu.Lock()
	e.queues[key] = append(e.queues[key], job)
	e.observeDepth(key)
	start := !e.draining[key]
	if start {
		e.draining[key] = true
		e.wg.Add(1)
	}
	e.mu.Unlock()

	if start {
		go e.drain(key)
	}
}

// Stop cancels in-flight work and waits for drain goroutines to exit.
func (e *Executor) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Executor) drain(key queueKey) {
	defer e.wg.Done()
	log := e.logger.With().Uint64("chain_id", key.chainID).Str("signer", key.signerID).Logger()

	for {
		e.mu.Lock()
		queue := e.queues[key]
		if len(queue) == 0 {
			delete(e.queues, key)
			delete(e.draining, key)
			e.observeDepth(key)
			e.mu.Unlock()
			return
		}
		job := queue[0]
		e.queues[key] = queue[1:]
		e.observeDepth(key)
		e.mu.Unlock()

		chainLabel := strconv.FormatUint(key.chainID, 10)
		txHash, err := e.execute(e.ctx, job)
		if err == nil {
			e.metrics.submitted.WithLabelValues(chainLabel).Inc()
			log.Info().Str("tx_hash", txHash).Str("to", job.To.Hex()).Msg("transaction mined")
			e.notify(job, true, txHash)
			continue
		}

		job.retries++
		// a missing chain or signer fails the same way on every attempt
		retryable := !rerrors.IsChainError(err, rerrors.ErrCodeConfig)
		if retryable && job.retries < e.cfg.MaxRetries && e.ctx.Err() == nil {
			e.metrics.requeued.WithLabelValues(chainLabel).Inc()
			log.Warn().Err(err).Str("code", string(rerrors.CodeOf(err))).Int("attempt", job.retries).Msg("transaction failed, requeueing")
			e.mu.Lock()
			e.queues[key] = append(e.queues[key], job)
			e.observeDepth(key)
			e.mu.Unlock()
			continue
		}

		e.metrics.failed.WithLabelValues(chainLabel).Inc()
		log.Error().Err(err).Str("code", string(rerrors.CodeOf(err))).Int("attempts", job.retries).Msg("transaction failed, giving up")
		e.notify(job, false, "")
	}
}

func (e *Executor) notify(job *Job, success bool, txHash string) {
	if job.Callback != nil {
		job.Callback(success, txHash)
	}
}

// observeDepth must be called with mu held.
func (e *Executor) observeDepth(key queueKey) {
	e.metrics.queueDepth.
		WithLabelValues(strconv.FormatUint(key.chainID, 10), key.signerID).
		Set(float64(len(e.queues[key])))
}

// execute builds, signs, submits and confirms one transaction.
func (e *Executor) execute(ctx context.Context, job *Job) (string, error) {
	e.mu.Lock()
	c, ok := e.chains[job.ChainID]
	e.mu.Unlock()
	if !ok {
		return "", rerrors.NewConfigError("", fmt.Sprintf("chain %d is not registered", job.ChainID))
	}

	s, ok := e.signers.Get(job.SignerID)
	if !ok {
		return "", rerrors.NewConfigError("", fmt.Sprintf("signer %s is not configured", job.SignerID))
	}
	chain := strconv.FormatUint(job.ChainID, 10)
	from, err := s.Address(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve signer address: %w", err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", rerrors.NewRPCError(chain, "failed to get pending nonce", err)
	}

	value := job.Value
	if value == nil {
		value = new(big.Int)
	}
	to := job.To
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: job.Data})
	if err != nil {
		return "", rerrors.NewRPCError(chain, "failed to estimate gas", err)
	}
	gasLimit := uint64(math.Ceil(float64(gas) * e.cfg.GasLimitMultiplier))

	fees, err := c.estimator.Estimate(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to estimate fees: %w", err)
	}

	chainID := new(big.Int).SetUint64(job.ChainID)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasprice.ScaleBigInt(fees.MaxPriorityFeePerGas, e.cfg.FeeMultiplier),
		GasFeeCap: gasprice.ScaleBigInt(fees.MaxFeePerGas, e.cfg.FeeMultiplier),
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      job.Data,
	})

	txSigner := types.NewLondonSigner(chainID)
	sig, err := s.Sign(ctx, txSigner.Hash(tx).Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signer returned %d bytes", len(sig))
	}
	raw := make([]byte, 65)
	copy(raw, sig)
	if raw[64] >= 27 {
		raw[64] -= 27
	}

	signedTx, err := tx.WithSignature(txSigner, raw)
	if err != nil {
		return "", fmt.Errorf("failed to apply signature: %w", err)
	}
	txHash := signedTx.Hash()

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return "", rerrors.NewTransactionError(chain, "failed to send transaction", err).
			WithContext("tx_hash", txHash.Hex())
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.ReceiptTimeoutSeconds)*time.Second)
	defer cancel()
	receipt, err := c.backend.WaitMined(waitCtx, txHash, e.receiptPollInterval)
	if err != nil {
		if waitCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", rerrors.NewTimeoutError(chain, "timed out waiting for receipt").
				WithContext("tx_hash", txHash.Hex())
		}
		return "", rerrors.NewRPCError(chain, "failed to wait for receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", rerrors.NewTransactionError(chain, "transaction reverted", nil).
			WithSeverity(rerrors.SeverityHigh).
			WithContext("tx_hash", txHash.Hex())
	}
	return txHash.Hex(), nil
}
