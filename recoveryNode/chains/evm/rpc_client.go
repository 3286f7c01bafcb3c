package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// EthClient is the subset of *ethclient.Client the node relies on.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account ethcommon.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

var _ EthClient = (*ethclient.Client)(nil)

// RPCClient provides EVM RPC operations with round-robin failover across endpoints
type RPCClient struct {
	clients []EthClient
	index   uint64
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewRPCClient dials every URL and keeps the endpoints that answer with the expected chain id
func NewRPCClient(rpcURLs []string, expectedChainID uint64, logger zerolog.Logger) (*RPCClient, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("no RPC URLs provided")
	}

	log := logger.With().Str("component", "evm_rpc_client").Uint64("chain_id", expectedChainID).Logger()
	clients := make([]EthClient, 0, len(rpcURLs))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, url := range rpcURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("failed to connect to RPC endpoint, skipping")
			continue
		}

		clientChainID, err := client.ChainID(ctx)
		if err != nil {
			// Slow endpoints are kept; the failover loop skips them if they keep failing.
			log.Warn().Err(err).Str("url", url).Msg("failed to verify chain ID, proceeding with client anyway")
			clients = append(clients, client)
			continue
		}

		if !clientChainID.IsUint64() || clientChainID.Uint64() != expectedChainID {
			client.Close()
			log.Warn().
				Str("url", url).
				Str("actual_chain_id", clientChainID.String()).
				Msg("chain ID mismatch, closing client")
			continue
		}

		clients = append(clients, client)
		log.Info().Str("url", url).Msg("connected to RPC endpoint")
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("failed to connect to any valid RPC endpoints")
	}

	return NewRPCClientWithClients(clients, log), nil
}

// NewRPCClientWithClients wraps already connected clients.
func NewRPCClientWithClients(clients []EthClient, logger zerolog.Logger) *RPCClient {
	return &RPCClient{
		clients: clients,
		logger:  logger,
	}
}

// executeWithFailover executes a function with round-robin failover
func (rc *RPCClient) executeWithFailover(ctx context.Context, operation string, fn func(EthClient) error) error {
	rc.mu.RLock()
	clients := rc.clients
	rc.mu.RUnlock()

	if len(clients) == 0 {
		return fmt.Errorf("no RPC clients available for %s", operation)
	}

	var lastErr error
	maxAttempts := len(clients)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		index := atomic.AddUint64(&rc.index, 1) - 1
		client := clients[index%uint64(len(clients))]
		if client == nil {
			continue
		}

		err := fn(client)
		if err == nil {
			return nil
		}
		lastErr = err

		rc.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Err(err).
			Msg("operation failed, trying next endpoint")
	}

	return fmt.Errorf("operation %s failed after trying %d endpoints: %w", operation, maxAttempts, lastErr)
}

// IsHealthy checks if any RPC in the pool answers a block number query
func (rc *RPCClient) IsHealthy(ctx context.Context) bool {
	rc.mu.RLock()
	hasClients := len(rc.clients) > 0
	rc.mu.RUnlock()

	if !hasClients {
		return false
	}

	_, err := rc.BlockNumber(ctx)
	return err == nil
}

// BlockNumber returns the latest block number
func (rc *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNum uint64
	err := rc.executeWithFailover(ctx, "get_block_number", func(client EthClient) error {
		var innerErr error
		blockNum, innerErr = client.BlockNumber(ctx)
		return innerErr
	})
	return blockNum, err
}

// HeaderByNumber returns a block header; nil number means the latest block
func (rc *RPCClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := rc.executeWithFailover(ctx, "get_header", func(client EthClient) error {
		var innerErr error
		header, innerErr = client.HeaderByNumber(ctx, number)
		return innerErr
	})
	return header, err
}

// FilterLogs fetches logs matching the filter query
func (rc *RPCClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := rc.executeWithFailover(ctx, "filter_logs", func(client EthClient) error {
		var innerErr error
		logs, innerErr = client.FilterLogs(ctx, query)
		return innerErr
	})
	return logs, err
}

// EstimateGas estimates the gas needed to execute msg
func (rc *RPCClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := rc.executeWithFailover(ctx, "estimate_gas", func(client EthClient) error {
		var innerErr error
		gas, innerErr = client.EstimateGas(ctx, msg)
		return innerErr
	})
	return gas, err
}

// PendingNonceAt returns the next nonce for account including pending transactions
func (rc *RPCClient) PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error) {
	var nonce uint64
	err := rc.executeWithFailover(ctx, "get_pending_nonce", func(client EthClient) error {
		var innerErr error
		nonce, innerErr = client.PendingNonceAt(ctx, account)
		return innerErr
	})
	return nonce, err
}

// SuggestGasTipCap returns the node's eth_maxPriorityFeePerGas
func (rc *RPCClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var tip *big.Int
	err := rc.executeWithFailover(ctx, "suggest_gas_tip_cap", func(client EthClient) error {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		var innerErr error
		tip, innerErr = client.SuggestGasTipCap(callCtx)
		return innerErr
	})
	return tip, err
}

// SendTransaction broadcasts a signed transaction
func (rc *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return rc.executeWithFailover(ctx, "send_transaction", func(client EthClient) error {
		return client.SendTransaction(ctx, tx)
	})
}

// TransactionReceipt fetches a transaction receipt
func (rc *RPCClient) TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := rc.executeWithFailover(ctx, "get_transaction_receipt", func(client EthClient) error {
		var innerErr error
		receipt, innerErr = client.TransactionReceipt(ctx, txHash)
		return innerErr
	})
	return receipt, err
}

// WaitMined polls for the receipt of txHash until it is available or ctx ends.
func (rc *RPCClient) WaitMined(ctx context.Context, txHash ethcommon.Hash, pollInterval time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := rc.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil {
			rc.logger.Debug().Err(err).Str("tx_hash", txHash.Hex()).Msg("receipt not available yet")
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt of %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// CallContract executes a read-only call
func (rc *RPCClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := rc.executeWithFailover(ctx, "call_contract", func(client EthClient) error {
		var innerErr error
		out, innerErr = client.CallContract(ctx, msg, blockNumber)
		return innerErr
	})
	return out, err
}

// CodeAt returns the contract code deployed at account
func (rc *RPCClient) CodeAt(ctx context.Context, account ethcommon.Address, blockNumber *big.Int) ([]byte, error) {
	var code []byte
	err := rc.executeWithFailover(ctx, "get_code", func(client EthClient) error {
		var innerErr error
		code, innerErr = client.CodeAt(ctx, account, blockNumber)
		return innerErr
	})
	return code, err
}

// Close closes all RPC connections
func (rc *RPCClient) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for _, client := range rc.clients {
		if client != nil {
			client.Close()
		}
	}
	rc.clients = nil
}
