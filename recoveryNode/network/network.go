// Package network holds the immutable per-chain settings the node serves.
package network

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/socialrecovery/recovery-node/recoveryNode/chains/evm"
	"github.com/socialrecovery/recovery-node/recoveryNode/config"
)

//go:generate mockgen -source=network.go -destination=mocks/contracts.go -package=mocks

// Contracts is the on-chain surface of a network's recovery module.
type Contracts interface {
	WalletNonce(ctx context.Context, account ethcommon.Address) (*uint256.Int, error)
	RecoveryNonce(ctx context.Context, account ethcommon.Address) (*uint256.Int, error)
	IsGuardian(ctx context.Context, account, guardian ethcommon.Address) (bool, error)
	Guardians(ctx context.Context, account ethcommon.Address) ([]ethcommon.Address, error)
	Threshold(ctx context.Context, account ethcommon.Address) (*uint256.Int, error)
	RecoveryHash(ctx context.Context, account ethcommon.Address, newOwners []ethcommon.Address, newThreshold uint64, nonce *uint256.Int) (ethcommon.Hash, error)
	PendingRecovery(ctx context.Context, account ethcommon.Address) (evm.PendingRecovery, error)
	IsValidSignature(ctx context.Context, signer ethcommon.Address, digest ethcommon.Hash, signature []byte) (bool, error)
	IsValidMessageSignature(ctx context.Context, signer ethcommon.Address, message string, signature []byte) (bool, error)
}

var _ Contracts = (*evm.RecoveryModule)(nil)

// RateLimit caps sponsorships per account over a rolling period.
type RateLimit struct {
	MaxPerAccount int
	Period        time.Duration
}

// SponsorshipPolicy controls whether the node pays for one recovery step.
type SponsorshipPolicy struct {
	Enabled   bool
	SignerID  string
	RateLimit *RateLimit
}

// Network is the runtime view of one configured chain.
type Network struct {
	Name           string
	ChainID        uint64
	RecoveryModule ethcommon.Address

	Execute  SponsorshipPolicy
	Finalize SponsorshipPolicy

	// GuardianSignerID is empty when the node does not act as a guardian.
	GuardianSignerID string
	// AlertGroup is empty when guardian challenges are disabled.
	AlertGroup string

	IndexerEnabled    bool
	IndexerStartBlock *int64

	GasStrategy    string
	GasScaleFactor float64

	RPC       *evm.RPCClient
	Contracts Contracts
}

// GuardianEnabled reports whether the node signs recoveries for this network.
func (n *Network) GuardianEnabled() bool {
	return n.GuardianSignerID != ""
}

// FromConfig converts one network section. rpc may be nil when chain access is injected later.
func FromConfig(name string, cfg config.NetworkConfig, rpc *evm.RPCClient) *Network {
	n := &Network{
		Name:              name,
		ChainID:           cfg.ChainID,
		RecoveryModule:    ethcommon.HexToAddress(cfg.RecoveryModuleAddress),
		Execute:           policyFromConfig(cfg.ExecuteRecoveryRequests),
		Finalize:          policyFromConfig(cfg.FinalizeRecoveryRequests),
		GuardianSignerID:  cfg.Guardian,
		AlertGroup:        cfg.AlertGroup(),
		IndexerEnabled:    cfg.Indexer.Enabled,
		IndexerStartBlock: cfg.Indexer.StartBlock,
		GasStrategy:       cfg.GasPrice.Strategy,
		GasScaleFactor:    cfg.GasPrice.ScaleFactor,
		RPC:               rpc,
	}
	if rpc != nil {
		n.Contracts = evm.NewRecoveryModule(rpc, n.RecoveryModule)
	}
	return n
}

func policyFromConfig(cfg config.SponsorshipConfig) SponsorshipPolicy {
	policy := SponsorshipPolicy{Enabled: cfg.Enabled, SignerID: cfg.Signer}
	if cfg.RateLimit != nil && cfg.RateLimit.MaxPerAccount > 0 {
		policy.RateLimit = &RateLimit{
			MaxPerAccount: cfg.RateLimit.MaxPerAccount,
			Period:        time.Duration(cfg.RateLimit.PeriodSeconds) * time.Second,
		}
	}
	return policy
}

// Registry indexes networks by chain id.
type Registry struct {
	networks map[uint64]*Network
}

// NewRegistry builds a registry from already constructed networks.
func NewRegistry(networks ...*Network) *Registry {
	r := &Registry{networks: make(map[uint64]*Network, len(networks))}
	for _, n := range networks {
		r.networks[n.ChainID] = n
	}
	return r
}

// Dial connects to every enabled network in cfg.
func Dial(cfg config.Config, logger zerolog.Logger) (*Registry, error) {
	var networks []*Network
	for name, netCfg := range cfg.Networks {
		if !netCfg.Enabled {
			continue
		}
		rpc, err := evm.NewRPCClient(netCfg.RPCURLs, netCfg.ChainID, logger.With().Str("network", name).Logger())
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", name, err)
		}
		networks = append(networks, FromConfig(name, netCfg, rpc))
	}
	return NewRegistry(networks...), nil
}

// Get returns the network for chainID.
func (r *Registry) Get(chainID uint64) (*Network, bool) {
	n, ok := r.networks[chainID]
	return n, ok
}

// All returns every network ordered by chain id.
func (r *Registry) All() []*Network {
	out := make([]*Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// Close releases every RPC connection.
func (r *Registry) Close() {
	for _, n := range r.networks {
		if n.RPC != nil {
			n.RPC.Close()
		}
	}
}

// NormalizeAddress returns the lowercased hex form used for storage.
func NormalizeAddress(addr ethcommon.Address) string {
	return strings.ToLower(addr.Hex())
}
