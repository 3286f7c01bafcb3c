// Package signer provides the keys the node uses to sign transactions and
// guardian approvals.
package signer

import (
	"context"
	"fmt"
	"sort"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/socialrecovery/recovery-node/recoveryNode/config"
)

// Signer signs 32-byte digests. Signatures are 65 bytes r||s||v with v in {27, 28}.
type Signer interface {
	ID() string
	Address(ctx context.Context) (ethcommon.Address, error)
	Sign(ctx context.Context, digest []byte) ([]byte, error)
	HealthCheck(ctx context.Context) error
}

// Registry holds every configured signer by id.
type Registry struct {
	signers map[string]Signer
}

// NewRegistry indexes the given signers.
func NewRegistry(signers ...Signer) *Registry {
	r := &Registry{signers: make(map[string]Signer, len(signers))}
	for _, s := range signers {
		r.signers[s.ID()] = s
	}
	return r
}

// NewRegistryFromConfig builds local and KMS signers from configuration.
func NewRegistryFromConfig(cfgs []config.SignerConfig, logger zerolog.Logger) (*Registry, error) {
	signers := make([]Signer, 0, len(cfgs))
	for _, cfg := range cfgs {
		switch {
		case cfg.PrivateKey != "":
			s, err := NewLocalSigner(cfg.ID, cfg.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("signer %s: %w", cfg.ID, err)
			}
			signers = append(signers, s)
		case cfg.AWSKMS != nil:
			s, err := NewKMSSignerFromConfig(cfg.ID, *cfg.AWSKMS, logger)
			if err != nil {
				return nil, fmt.Errorf("signer %s: %w", cfg.ID, err)
			}
			signers = append(signers, s)
		default:
			return nil, fmt.Errorf("signer %s has no key source", cfg.ID)
		}
	}
	return NewRegistry(signers...), nil
}

// Get returns the signer with id.
func (r *Registry) Get(id string) (Signer, bool) {
	s, ok := r.signers[id]
	return s, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.signers))
	for id := range r.signers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
