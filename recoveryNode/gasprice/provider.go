package gasprice

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// ProviderBackend is the RPC access the provider strategy needs.
type ProviderBackend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// ProviderSource derives fees from the chain head: maxFee = 2*baseFee + tip.
type ProviderSource struct {
	backend ProviderBackend
}

func NewProviderSource(backend ProviderBackend) *ProviderSource {
	return &ProviderSource{backend: backend}
}

func (s *ProviderSource) Fetch(ctx context.Context) (FeeData, error) {
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeData{}, fmt.Errorf("failed to fetch head: %w", err)
	}
	if head.BaseFee == nil {
		return FeeData{}, fmt.Errorf("chain head has no base fee")
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return FeeData{}, fmt.Errorf("failed to fetch priority fee: %w", err)
	}

	maxFee := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	return FeeData{
		BaseFee:              new(big.Int).Set(head.BaseFee),
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: new(big.Int).Set(tip),
	}, nil
}
