// Package gasprice estimates EIP-1559 fee parameters per chain.
package gasprice

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"github.com/socialrecovery/recovery-node/recoveryNode/config"
)

// FeeData holds EIP-1559 fee parameters in wei.
type FeeData struct {
	BaseFee              *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Scale multiplies every component by factor.
func (f FeeData) Scale(factor float64) FeeData {
	return FeeData{
		BaseFee:              ScaleBigInt(f.BaseFee, factor),
		MaxFeePerGas:         ScaleBigInt(f.MaxFeePerGas, factor),
		MaxPriorityFeePerGas: ScaleBigInt(f.MaxPriorityFeePerGas, factor),
	}
}

// Estimator returns current fee data for one chain.
type Estimator interface {
	Estimate(ctx context.Context) (FeeData, error)
}

// Source fetches unscaled fee data.
type Source interface {
	Fetch(ctx context.Context) (FeeData, error)
}

var (
	infuraChains  = map[uint64]bool{1: true, 10: true, 56: true, 100: true, 8453: true, 42161: true, 11155111: true, 11155420: true, 84532: true, 421614: true}
	polygonChains = map[uint64]bool{137: true, 80002: true}
)

// ScaledEstimator applies a network's scale factor to a source.
type ScaledEstimator struct {
	source      Source
	scaleFactor float64
	logger      zerolog.Logger
}

// New creates an estimator over source.
func New(source Source, scaleFactor float64, logger zerolog.Logger) *ScaledEstimator {
	if scaleFactor <= 0 {
		scaleFactor = 1
	}
	return &ScaledEstimator{source: source, scaleFactor: scaleFactor, logger: logger}
}

func (e *ScaledEstimator) Estimate(ctx context.Context) (FeeData, error) {
	fees, err := e.source.Fetch(ctx)
	if err != nil {
		return FeeData{}, err
	}
	scaled := fees.Scale(e.scaleFactor)
	e.logger.Debug().
		Str("base_fee", scaled.BaseFee.String()).
		Str("max_fee", scaled.MaxFeePerGas.String()).
		Str("priority_fee", scaled.MaxPriorityFeePerGas.String()).
		Msg("estimated gas price")
	return scaled, nil
}

// NewForChain picks the source for strategy; auto selects by chain id.
func NewForChain(chainID uint64, strategy string, scaleFactor float64, provider ProviderBackend, logger zerolog.Logger) (*ScaledEstimator, error) {
	log := logger.With().Str("component", "gas_price_estimator").Uint64("chain_id", chainID).Logger()

	if strategy == "" || strategy == config.GasStrategyAuto {
		switch {
		case infuraChains[chainID]:
			strategy = config.GasStrategyInfura
		case polygonChains[chainID]:
			strategy = config.GasStrategyPolygon
		default:
			strategy = config.GasStrategyProvider
		}
	}

	var source Source
	switch strategy {
	case config.GasStrategyInfura:
		source = NewInfuraSource(chainID, log)
	case config.GasStrategyPolygon:
		source = NewPolygonSource(chainID == 80002, log)
	case config.GasStrategyProvider:
		if provider == nil {
			return nil, fmt.Errorf("provider strategy requires an RPC backend")
		}
		source = NewProviderSource(provider)
	default:
		return nil, fmt.Errorf("unknown gas price strategy %q", strategy)
	}

	log.Info().Str("strategy", strategy).Float64("scale_factor", scaleFactor).Msg("gas price estimator ready")
	return New(source, scaleFactor, log), nil
}

// ScaleBigInt returns v*factor truncated toward zero. A nil v yields nil.
func ScaleBigInt(v *big.Int, factor float64) *big.Int {
	if v == nil {
		return nil
	}
	scaled := new(big.Rat).Mul(new(big.Rat).SetInt(v), new(big.Rat).SetFloat64(factor))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

// ParseGwei converts a decimal gwei amount (plain or exponent notation) to wei,
// dropping digits beyond nine decimals.
func ParseGwei(value string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(value)
	if !ok {
		return nil, fmt.Errorf("invalid gwei amount %q", value)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("negative gwei amount %q", value)
	}
	r.Mul(r, new(big.Rat).SetInt64(1_000_000_000))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}
