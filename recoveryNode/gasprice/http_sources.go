package gasprice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	infuraURLFormat      = "https://gas-api.metaswap.codefi.network/networks/%d/suggestedGasFees"
	polygonMainnetURL    = "https://gasstation.polygon.technology/v2"
	polygonTestnetURL    = "https://gasstation-testnet.polygon.technology/v2"
	fetchTimeout         = 10 * time.Second
	fetchMaxRetries      = 3
	fetchInitialInterval = 500 * time.Millisecond
)

// fetchJSON GETs url into out, retrying transport and 5xx failures with exponential backoff.
func fetchJSON(ctx context.Context, client *http.Client, url string, out any, logger zerolog.Logger) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = fetchInitialInterval
	retrying := backoff.WithContext(backoff.WithMaxRetries(policy, fetchMaxRetries), ctx)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("gas api returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("gas api returned %d", resp.StatusCode))
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid gas api response: %w", err))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Str("url", url).Dur("retry_in", wait).Msg("gas price fetch failed")
	}
	return backoff.RetryNotify(op, retrying, notify)
}

// InfuraSource reads the "high" tier of the Infura gas API.
type InfuraSource struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

func NewInfuraSource(chainID uint64, logger zerolog.Logger) *InfuraSource {
	return &InfuraSource{
		url:    fmt.Sprintf(infuraURLFormat, chainID),
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger,
	}
}

type infuraResponse struct {
	EstimatedBaseFee string `json:"estimatedBaseFee"`
	High             struct {
		SuggestedMaxFeePerGas         string `json:"suggestedMaxFeePerGas"`
		SuggestedMaxPriorityFeePerGas string `json:"suggestedMaxPriorityFeePerGas"`
	} `json:"high"`
}

func (s *InfuraSource) Fetch(ctx context.Context) (FeeData, error) {
	var resp infuraResponse
	if err := fetchJSON(ctx, s.client, s.url, &resp, s.logger); err != nil {
		return FeeData{}, err
	}
	return parseFeeStrings(resp.EstimatedBaseFee, resp.High.SuggestedMaxFeePerGas, resp.High.SuggestedMaxPriorityFeePerGas)
}

// PolygonSource reads the "fast" tier of the Polygon gas station.
type PolygonSource struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

func NewPolygonSource(testnet bool, logger zerolog.Logger) *PolygonSource {
	url := polygonMainnetURL
	if testnet {
		url = polygonTestnetURL
	}
	return &PolygonSource{
		url:    url,
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger,
	}
}

type polygonResponse struct {
	EstimatedBaseFee json.Number `json:"estimatedBaseFee"`
	Fast             struct {
		MaxFee         json.Number `json:"maxFee"`
		MaxPriorityFee json.Number `json:"maxPriorityFee"`
	} `json:"fast"`
}

func (s *PolygonSource) Fetch(ctx context.Context) (FeeData, error) {
	var resp polygonResponse
	if err := fetchJSON(ctx, s.client, s.url, &resp, s.logger); err != nil {
		return FeeData{}, err
	}
	return parseFeeStrings(resp.EstimatedBaseFee.String(), resp.Fast.MaxFee.String(), resp.Fast.MaxPriorityFee.String())
}

func parseFeeStrings(baseFee, maxFee, priorityFee string) (FeeData, error) {
	base, err := ParseGwei(baseFee)
	if err != nil {
		return FeeData{}, fmt.Errorf("base fee: %w", err)
	}
	maxFeeWei, err := ParseGwei(maxFee)
	if err != nil {
		return FeeData{}, fmt.Errorf("max fee: %w", err)
	}
	tip, err := ParseGwei(priorityFee)
	if err != nil {
		return FeeData{}, fmt.Errorf("priority fee: %w", err)
	}
	return FeeData{BaseFee: base, MaxFeePerGas: maxFeeWei, MaxPriorityFeePerGas: tip}, nil
}
