package api

// QueryResponse represents the standard query response format
type QueryResponse struct {
	Data any `json:"data"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// SponsorshipView describes one sponsored recovery step.
type SponsorshipView struct {
	Enabled   bool           `json:"enabled"`
	Signer    string         `json:"signer,omitempty"`
	RateLimit *RateLimitView `json:"rateLimit,omitempty"`
}

type RateLimitView struct {
	MaxPerAccount int   `json:"maxPerAccount"`
	PeriodSeconds int64 `json:"periodSeconds"`
}

// IndexerView reports the progress of a network's indexer.
type IndexerView struct {
	Enabled      bool              `json:"enabled"`
	Checkpoint   uint64            `json:"checkpoint"`
	FailedRanges []FailedRangeView `json:"failedRanges,omitempty"`
}

type FailedRangeView struct {
	FromBlock  uint64 `json:"fromBlock"`
	ToBlock    uint64 `json:"toBlock"`
	RetryCount int    `json:"retryCount"`
}

// NetworkView is the public configuration of one network.
type NetworkView struct {
	Name             string          `json:"name"`
	ChainID          uint64          `json:"chainId"`
	RecoveryModule   string          `json:"recoveryModule"`
	ExecuteRecovery  SponsorshipView `json:"executeRecoveryRequests"`
	FinalizeRecovery SponsorshipView `json:"finalizeRecoveryRequests"`
	GuardianEnabled  bool            `json:"guardianEnabled"`
	AlertsEnabled    bool            `json:"alertsEnabled"`
	GasPriceStrategy string          `json:"gasPriceStrategy,omitempty"`
	Indexer          IndexerView     `json:"indexer"`
}
