package config

import "fmt"

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Gas price strategies.
const (
	GasStrategyAuto     = "auto"
	GasStrategyInfura   = "infura"
	GasStrategyPolygon  = "polygon"
	GasStrategyProvider = "provider"
)

type Config struct {
	// Log Config
	LogLevel   int    `mapstructure:"log_level" json:"log_level"`     // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `mapstructure:"log_format" json:"log_format"`   // "json" or "console"
	LogSampler bool   `mapstructure:"log_sampler" json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	Environment string `mapstructure:"environment" json:"environment"` // "development" or "production"
	NodeHome    string `mapstructure:"node_home" json:"node_home"`     // Node home directory (default: ~/.recoveryd)
	Port        int    `mapstructure:"port" json:"port"`               // Port for the operational HTTP server (default: 8080)

	// Alert group used for indexer notifications and subscriptions
	IndexerAlert string `mapstructure:"indexer_alert" json:"indexer_alert"`

	Indexer       IndexerConfig       `mapstructure:"indexer" json:"indexer"`
	Executor      ExecutorConfig      `mapstructure:"executor" json:"executor"`
	Notifications NotificationsConfig `mapstructure:"notifications" json:"notifications"`

	Signers  []SignerConfig           `mapstructure:"signers" json:"signers"`
	Alerts   []AlertConfig            `mapstructure:"alerts" json:"alerts"`
	Networks map[string]NetworkConfig `mapstructure:"networks" json:"networks"` // Map of network name to its settings
}

// IndexerConfig tunes the log scanner shared by every network.
type IndexerConfig struct {
	IntervalSeconds int    `mapstructure:"interval_seconds" json:"interval_seconds"`   // default: 15
	WindowSize      uint64 `mapstructure:"window_size" json:"window_size"`             // blocks per sub-range (default: 5000)
	MaxConcurrency  int    `mapstructure:"max_concurrency" json:"max_concurrency"`     // in-flight log queries (default: 30)
	MaxRangeRetries int    `mapstructure:"max_range_retries" json:"max_range_retries"` // default: 3
}

// ExecutorConfig tunes transaction submission.
type ExecutorConfig struct {
	MaxRetries            int     `mapstructure:"max_retries" json:"max_retries"`                         // default: 3
	GasLimitMultiplier    float64 `mapstructure:"gas_limit_multiplier" json:"gas_limit_multiplier"`       // default: 1.25
	FeeMultiplier         float64 `mapstructure:"fee_multiplier" json:"fee_multiplier"`                   // default: 1.5
	ReceiptTimeoutSeconds int     `mapstructure:"receipt_timeout_seconds" json:"receipt_timeout_seconds"` // default: 180
}

// NotificationsConfig tunes alert delivery.
type NotificationsConfig struct {
	IntervalSeconds int     `mapstructure:"interval_seconds" json:"interval_seconds"` // default: 10
	RatePerSecond   float64 `mapstructure:"rate_per_second" json:"rate_per_second"`   // default: 5
	Burst           int     `mapstructure:"burst" json:"burst"`                       // default: 5
}

// SignerConfig declares one signer. Exactly one of PrivateKey or AWSKMS must be set.
type SignerConfig struct {
	ID         string        `mapstructure:"id" json:"id"`
	PrivateKey string        `mapstructure:"private_key" json:"private_key,omitempty"`
	AWSKMS     *AWSKMSConfig `mapstructure:"aws_kms" json:"aws_kms,omitempty"`
}

type AWSKMSConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" json:"secret_access_key"`
	Region          string `mapstructure:"region" json:"region"`
	KeyID           string `mapstructure:"key_id" json:"key_id"`
}

// AlertConfig declares an alert group and its channels.
type AlertConfig struct {
	ID       string              `mapstructure:"id" json:"id"`
	Channels AlertChannelsConfig `mapstructure:"channels" json:"channels"`
}

type AlertChannelsConfig struct {
	Email *EmailChannelConfig `mapstructure:"email" json:"email,omitempty"`
	SMS   *SMSChannelConfig   `mapstructure:"sms" json:"sms,omitempty"`
}

type EmailChannelConfig struct {
	SMTP    *SMTPConfig    `mapstructure:"smtp" json:"smtp,omitempty"`
	Webhook *WebhookConfig `mapstructure:"webhook" json:"webhook,omitempty"`
}

type SMSChannelConfig struct {
	Twilio  *TwilioConfig  `mapstructure:"twilio" json:"twilio,omitempty"`
	Webhook *WebhookConfig `mapstructure:"webhook" json:"webhook,omitempty"`
}

type SMTPConfig struct {
	From     string `mapstructure:"from" json:"from"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
}

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid" json:"account_sid"`
	AuthToken  string `mapstructure:"auth_token" json:"auth_token"`
	FromNumber string `mapstructure:"from_number" json:"from_number"`
}

type WebhookConfig struct {
	Endpoint            string `mapstructure:"endpoint" json:"endpoint"`
	AuthorizationHeader string `mapstructure:"authorization_header" json:"authorization_header,omitempty"`
}

// NetworkConfig holds all chain-specific configuration in one place
type NetworkConfig struct {
	Enabled               bool     `mapstructure:"enabled" json:"enabled"`
	ChainID               uint64   `mapstructure:"chain_id" json:"chain_id"`
	RPCURLs               []string `mapstructure:"rpc_urls" json:"rpc_urls"`
	RecoveryModuleAddress string   `mapstructure:"recovery_module_address" json:"recovery_module_address"`

	ExecuteRecoveryRequests  SponsorshipConfig `mapstructure:"execute_recovery_requests" json:"execute_recovery_requests"`
	FinalizeRecoveryRequests SponsorshipConfig `mapstructure:"finalize_recovery_requests" json:"finalize_recovery_requests"`

	// Signer id used as the service guardian; empty disables guardian features
	Guardian string `mapstructure:"guardian" json:"guardian,omitempty"`
	// Alert group id used for guardian challenges; empty or "~" disables alerts
	Alerts string `mapstructure:"alerts" json:"alerts,omitempty"`

	Indexer  NetworkIndexerConfig `mapstructure:"indexer" json:"indexer"`
	GasPrice GasPriceConfig       `mapstructure:"gas_price" json:"gas_price"`
}

type SponsorshipConfig struct {
	Enabled   bool             `mapstructure:"enabled" json:"enabled"`
	Signer    string           `mapstructure:"signer" json:"signer,omitempty"`
	RateLimit *RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit,omitempty"`
}

type RateLimitConfig struct {
	MaxPerAccount int `mapstructure:"max_per_account" json:"max_per_account"`
	PeriodSeconds int `mapstructure:"period_seconds" json:"period_seconds"`
}

type NetworkIndexerConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// If set to a non-negative value, indexing starts from this block when no
	// checkpoint exists. If -1 or absent, it starts from the chain head.
	StartBlock *int64 `mapstructure:"start_block" json:"start_block,omitempty"`
}

type GasPriceConfig struct {
	Strategy    string  `mapstructure:"strategy" json:"strategy"`         // auto, infura, polygon or provider
	ScaleFactor float64 `mapstructure:"scale_factor" json:"scale_factor"` // default: 1.0
}

// IsProduction reports whether internal error details must be hidden from callers.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetNetworkConfig returns the configuration of the network with the given chain id
func (c *Config) GetNetworkConfig(chainID uint64) (string, *NetworkConfig, error) {
	for name, network := range c.Networks {
		if network.ChainID == chainID {
			network := network
			return name, &network, nil
		}
	}
	return "", nil, fmt.Errorf("no network configured for chain %d", chainID)
}

// AlertGroup returns the alert group id a network uses, or "" when alerts are disabled.
func (n *NetworkConfig) AlertGroup() string {
	if n.Alerts == "~" {
		return ""
	}
	return n.Alerts
}
