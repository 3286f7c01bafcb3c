package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
)

const envReferencePrefix = "ENV::"

//go:embed default_config.json
var defaultConfigJSON []byte

var privateKeyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// Load reads the embedded defaults, merges the config file at configFile when
// it is not empty, applies RECOVERY_* environment overrides and resolves
// ENV::NAME references.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(defaultConfigJSON)); err != nil {
		return nil, fmt.Errorf("failed to read default config: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix("RECOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolved, err := resolveEnvReferences(v.AllSettings())
	if err != nil {
		return nil, err
	}

	rv := viper.New()
	if err := rv.MergeConfigMap(resolved.(map[string]any)); err != nil {
		return nil, fmt.Errorf("failed to merge resolved config: %w", err)
	}

	var cfg Config
	if err := rv.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadFromHome loads <basePath>/config/recovery_config.json, falling back to
// the defaults when the file does not exist.
func LoadFromHome(basePath string) (*Config, error) {
	configFile := filepath.Join(basePath, constant.ConfigSubdir, constant.ConfigFileName)
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		configFile = ""
	}
	cfg, err := Load(configFile)
	if err != nil {
		return nil, err
	}
	if cfg.NodeHome == "" {
		cfg.NodeHome = basePath
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}

// Save writes the given config to <basePath>/config/recovery_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, constant.ConfigSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, constant.ConfigFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// resolveEnvReferences walks the settings tree and replaces ENV::NAME strings
// with the value of the environment variable NAME. An unset variable is an error.
func resolveEnvReferences(value any) (any, error) {
	switch val := value.(type) {
	case map[string]any:
		for k, item := range val {
			resolved, err := resolveEnvReferences(item)
			if err != nil {
				return nil, err
			}
			val[k] = resolved
		}
		return val, nil
	case []any:
		for i, item := range val {
			resolved, err := resolveEnvReferences(item)
			if err != nil {
				return nil, err
			}
			val[i] = resolved
		}
		return val, nil
	case string:
		if !strings.HasPrefix(val, envReferencePrefix) {
			return val, nil
		}
		name := strings.TrimPrefix(val, envReferencePrefix)
		resolved, ok := os.LookupEnv(name)
		if !ok || resolved == "" {
			return nil, fmt.Errorf("environment variable '%s' is not set", name)
		}
		return resolved, nil
	default:
		return val, nil
	}
}

func validateConfig(cfg *Config) error {
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	cfg.Environment = strings.ToLower(cfg.Environment)
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}
	if cfg.Environment != EnvDevelopment && cfg.Environment != EnvProduction {
		return fmt.Errorf("environment must be either 'development' or 'production'")
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be a valid positive number")
	}

	if cfg.Indexer.IntervalSeconds == 0 {
		cfg.Indexer.IntervalSeconds = 15
	}
	if cfg.Indexer.WindowSize == 0 {
		cfg.Indexer.WindowSize = 5000
	}
	if cfg.Indexer.MaxConcurrency == 0 {
		cfg.Indexer.MaxConcurrency = 30
	}
	if cfg.Indexer.MaxRangeRetries == 0 {
		cfg.Indexer.MaxRangeRetries = 3
	}

	if cfg.Executor.MaxRetries == 0 {
		cfg.Executor.MaxRetries = 3
	}
	if cfg.Executor.GasLimitMultiplier == 0 {
		cfg.Executor.GasLimitMultiplier = 1.25
	}
	if cfg.Executor.FeeMultiplier == 0 {
		cfg.Executor.FeeMultiplier = 1.5
	}
	if cfg.Executor.ReceiptTimeoutSeconds == 0 {
		cfg.Executor.ReceiptTimeoutSeconds = 180
	}

	if cfg.Notifications.IntervalSeconds == 0 {
		cfg.Notifications.IntervalSeconds = 10
	}
	if cfg.Notifications.RatePerSecond == 0 {
		cfg.Notifications.RatePerSecond = 5
	}
	if cfg.Notifications.Burst == 0 {
		cfg.Notifications.Burst = 5
	}

	signerIDs, err := validateSigners(cfg.Signers)
	if err != nil {
		return err
	}
	alertIDs, err := validateAlerts(cfg.Alerts)
	if err != nil {
		return err
	}
	if cfg.IndexerAlert != "" && !alertIDs[cfg.IndexerAlert] {
		return fmt.Errorf("indexer_alert '%s' is not found in declared alerts", cfg.IndexerAlert)
	}
	return validateNetworks(cfg.Networks, signerIDs, alertIDs)
}

func validateSigners(signers []SignerConfig) (map[string]bool, error) {
	ids := make(map[string]bool, len(signers))
	for i, signer := range signers {
		if signer.ID == "" {
			return nil, fmt.Errorf("signer at index %d must have an 'id'", i)
		}
		if ids[signer.ID] {
			return nil, fmt.Errorf("signer '%s' is declared more than once", signer.ID)
		}
		if signer.PrivateKey == "" && signer.AWSKMS == nil {
			return nil, fmt.Errorf("signer '%s' must have either 'private_key' or 'aws_kms' defined", signer.ID)
		}
		if signer.PrivateKey != "" && signer.AWSKMS != nil {
			return nil, fmt.Errorf("signer '%s' cannot have both 'private_key' and 'aws_kms' defined", signer.ID)
		}
		if signer.PrivateKey != "" && !privateKeyPattern.MatchString(signer.PrivateKey) {
			return nil, fmt.Errorf("signer '%s' has an invalid 'private_key'", signer.ID)
		}
		if kms := signer.AWSKMS; kms != nil {
			if kms.AccessKeyID == "" || kms.SecretAccessKey == "" || kms.Region == "" || kms.KeyID == "" {
				return nil, fmt.Errorf("signer '%s' must have all fields 'access_key_id', 'secret_access_key', 'region', and 'key_id' defined", signer.ID)
			}
		}
		ids[signer.ID] = true
	}
	return ids, nil
}

func validateAlerts(alerts []AlertConfig) (map[string]bool, error) {
	ids := make(map[string]bool, len(alerts))
	for i, alert := range alerts {
		if alert.ID == "" {
			return nil, fmt.Errorf("alert at index %d must have an 'id'", i)
		}
		channels := alert.Channels
		if channels.Email == nil && channels.SMS == nil {
			return nil, fmt.Errorf("alert '%s' must have at least one channel (email or sms)", alert.ID)
		}
		if email := channels.Email; email != nil {
			if (email.SMTP == nil) == (email.Webhook == nil) {
				return nil, fmt.Errorf("email channel for alert '%s' must have exactly one of 'smtp' or 'webhook'", alert.ID)
			}
			if smtp := email.SMTP; smtp != nil {
				if smtp.Port <= 0 {
					return nil, fmt.Errorf("email channel for alert '%s' must have 'smtp.port' as a valid positive number", alert.ID)
				}
				if smtp.From == "" || smtp.Host == "" || smtp.Username == "" {
					return nil, fmt.Errorf("email channel for alert '%s' must have 'smtp.from', 'smtp.host' and 'smtp.username' defined", alert.ID)
				}
			}
			if email.Webhook != nil && email.Webhook.Endpoint == "" {
				return nil, fmt.Errorf("email channel for alert '%s' must have 'webhook.endpoint' defined", alert.ID)
			}
		}
		if sms := channels.SMS; sms != nil {
			if (sms.Twilio == nil) == (sms.Webhook == nil) {
				return nil, fmt.Errorf("sms channel for alert '%s' must have exactly one of 'twilio' or 'webhook'", alert.ID)
			}
			if tw := sms.Twilio; tw != nil && (tw.AccountSID == "" || tw.AuthToken == "" || tw.FromNumber == "") {
				return nil, fmt.Errorf("sms channel for alert '%s' must have 'twilio.account_sid', 'twilio.auth_token' and 'twilio.from_number' defined", alert.ID)
			}
			if sms.Webhook != nil && sms.Webhook.Endpoint == "" {
				return nil, fmt.Errorf("sms channel for alert '%s' must have 'webhook.endpoint' defined", alert.ID)
			}
		}
		ids[alert.ID] = true
	}
	return ids, nil
}

func validateNetworks(networks map[string]NetworkConfig, signerIDs, alertIDs map[string]bool) error {
	chainIDs := make(map[uint64]string, len(networks))
	for name, network := range networks {
		if !network.Enabled {
			continue
		}
		if network.ChainID == 0 {
			return fmt.Errorf("network '%s' must have a 'chain_id'", name)
		}
		if other, ok := chainIDs[network.ChainID]; ok {
			return fmt.Errorf("networks '%s' and '%s' share chain id %d", other, name, network.ChainID)
		}
		chainIDs[network.ChainID] = name
		if len(network.RPCURLs) == 0 {
			return fmt.Errorf("network '%s' must have at least one 'rpc_urls' entry", name)
		}
		if !common.IsHexAddress(network.RecoveryModuleAddress) {
			return fmt.Errorf("network '%s' has an invalid 'recovery_module_address'", name)
		}

		sponsorships := map[string]SponsorshipConfig{
			"execute_recovery_requests":  network.ExecuteRecoveryRequests,
			"finalize_recovery_requests": network.FinalizeRecoveryRequests,
		}
		for key, sponsorship := range sponsorships {
			if !sponsorship.Enabled {
				continue
			}
			if sponsorship.Signer == "" {
				return fmt.Errorf("network '%s' %s requires a 'signer' when enabled", name, key)
			}
			if !signerIDs[sponsorship.Signer] {
				return fmt.Errorf("network '%s' %s.signer is not found in declared signers", name, key)
			}
			if rl := sponsorship.RateLimit; rl != nil && (rl.MaxPerAccount <= 0 || rl.PeriodSeconds <= 0) {
				return fmt.Errorf("network '%s' %s.rate_limit requires positive 'max_per_account' and 'period_seconds'", name, key)
			}
		}

		if network.Guardian != "" && !signerIDs[network.Guardian] {
			return fmt.Errorf("network '%s' guardian is not found in declared signers", name)
		}
		if group := network.AlertGroup(); group != "" && !alertIDs[group] {
			return fmt.Errorf("network '%s' alerts '%s' is not found in declared alerts", name, group)
		}

		switch network.GasPrice.Strategy {
		case "":
			network.GasPrice.Strategy = GasStrategyAuto
		case GasStrategyAuto, GasStrategyInfura, GasStrategyPolygon, GasStrategyProvider:
		default:
			return fmt.Errorf("network '%s' gas_price.strategy must be one of auto, infura, polygon, provider", name)
		}
		if network.GasPrice.ScaleFactor == 0 {
			network.GasPrice.ScaleFactor = 1.0
		}
		if network.GasPrice.ScaleFactor < 0 {
			return fmt.Errorf("network '%s' gas_price.scale_factor must be positive", name)
		}
		networks[name] = network
	}
	return nil
}
