package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Log            LogConfig            `yaml:"log"`
	Database       DatabaseConfig       `yaml:"database"`
	NATS           NATSConfig           `yaml:"nats"`
	Blockchain     BlockchainConfig     `yaml:"blockchain"`
	Executor       ExecutorConfig       `yaml:"executor"`
	OffRamp        OffRampConfig        `yaml:"offRamp"`
	Automation     AutomationConfig     `yaml:"automation"`
	Webhook        WebhookConfig        `yaml:"webhook"`
	Auth           AuthConfig           `yaml:"auth"`
	Credential     CredentialConfig     `yaml:"credential"`
	ChangeListener ChangeListenerConfig `yaml:"changeListener"`
	Admin          AdminConfig          `yaml:"admin"` // Admin API access control configuration
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig logrus configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	Timeout        int    `yaml:"timeout"`        // connect timeout (seconds)
	ReconnectWait  int    `yaml:"reconnect_wait"` // seconds
	MaxReconnects  int    `yaml:"max_reconnects"`
	IndexerSubject string `yaml:"indexer_subject"` // inbound indexer payloads
	LedgerSubject  string `yaml:"ledger_subject"`  // prefix for ledger change events
}

// BlockchainConfig Blockchain configuration
type BlockchainConfig struct {
	Networks map[string]NetworkConfig `yaml:"networks"`
}

// NetworkConfig Network configuration
type NetworkConfig struct {
	ChainID        int64  `yaml:"chainId"`
	Name           string `yaml:"name"`
	NativeSymbol   string `yaml:"nativeSymbol"`
	NativeDecimals int    `yaml:"nativeDecimals"`
	Enabled        bool   `yaml:"enabled"`
}

// ExecutorConfig session-key executor service configuration
type ExecutorConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	AuthToken string `yaml:"authToken"`
	Timeout   int    `yaml:"timeout"` // seconds, 0 means no client-side timeout
}

// OffRampConfig off-ramp account provider configuration
type OffRampConfig struct {
	BaseURL    string `yaml:"baseUrl"`
	APIKey     string `yaml:"apiKey"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"maxRetries"`
}

// AutomationConfig automation engine tuning
type AutomationConfig struct {
	SubmissionDelaySeconds   int `yaml:"submissionDelaySeconds"`   // pause between submissions of one deposit
	QueueSize                int `yaml:"queueSize"`                // per-locker lane buffer
	LaneIdleSeconds          int `yaml:"laneIdleSeconds"`          // idle lane shutdown
	ReconcileIntervalSeconds int `yaml:"reconcileIntervalSeconds"` // stalled deposit scan interval
	StalledAfterSeconds      int `yaml:"stalledAfterSeconds"`      // age before a STARTED deposit without children counts as stalled
}

// WebhookConfig inbound webhook configuration
type WebhookConfig struct {
	IndexerSecret string `yaml:"indexerSecret"` // empty disables signature verification
}

// AuthConfig service token configuration
type AuthConfig struct {
	ServiceJWTSecret string `yaml:"serviceJwtSecret"`
	Issuer           string `yaml:"issuer"`
}

// CredentialConfig session key decryption configuration
type CredentialConfig struct {
	KeyHex string `yaml:"keyHex"` // 32-byte XChaCha20-Poly1305 key, hex; empty skips decryption checks
}

// ChangeListenerConfig postgres LISTEN/NOTIFY configuration
type ChangeListenerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
}

// AdminConfig Admin API access control configuration
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowedIPs"` // List of allowed IP addresses or CIDR ranges
}

// LoadConfig Load configuration file
func LoadConfig(configPath string) (*Config, error) {
	// if configuration file path is empty, use default path
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	fmt.Printf("✅ [%s] Loading configuration from config file: %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)
	return cfg, nil
}

// Parse parses YAML, applies environment overrides and defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Executor.BaseURL == "" {
		return fmt.Errorf("executor.baseUrl is required")
	}
	if c.Automation.SubmissionDelaySeconds < 0 {
		return fmt.Errorf("automation.submissionDelaySeconds must not be negative")
	}
	for name, network := range c.Blockchain.Networks {
		if network.ChainID <= 0 {
			return fmt.Errorf("network %s: chainId must be positive", name)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.NATS.Timeout == 0 {
		cfg.NATS.Timeout = 10
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = 5
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = -1
	}
	if cfg.NATS.IndexerSubject == "" {
		cfg.NATS.IndexerSubject = "indexer.transfers.>"
	}
	if cfg.NATS.LedgerSubject == "" {
		cfg.NATS.LedgerSubject = "ledger.transfers"
	}
	if cfg.OffRamp.Timeout == 0 {
		cfg.OffRamp.Timeout = 15
	}
	if cfg.OffRamp.MaxRetries == 0 {
		cfg.OffRamp.MaxRetries = 3
	}
	if cfg.Automation.QueueSize == 0 {
		cfg.Automation.QueueSize = 64
	}
	if cfg.Automation.LaneIdleSeconds == 0 {
		cfg.Automation.LaneIdleSeconds = 300
	}
	if cfg.Automation.ReconcileIntervalSeconds == 0 {
		cfg.Automation.ReconcileIntervalSeconds = 300
	}
	if cfg.Automation.StalledAfterSeconds == 0 {
		cfg.Automation.StalledAfterSeconds = 900
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "locker-backend"
	}
	if cfg.ChangeListener.Channel == "" {
		cfg.ChangeListener.Channel = "token_transfer_changes"
	}
	for name, network := range cfg.Blockchain.Networks {
		if network.NativeDecimals == 0 {
			network.NativeDecimals = 18
		}
		if network.NativeSymbol == "" {
			network.NativeSymbol = "ETH"
		}
		cfg.Blockchain.Networks[name] = network
	}
}

// overrideFromEnv Override configuration from environment
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
		config.NATS.Enabled = true
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if executorURL := os.Getenv("EXECUTOR_BASE_URL"); executorURL != "" {
		config.Executor.BaseURL = executorURL
	}
	if executorToken := os.Getenv("EXECUTOR_AUTH_TOKEN"); executorToken != "" {
		config.Executor.AuthToken = executorToken
	}

	if offRampURL := os.Getenv("OFFRAMP_BASE_URL"); offRampURL != "" {
		config.OffRamp.BaseURL = offRampURL
	}
	if offRampKey := os.Getenv("OFFRAMP_API_KEY"); offRampKey != "" {
		config.OffRamp.APIKey = offRampKey
	}

	if delay := os.Getenv("AUTOMATION_SUBMISSION_DELAY_SECONDS"); delay != "" {
		if d, err := strconv.Atoi(delay); err == nil {
			config.Automation.SubmissionDelaySeconds = d
		}
	}

	if secret := os.Getenv("INDEXER_WEBHOOK_SECRET"); secret != "" {
		config.Webhook.IndexerSecret = secret
	}
	if jwtSecret := os.Getenv("SERVICE_JWT_SECRET"); jwtSecret != "" {
		config.Auth.ServiceJWTSecret = jwtSecret
	}
	if keyHex := os.Getenv("SESSION_KEY_CIPHER_KEY"); keyHex != "" {
		config.Credential.KeyHex = keyHex
	}

	if allowed := os.Getenv("ADMIN_ALLOWED_IPS"); allowed != "" {
		ips := strings.Split(allowed, ",")
		config.Admin.AllowedIPs = make([]string, 0, len(ips))
		for _, ip := range ips {
			if trimmed := strings.TrimSpace(ip); trimmed != "" {
				config.Admin.AllowedIPs = append(config.Admin.AllowedIPs, trimmed)
			}
		}
	}
}

// NetworkByChainID returns the enabled network with the given chain id
func (c *Config) NetworkByChainID(chainID int64) (*NetworkConfig, bool) {
	for _, network := range c.Blockchain.Networks {
		if network.ChainID == chainID && network.Enabled {
			n := network
			return &n, true
		}
	}
	return nil, false
}

// SubmissionDelay pause between consecutive automation submissions of one deposit
func (c *Config) SubmissionDelay() time.Duration {
	return time.Duration(c.Automation.SubmissionDelaySeconds) * time.Second
}
