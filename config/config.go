package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration decoded from TOML.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	Environment    string `toml:"Environment"`
	LogFile        string `toml:"LogFile"`

	// AdminJWTSecretEnv names the environment variable holding the HMAC
	// secret for admin endpoint tokens. The secret itself never lives in
	// the config file.
	AdminJWTSecretEnv string `toml:"AdminJWTSecretEnv"`

	BlockIntervalSeconds int    `toml:"BlockIntervalSeconds"`
	LockTimeoutBlocks    uint64 `toml:"LockTimeoutBlocks"`

	AdminAddress      string `toml:"AdminAddress"`
	OracleAddress     string `toml:"OracleAddress"`
	ControllerAddress string `toml:"ControllerAddress"`

	MarketsManifest string `toml:"MarketsManifest"`

	ReserveFactorBps         uint64 `toml:"ReserveFactorBps"`
	LiquidationThresholdBps  uint64 `toml:"LiquidationThresholdBps"`
	LiquidationIncentiveBps  uint64 `toml:"LiquidationIncentiveBps"`
	HealthFactorThresholdBps uint64 `toml:"HealthFactorThresholdBps"`

	OTEL OTELConfig `toml:"OTEL"`

	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
}

// OTELConfig carries the OpenTelemetry exporter knobs.
type OTELConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8645"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9464"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if c.BlockIntervalSeconds <= 0 {
		c.BlockIntervalSeconds = 1
	}
	if c.LockTimeoutBlocks == 0 {
		c.LockTimeoutBlocks = 10
	}
	if strings.TrimSpace(c.MarketsManifest) == "" {
		c.MarketsManifest = "./markets.yaml"
	}
	if c.ReserveFactorBps == 0 {
		c.ReserveFactorBps = 500
	}
	if c.LiquidationThresholdBps == 0 {
		c.LiquidationThresholdBps = 8_000
	}
	if c.LiquidationIncentiveBps == 0 {
		c.LiquidationIncentiveBps = 500
	}
	if c.HealthFactorThresholdBps == 0 {
		c.HealthFactorThresholdBps = 10_000
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = 25
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 50
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
