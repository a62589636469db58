package config

import (
	"fmt"
	"strings"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
)

// Validate checks the decoded configuration for values the daemon cannot
// start with.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"AdminAddress":      c.AdminAddress,
		"OracleAddress":     c.OracleAddress,
		"ControllerAddress": c.ControllerAddress,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("config: invalid %s: %w", name, err)
		}
	}
	if c.ReserveFactorBps >= 10_000 {
		return fmt.Errorf("config: ReserveFactorBps must stay below 10000")
	}
	if c.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("config: LiquidationThresholdBps must not exceed 10000")
	}
	if c.HealthFactorThresholdBps == 0 {
		return fmt.Errorf("config: HealthFactorThresholdBps must be positive")
	}
	return nil
}
