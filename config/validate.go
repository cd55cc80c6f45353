package config

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"launchpad/native/fees"
)

// Validate checks a loaded configuration for values the engines would reject.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	switch c.Storage.Backend {
	case "memory", "leveldb":
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Sale.FeeBps > fees.BpsDenominator {
		return fmt.Errorf("sale: FeeBps %d exceeds %d", c.Sale.FeeBps, fees.BpsDenominator)
	}
	if c.Bonding.FeeBps > fees.BpsDenominator {
		return fmt.Errorf("bonding: FeeBps %d exceeds %d", c.Bonding.FeeBps, fees.BpsDenominator)
	}
	if c.Sale.ContributionsPerMinute < 0 || c.Bonding.SwapsPerMinute < 0 {
		return fmt.Errorf("throttle: rates must be non-negative")
	}
	if _, err := c.Sale.Quota(); err != nil {
		return err
	}
	threshold, err := c.Bonding.Threshold()
	if err != nil {
		return err
	}
	if threshold.IsZero() {
		return fmt.Errorf("bonding: GraduationThreshold must be positive")
	}
	if op := strings.TrimSpace(c.Finalize.Operator); op != "" && !ethcommon.IsHexAddress(op) {
		return fmt.Errorf("finalize: Operator %q is not a hex address", op)
	}
	if c.Idempotency.MaxEntries < 0 {
		return fmt.Errorf("idempotency: MaxEntries must be non-negative")
	}
	switch c.Mirror.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Mirror.DSN) == "" {
			return fmt.Errorf("mirror: postgres requires a DSN")
		}
	default:
		return fmt.Errorf("mirror: unknown driver %q", c.Mirror.Driver)
	}
	if (c.Telemetry.Metrics || c.Telemetry.Traces) && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: Endpoint required when exporters are enabled")
	}

	registry, err := c.FeeRegistry()
	if err != nil {
		return err
	}
	for _, name := range []string{c.Sale.FeeProfile, c.Bonding.FeeProfile} {
		if _, err := registry.Lookup(name); err != nil {
			return err
		}
	}
	return nil
}
