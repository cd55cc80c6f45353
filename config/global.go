package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"launchpad/native/bonding"
	"launchpad/native/common"
	"launchpad/native/fees"
	"launchpad/observability/logging"
	"launchpad/observability/otel"
)

// FeeRegistry returns the built-in profiles overlaid with the configured
// ones. A configured profile replaces the built-in profile of the same name.
func (c *Config) FeeRegistry() (*fees.Registry, error) {
	registry, err := fees.NewRegistry(fees.DefaultProfiles()...)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(c.FeeProfiles))
	for _, profile := range c.FeeProfiles {
		name := fees.NormalizeName(profile.Name)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("fee_profiles: duplicate profile %q", name)
		}
		seen[name] = struct{}{}
		if err := registry.Register(profile); err != nil {
			return nil, fmt.Errorf("fee_profiles: %s: %w", name, err)
		}
	}
	return registry, nil
}

// View exposes the pause switches to the engines.
func (p Pauses) View() common.Pauses {
	return common.Pauses{
		common.ModuleEscrow:   p.Escrow,
		common.ModuleSale:     p.Sale,
		common.ModuleVesting:  p.Vesting,
		common.ModuleBonding:  p.Bonding,
		common.ModuleFinalize: p.Finalize,
	}
}

// Quota parses the per-contributor epoch limits.
func (s Sale) Quota() (common.Quota, error) {
	quota := common.Quota{MaxRequestsPerEpoch: s.QuotaMaxRequests, EpochSeconds: s.QuotaEpochSeconds}
	if raw := strings.TrimSpace(s.QuotaMaxAmount); raw != "" {
		amount, ok := new(big.Int).SetString(raw, 10)
		if !ok || amount.Sign() < 0 {
			return common.Quota{}, fmt.Errorf("sale: invalid QuotaMaxAmount %q", s.QuotaMaxAmount)
		}
		quota.MaxAmountPerEpoch = amount
	}
	if quota.Enabled() && quota.EpochSeconds == 0 {
		return common.Quota{}, fmt.Errorf("sale: QuotaEpochSeconds required when quotas are enabled")
	}
	return quota, nil
}

// Throttle builds the per-contributor rate limiter.
func (s Sale) Throttle() *common.Throttle {
	return common.NewThrottle(
		common.RateLimit{PerMinute: s.ContributionsPerMinute, Burst: s.ContributionBurst},
		time.Duration(s.ThrottleIdleSeconds)*time.Second,
		s.ThrottleMaxKeys,
	)
}

// Threshold parses the default graduation threshold.
func (b Bonding) Threshold() (*uint256.Int, error) {
	threshold, err := bonding.ParseAmount(b.GraduationThreshold)
	if err != nil {
		return nil, fmt.Errorf("bonding: GraduationThreshold: %w", err)
	}
	return threshold, nil
}

// Throttle builds the per-trader swap limiter.
func (b Bonding) Throttle() *common.Throttle {
	return common.NewThrottle(common.RateLimit{PerMinute: b.SwapsPerMinute, Burst: b.SwapBurst}, 10*time.Minute, 0)
}

// OperatorAddress returns the configured finalization operator, if any.
func (f Finalize) OperatorAddress() ([20]byte, bool) {
	op := strings.TrimSpace(f.Operator)
	if op == "" || !ethcommon.IsHexAddress(op) {
		return [20]byte{}, false
	}
	return ethcommon.HexToAddress(op), true
}

// TTL returns the idempotency window.
func (i Idempotency) TTL() time.Duration {
	return time.Duration(i.TTLSeconds) * time.Second
}

// FileOptions maps the logging section onto the rotating file writer.
func (l Logging) FileOptions() logging.FileOptions {
	return logging.FileOptions{
		Path:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// OTel maps the telemetry section onto the exporter configuration.
func (c *Config) OTel() otel.Config {
	return otel.Config{
		ServiceName: c.Logging.Service,
		Environment: c.Logging.Env,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		Headers:     otel.ParseHeaders(c.Telemetry.Headers),
		Metrics:     c.Telemetry.Metrics,
		Traces:      c.Telemetry.Traces,
	}
}
