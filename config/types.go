package config

import "launchpad/native/fees"

// Config is the settlement node configuration loaded from TOML.
type Config struct {
	DataDir     string         `toml:"DataDir"`
	Storage     Storage        `toml:"storage"`
	Logging     Logging        `toml:"logging"`
	Telemetry   Telemetry      `toml:"telemetry"`
	Sale        Sale           `toml:"sale"`
	Bonding     Bonding        `toml:"bonding"`
	Finalize    Finalize       `toml:"finalize"`
	Idempotency Idempotency    `toml:"idempotency"`
	Mirror      Mirror         `toml:"mirror"`
	Pauses      Pauses         `toml:"pauses"`
	FeeProfiles []fees.Profile `toml:"fee_profiles,omitempty"`
}

// Storage selects the ledger backend.
type Storage struct {
	Backend string `toml:"Backend"` // memory | leveldb
	Path    string `toml:"Path"`
}

// Logging controls the structured logger and optional rotated file output.
type Logging struct {
	Service    string `toml:"Service"`
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Sale holds launch round defaults and contribution limits.
type Sale struct {
	FeeBps     uint32 `toml:"FeeBps"`
	FeeProfile string `toml:"FeeProfile"`

	ContributionsPerMinute float64 `toml:"ContributionsPerMinute"`
	ContributionBurst      int     `toml:"ContributionBurst"`
	ThrottleIdleSeconds    uint32  `toml:"ThrottleIdleSeconds"`
	ThrottleMaxKeys        int     `toml:"ThrottleMaxKeys"`

	QuotaMaxRequests  uint32 `toml:"QuotaMaxRequests"`
	QuotaMaxAmount    string `toml:"QuotaMaxAmount"`
	QuotaEpochSeconds uint32 `toml:"QuotaEpochSeconds"`
}

// Bonding holds bonding curve pool defaults.
type Bonding struct {
	FeeBps              uint32  `toml:"FeeBps"`
	FeeProfile          string  `toml:"FeeProfile"`
	GraduationThreshold string  `toml:"GraduationThreshold"`
	SwapsPerMinute      float64 `toml:"SwapsPerMinute"`
	SwapBurst           int     `toml:"SwapBurst"`
}

// Finalize configures the settlement operator.
type Finalize struct {
	// Operator is the hex account granted the escrow operator role. Empty
	// keeps the derived module account.
	Operator string `toml:"Operator"`
}

// Idempotency bounds the processed-transaction store.
type Idempotency struct {
	TTLSeconds uint64 `toml:"TTLSeconds"`
	MaxEntries int    `toml:"MaxEntries"`
}

// Mirror configures the off-chain read model database.
type Mirror struct {
	Driver string `toml:"Driver"` // sqlite | postgres
	DSN    string `toml:"DSN"`
}

// Pauses toggles module-wide circuit breakers.
type Pauses struct {
	Escrow   bool `toml:"Escrow"`
	Sale     bool `toml:"Sale"`
	Vesting  bool `toml:"Vesting"`
	Bonding  bool `toml:"Bonding"`
	Finalize bool `toml:"Finalize"`
}
