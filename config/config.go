package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"launchpad/core/idempotency"
	"launchpad/native/fees"
	"launchpad/native/finalize"
)

const (
	defaultDataDir             = "./launchpad-data"
	defaultBondingFeeBps       = 100
	defaultGraduationThreshold = "1000000000000000000000"
)

// Load loads the configuration from the given path. A missing file is
// replaced by a freshly written default configuration.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	var unknown []string
	for _, key := range meta.Undecoded() {
		// Profile tables are decoded by fees.Profile.UnmarshalTOML.
		if len(key) > 0 && key[0] == "fee_profiles" {
			continue
		}
		unknown = append(unknown, key.String())
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(unknown, ", "))
	}

	if !meta.IsDefined("sale", "FeeBps") {
		cfg.Sale.FeeBps = finalize.DefaultSaleFeeBps
	}
	if !meta.IsDefined("bonding", "FeeBps") {
		cfg.Bonding.FeeBps = defaultBondingFeeBps
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written by createDefault.
func Default() *Config {
	cfg := &Config{
		DataDir: defaultDataDir,
		Storage: Storage{Backend: "leveldb"},
		Sale:    Sale{FeeBps: finalize.DefaultSaleFeeBps},
		Bonding: Bonding{FeeBps: defaultBondingFeeBps},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = "leveldb"
	}
	if c.Storage.Backend == "leveldb" && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "ledger")
	}
	if strings.TrimSpace(c.Logging.Service) == "" {
		c.Logging.Service = "launchpad"
	}
	if strings.TrimSpace(c.Logging.Env) == "" {
		c.Logging.Env = "dev"
	}
	if strings.TrimSpace(c.Sale.FeeProfile) == "" {
		c.Sale.FeeProfile = fees.ProfileSale
	}
	if c.Sale.ThrottleIdleSeconds == 0 {
		c.Sale.ThrottleIdleSeconds = 600
	}
	if strings.TrimSpace(c.Bonding.FeeProfile) == "" {
		c.Bonding.FeeProfile = fees.ProfileBonding
	}
	if strings.TrimSpace(c.Bonding.GraduationThreshold) == "" {
		c.Bonding.GraduationThreshold = defaultGraduationThreshold
	}
	if c.Idempotency.TTLSeconds == 0 {
		c.Idempotency.TTLSeconds = uint64(idempotency.DefaultTTL.Seconds())
	}
	if c.Idempotency.MaxEntries == 0 {
		c.Idempotency.MaxEntries = idempotency.DefaultMaxEntries
	}
	c.Mirror.Driver = strings.ToLower(strings.TrimSpace(c.Mirror.Driver))
	if c.Mirror.Driver == "" {
		c.Mirror.Driver = "sqlite"
	}
	if c.Mirror.Driver == "sqlite" && strings.TrimSpace(c.Mirror.DSN) == "" {
		c.Mirror.DSN = filepath.Join(c.DataDir, "mirror.db")
	}
	if c.FeeProfiles == nil {
		c.FeeProfiles = []fees.Profile{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
