package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"zkledger/native/loan"
	"zkledger/native/rollup"
	"zkledger/observability/logging"
	zkotel "zkledger/observability/otel"
)

// Default returns the configuration written on first start.
func Default() *Config {
	params := loan.DefaultParams()
	rc := rollup.DefaultConfig()
	return &Config{
		Environment: "local",
		GenesisFile: "genesis.yaml",
		Rollup: Rollup{
			MaxChunksPerBlock:  rc.MaxChunksPerBlock,
			MaxPendingBlocks:   rc.MaxPendingBlocks,
			ExpirationPeriod:   Duration(rc.ExpirationPeriod),
			TimestampTolerance: Duration(rc.TimestampTolerance),
		},
		Loan: Loan{
			General:                  params.General,
			Stable:                   params.Stable,
			HalfLiquidationThreshold: params.HalfLiquidationThreshold,
			RollOverFee:              "0",
			RollWindow:               Duration(24 * time.Hour),
			OracleMaxAge:             Duration(time.Hour),
		},
		RPC: RPC{
			ListenAddress:     ":8545",
			JWTSecretEnv:      "ZKLEDGER_JWT_SECRET",
			JWTIssuer:         "zkledger",
			ReadHeaderTimeout: Duration(5 * time.Second),
			WriteTimeout:      Duration(30 * time.Second),
			MaxBodyBytes:      4 << 20,
			RateLimit:         RateLimit{RequestsPerSecond: 5, Burst: 20},
		},
		Storage: Storage{
			LevelDBDir:       "./zkledger-data/state",
			EventStoreDriver: "sqlite",
			EventStoreDSN:    "./zkledger-data/events.db",
		},
		Telemetry: zkotel.Config{ServiceName: "zkledgerd", Environment: "local"},
		Log:       Log{Level: "info", File: logging.FileConfig{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28}},
	}
}

// Load reads the configuration at path, writing the defaults there first when
// the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
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

// RollupConfig converts the [rollup] section.
func (c *Config) RollupConfig() rollup.Config {
	return rollup.Config{
		MaxChunksPerBlock:  c.Rollup.MaxChunksPerBlock,
		MaxPendingBlocks:   c.Rollup.MaxPendingBlocks,
		ExpirationPeriod:   c.Rollup.ExpirationPeriod.Std(),
		TimestampTolerance: c.Rollup.TimestampTolerance.Std(),
	}
}

// LoanParams converts the [loan] section into the parameters seeded at
// genesis. The treasury is bound by the genesis file.
func (c *Config) LoanParams() (*loan.Params, error) {
	fee := new(uint256.Int)
	if raw := strings.TrimSpace(c.Loan.RollOverFee); raw != "" {
		parsed, err := uint256.FromDecimal(raw)
		if err != nil {
			return nil, fmt.Errorf("loan.RollOverFee: %w", err)
		}
		fee = parsed
	}
	params := &loan.Params{
		General:                  c.Loan.General,
		Stable:                   c.Loan.Stable,
		HalfLiquidationThreshold: c.Loan.HalfLiquidationThreshold,
		RollOverFee:              fee,
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

// JWTSecret resolves the signing secret, preferring the environment variable
// named by JWTSecretEnv.
func (c *Config) JWTSecret() string {
	if env := strings.TrimSpace(c.RPC.JWTSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.RPC.JWTSecret)
}
