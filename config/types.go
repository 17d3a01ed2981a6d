package config

import (
	"fmt"
	"strings"
	"time"

	"zkledger/native/loan"
	"zkledger/observability/logging"
	zkotel "zkledger/observability/otel"
)

// Duration is a time.Duration written as a Go duration string ("336h").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Rollup bounds block commitment and the request expiration window.
type Rollup struct {
	MaxChunksPerBlock  int      `toml:"MaxChunksPerBlock"`
	MaxPendingBlocks   uint32   `toml:"MaxPendingBlocks"`
	ExpirationPeriod   Duration `toml:"ExpirationPeriod"`
	TimestampTolerance Duration `toml:"TimestampTolerance"`
}

// Loan seeds governance parameters for a fresh ledger and tunes runtime
// checks that are not persisted.
type Loan struct {
	General                  loan.LiquidationFactor `toml:"general"`
	Stable                   loan.LiquidationFactor `toml:"stable"`
	HalfLiquidationThreshold uint64                 `toml:"HalfLiquidationThreshold"`
	// RollOverFee is a decimal amount in base-ledger native units.
	RollOverFee string `toml:"RollOverFee"`
	// RollWindow is the minimum gap between a roll borrow order's expiry and
	// the target product's maturity.
	RollWindow Duration `toml:"RollWindow"`
	// OracleMaxAge rejects prices older than this. Zero disables the check.
	OracleMaxAge Duration `toml:"OracleMaxAge"`
}

// RateLimit throttles user entry points per caller.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// RPC configures the JSON-RPC listener and its bearer authentication.
type RPC struct {
	ListenAddress     string    `toml:"ListenAddress"`
	JWTSecret         string    `toml:"JWTSecret"`
	JWTSecretEnv      string    `toml:"JWTSecretEnv"`
	JWTIssuer         string    `toml:"JWTIssuer"`
	JWTAudience       string    `toml:"JWTAudience"`
	ReadHeaderTimeout Duration  `toml:"ReadHeaderTimeout"`
	WriteTimeout      Duration  `toml:"WriteTimeout"`
	MaxBodyBytes      int64     `toml:"MaxBodyBytes"`
	RateLimit         RateLimit `toml:"ratelimit"`
}

// Storage selects the state database directory and the event journal.
type Storage struct {
	// LevelDBDir empty keeps state in memory.
	LevelDBDir string `toml:"LevelDBDir"`
	// EventStoreDriver is sqlite, postgres or empty to disable the journal.
	EventStoreDriver string `toml:"EventStoreDriver"`
	EventStoreDSN    string `toml:"EventStoreDSN"`
}

// Log configures the structured logger.
type Log struct {
	Level string             `toml:"Level"`
	File  logging.FileConfig `toml:"file"`
}

// Config is the zkledgerd node configuration.
type Config struct {
	Environment string        `toml:"Environment"`
	GenesisFile string        `toml:"GenesisFile"`
	Rollup      Rollup        `toml:"rollup"`
	Loan        Loan          `toml:"loan"`
	RPC         RPC           `toml:"rpc"`
	Storage     Storage       `toml:"storage"`
	Telemetry   zkotel.Config `toml:"telemetry"`
	Log         Log           `toml:"log"`
}
