package config

import (
	"fmt"
	"strings"
)

// Validate checks every section before the node starts.
func (c *Config) Validate() error {
	if err := c.RollupConfig().Validate(); err != nil {
		return err
	}
	if _, err := c.LoanParams(); err != nil {
		return fmt.Errorf("loan: %w", err)
	}
	if c.Loan.RollWindow < 0 {
		return fmt.Errorf("loan: RollWindow must not be negative")
	}
	if c.Loan.OracleMaxAge < 0 {
		return fmt.Errorf("loan: OracleMaxAge must not be negative")
	}
	if strings.TrimSpace(c.RPC.ListenAddress) == "" {
		return fmt.Errorf("rpc: ListenAddress required")
	}
	if c.RPC.RateLimit.RequestsPerSecond < 0 || c.RPC.RateLimit.Burst < 0 {
		return fmt.Errorf("rpc: rate limit must not be negative")
	}
	if c.RPC.RateLimit.RequestsPerSecond > 0 && c.RPC.RateLimit.Burst == 0 {
		return fmt.Errorf("rpc: rate limit burst must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.EventStoreDriver)) {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Storage.EventStoreDSN) == "" {
			return fmt.Errorf("storage: EventStoreDSN required for driver %s", c.Storage.EventStoreDriver)
		}
	default:
		return fmt.Errorf("storage: unsupported event store driver %q", c.Storage.EventStoreDriver)
	}
	if c.Telemetry.Enabled() && strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry: ServiceName required when exporters are enabled")
	}
	if ratio := c.Telemetry.SampleRatio; ratio < 0 || ratio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	return nil
}
