package rollup

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EmptyPendingRollupTxHash seeds the pending rollup tx hash chain at genesis.
var EmptyPendingRollupTxHash = crypto.Keccak256Hash(nil)

// Status holds the rollup pipeline counters. Invariants:
// executed <= verified <= committed for blocks and
// executed <= committed <= total for requests.
type Status struct {
	CommittedBlockNum     uint32 `json:"committedBlockNum"`
	VerifiedBlockNum      uint32 `json:"verifiedBlockNum"`
	ExecutedBlockNum      uint32 `json:"executedBlockNum"`
	CommittedL1RequestNum uint64 `json:"committedL1RequestNum"`
	ExecutedL1RequestNum  uint64 `json:"executedL1RequestNum"`
	TotalL1RequestNum     uint64 `json:"totalL1RequestNum"`
	AccountNum            uint32 `json:"accountNum"`
	EvacuMode             bool   `json:"evacuMode"`
}

// Config bounds block commitment.
type Config struct {
	MaxChunksPerBlock  int
	MaxPendingBlocks   uint32
	ExpirationPeriod   time.Duration
	TimestampTolerance time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxChunksPerBlock:  1024,
		MaxPendingBlocks:   64,
		ExpirationPeriod:   14 * 24 * time.Hour,
		TimestampTolerance: 15 * time.Minute,
	}
}

// Validate rejects limits that would stall the pipeline.
func (c Config) Validate() error {
	if c.MaxChunksPerBlock <= 0 {
		return fmt.Errorf("rollup: MaxChunksPerBlock must be positive")
	}
	if c.MaxPendingBlocks == 0 {
		return fmt.Errorf("rollup: MaxPendingBlocks must be positive")
	}
	if c.ExpirationPeriod < time.Second {
		return fmt.Errorf("rollup: ExpirationPeriod must be at least one second")
	}
	if c.TimestampTolerance < 0 {
		return fmt.Errorf("rollup: TimestampTolerance must not be negative")
	}
	return nil
}

func (c Config) expirationSeconds() uint64 { return uint64(c.ExpirationPeriod / time.Second) }
func (c Config) toleranceSeconds() uint64  { return uint64(c.TimestampTolerance / time.Second) }

// BlockStage is the pipeline position of a block number.
type BlockStage uint8

const (
	StageUnknown BlockStage = iota
	StageCommitted
	StageVerified
	StageExecuted
)

func (s BlockStage) String() string {
	switch s {
	case StageCommitted:
		return "committed"
	case StageVerified:
		return "verified"
	case StageExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// PublicInputs are handed to the proof verifier for a committed block.
type PublicInputs struct {
	BlockNumber         uint32
	OldStateRoot        common.Hash
	NewStateRoot        common.Hash
	NewTsRoot           common.Hash
	PublicDataHash      common.Hash
	PendingRollupTxHash common.Hash
	L1RequestDelta      uint64
	Timestamp           uint64
	Commitment          common.Hash
}

// Verifier checks a block proof against its public inputs.
type Verifier interface {
	Verify(proof []byte, inputs PublicInputs) bool
}

// CommitmentVerifier accepts a proof equal to the block commitment. It is
// intended for development networks without a prover.
type CommitmentVerifier struct{}

func (CommitmentVerifier) Verify(proof []byte, inputs PublicInputs) bool {
	return bytes.Equal(proof, inputs.Commitment.Bytes())
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(proof []byte, inputs PublicInputs) bool

func (f VerifierFunc) Verify(proof []byte, inputs PublicInputs) bool { return f(proof, inputs) }
