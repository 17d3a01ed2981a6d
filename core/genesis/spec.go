// Package genesis loads the YAML document describing the initial token
// registry, loan parameters and loan products of a ledger.
package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"zkledger/core/types"
	"zkledger/native/loan"
)

type GenesisSpec struct {
	GenesisTime string        `yaml:"genesisTime"`
	StateRoot   string        `yaml:"stateRoot"`
	Treasury    string        `yaml:"treasury"`
	Tokens      []TokenSpec   `yaml:"tokens"`
	Loan        LoanSpec      `yaml:"loan"`
	Products    []ProductSpec `yaml:"products"`

	genesisTimestamp time.Time
	stateRoot        common.Hash
	treasury         common.Address
}

type TokenSpec struct {
	ID         uint16 `yaml:"id"`
	Symbol     string `yaml:"symbol"`
	Address    string `yaml:"address"`
	Decimals   uint8  `yaml:"decimals"`
	StableCoin bool   `yaml:"stableCoin"`
	// PriceUSD seeds a static price feed, as a decimal string. Tokens without
	// a price need an external feed before loans over them can be valued.
	PriceUSD string `yaml:"priceUsd,omitempty"`

	price *big.Int
}

type LoanSpec struct {
	General                  *loan.LiquidationFactor `yaml:"general,omitempty"`
	Stable                   *loan.LiquidationFactor `yaml:"stable,omitempty"`
	HalfLiquidationThreshold *uint64                 `yaml:"halfLiquidationThreshold,omitempty"`
	RollOverFee              string                  `yaml:"rollOverFee,omitempty"`
}

type ProductSpec struct {
	BaseTokenID  uint16 `yaml:"baseTokenId"`
	TsbTokenID   uint16 `yaml:"tsbTokenId"`
	MaturityTime string `yaml:"maturityTime"`

	maturity uint32
}

// LoadGenesisSpec reads and validates the genesis document at path. Unknown
// fields are rejected.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	return ParseGenesisSpec(raw)
}

// ParseGenesisSpec decodes and validates a YAML genesis document.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *GenesisSpec) validate() error {
	ts, err := parseTime(s.GenesisTime)
	if err != nil {
		return fmt.Errorf("genesisTime: %w", err)
	}
	s.genesisTimestamp = ts

	if root := strings.TrimSpace(s.StateRoot); root != "" {
		raw := common.FromHex(root)
		if len(raw) != common.HashLength {
			return fmt.Errorf("stateRoot: expected %d bytes, got %d", common.HashLength, len(raw))
		}
		s.stateRoot = common.BytesToHash(raw)
	}
	if treasury := strings.TrimSpace(s.Treasury); treasury != "" {
		if !common.IsHexAddress(treasury) {
			return fmt.Errorf("treasury: invalid address %q", s.Treasury)
		}
		s.treasury = common.HexToAddress(treasury)
	}

	seen := make(map[uint16]bool, len(s.Tokens))
	for i := range s.Tokens {
		token := &s.Tokens[i]
		if token.ID == 0 {
			return fmt.Errorf("tokens[%d]: id must be non-zero", i)
		}
		if seen[token.ID] {
			return fmt.Errorf("tokens[%d]: duplicate id %d", i, token.ID)
		}
		seen[token.ID] = true
		if token.Decimals > 36 {
			return fmt.Errorf("token %d: decimals %d out of range", token.ID, token.Decimals)
		}
		if addr := strings.TrimSpace(token.Address); addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("token %d: invalid address %q", token.ID, token.Address)
		}
		if strings.TrimSpace(token.PriceUSD) != "" {
			price, err := parsePrice(token.PriceUSD)
			if err != nil {
				return fmt.Errorf("token %d priceUsd: %w", token.ID, err)
			}
			token.price = price
		}
	}
	sort.Slice(s.Tokens, func(i, j int) bool { return s.Tokens[i].ID < s.Tokens[j].ID })

	if _, err := s.LoanParams(nil); err != nil {
		return fmt.Errorf("loan: %w", err)
	}

	for i := range s.Products {
		p := &s.Products[i]
		if !seen[p.BaseTokenID] {
			return fmt.Errorf("products[%d]: base token %d not declared", i, p.BaseTokenID)
		}
		if seen[p.TsbTokenID] {
			return fmt.Errorf("products[%d]: tsb token %d collides with a declared token", i, p.TsbTokenID)
		}
		maturity, err := parseTime(p.MaturityTime)
		if err != nil {
			return fmt.Errorf("products[%d] maturityTime: %w", i, err)
		}
		if !maturity.After(ts) {
			return fmt.Errorf("products[%d]: maturity must be after genesis", i)
		}
		p.maturity = uint32(maturity.Unix())
		seen[p.TsbTokenID] = true
	}
	return nil
}

// GenesisTimestamp returns the parsed genesis time.
func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// StateRootHash returns the initial rollup state root.
func (s *GenesisSpec) StateRootHash() common.Hash { return s.stateRoot }

// Registry returns the declared tokens in ascending id order.
func (s *GenesisSpec) Registry() []types.Token {
	out := make([]types.Token, 0, len(s.Tokens))
	for _, t := range s.Tokens {
		out = append(out, types.Token{
			ID:           t.ID,
			Address:      common.HexToAddress(strings.TrimSpace(t.Address)),
			Decimals:     t.Decimals,
			IsStableCoin: t.StableCoin,
		})
	}
	return out
}

// Prices returns the seeded USD prices, normalised to loan.PriceDecimals, by
// token id.
func (s *GenesisSpec) Prices() map[uint16]*big.Int {
	out := make(map[uint16]*big.Int)
	for _, t := range s.Tokens {
		if t.price != nil {
			out[t.ID] = new(big.Int).Set(t.price)
		}
	}
	return out
}

// LoanParams overlays the declared loan settings on the defaults.
// LoanParams overlays the loan section on base, or on the launch defaults
// when base is nil, and binds the treasury.
func (s *GenesisSpec) LoanParams(base *loan.Params) (*loan.Params, error) {
	params := loan.DefaultParams()
	if base != nil {
		params = base.Clone()
	}
	if s.Loan.General != nil {
		params.General = *s.Loan.General
	}
	if s.Loan.Stable != nil {
		params.Stable = *s.Loan.Stable
	}
	if s.Loan.HalfLiquidationThreshold != nil {
		params.HalfLiquidationThreshold = *s.Loan.HalfLiquidationThreshold
	}
	if fee := strings.TrimSpace(s.Loan.RollOverFee); fee != "" {
		value, err := uint256.FromDecimal(fee)
		if err != nil {
			return nil, fmt.Errorf("rollOverFee: %w", err)
		}
		params.RollOverFee = value
	}
	params.Treasury = s.treasury
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

// Product is a validated loan product declaration.
type Product struct {
	BaseTokenID  uint16
	TsbTokenID   uint16
	MaturityTime uint32
}

func (s *GenesisSpec) LoanProducts() []Product {
	out := make([]Product, 0, len(s.Products))
	for _, p := range s.Products {
		out = append(out, Product{BaseTokenID: p.BaseTokenID, TsbTokenID: p.TsbTokenID, MaturityTime: p.maturity})
	}
	return out
}

func parseTime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("must be provided")
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

var priceScale = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(loan.PriceDecimals), nil))

func parsePrice(value string) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(value))
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", value)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("must be positive")
	}
	rat.Mul(rat, priceScale)
	if !rat.IsInt() {
		return nil, fmt.Errorf("more than %d decimals", loan.PriceDecimals)
	}
	return new(big.Int).Set(rat.Num()), nil
}
