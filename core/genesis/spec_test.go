package genesis

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	ledgererr "zkledger/core/errors"
)

const sampleGenesis = `
genesisTime: 2024-01-01T00:00:00Z
stateRoot: "0x00000000000000000000000000000000000000000000000000000000000000aa"
treasury: "0x00000000000000000000000000000000000000fe"
tokens:
  - id: 2
    symbol: USDC
    decimals: 6
    stableCoin: true
    priceUsd: "1"
  - id: 1
    symbol: ETH
    decimals: 18
    priceUsd: "2000.5"
loan:
  halfLiquidationThreshold: 5000
  rollOverFee: "1000"
products:
  - baseTokenId: 2
    tsbTokenId: 40
    maturityTime: 2024-06-30T00:00:00Z
`

func TestParseGenesisSpec(t *testing.T) {
	spec, err := ParseGenesisSpec([]byte(sampleGenesis))
	require.NoError(t, err)

	require.Equal(t, int64(1704067200), spec.GenesisTimestamp().Unix())
	require.Equal(t, common.HexToHash("0xaa"), spec.StateRootHash())

	registry := spec.Registry()
	require.Len(t, registry, 2)
	require.Equal(t, uint16(1), registry[0].ID)
	require.True(t, registry[1].IsStableCoin)

	prices := spec.Prices()
	want, _ := new(big.Int).SetString("2000500000000000000000", 10)
	require.Zero(t, want.Cmp(prices[1]))

	params, err := spec.LoanParams(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(5000), params.HalfLiquidationThreshold)
	require.Equal(t, uint64(1000), params.RollOverFee.Uint64())
	require.Equal(t, common.HexToAddress("0xfe"), params.Treasury)
	require.Equal(t, uint16(800), params.General.LiquidationLtvThreshold)

	products := spec.LoanProducts()
	require.Len(t, products, 1)
	require.Equal(t, uint32(1719705600), products[0].MaturityTime)
}

func TestParseGenesisSpecRejections(t *testing.T) {
	cases := map[string]string{
		"missing time":     "tokens: []\n",
		"unknown field":    "genesisTime: 2024-01-01T00:00:00Z\nbogus: 1\n",
		"duplicate token":  "genesisTime: 2024-01-01T00:00:00Z\ntokens:\n  - id: 1\n  - id: 1\n",
		"zero token id":    "genesisTime: 2024-01-01T00:00:00Z\ntokens:\n  - id: 0\n",
		"bad price":        "genesisTime: 2024-01-01T00:00:00Z\ntokens:\n  - id: 1\n    priceUsd: \"-3\"\n",
		"bad treasury":     "genesisTime: 2024-01-01T00:00:00Z\ntreasury: nope\n",
		"past maturity":    "genesisTime: 2024-01-01T00:00:00Z\ntokens:\n  - id: 1\nproducts:\n  - baseTokenId: 1\n    tsbTokenId: 9\n    maturityTime: 2023-01-01T00:00:00Z\n",
		"unknown base":     "genesisTime: 2024-01-01T00:00:00Z\nproducts:\n  - baseTokenId: 1\n    tsbTokenId: 9\n    maturityTime: 2025-01-01T00:00:00Z\n",
		"short state root": "genesisTime: 2024-01-01T00:00:00Z\nstateRoot: \"0x01\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGenesisSpec([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoanFactorsAreValidated(t *testing.T) {
	doc := `
genesisTime: 2024-01-01T00:00:00Z
loan:
  general:
    liquidationLtvThreshold: 950
    borrowOrderLtvThreshold: 900
    liquidatorIncentive: 50
    protocolPenalty: 25
`
	_, err := ParseGenesisSpec([]byte(doc))
	require.ErrorIs(t, err, ledgererr.ErrInvalidLiquidationFactor)
}

func TestLoadGenesisSpecFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleGenesis), 0o600))
	spec, err := LoadGenesisSpec(path)
	require.NoError(t, err)
	require.Len(t, spec.Tokens, 2)

	_, err = LoadGenesisSpec("")
	require.Error(t, err)
}
