package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"zkledger/rpc/middleware"
)

// decodeParams unmarshals the single parameter object of req into out. An
// absent parameter list leaves out untouched.
func decodeParams(req *RPCRequest, out interface{}) error {
	switch len(req.Params) {
	case 0:
		return nil
	case 1:
		if err := json.Unmarshal(req.Params[0], out); err != nil {
			return invalidParams("invalid parameter object", err)
		}
		return nil
	default:
		return invalidParams("expected a single parameter object", nil)
	}
}

func requireParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return invalidParams("parameter object required", nil)
	}
	return decodeParams(req, out)
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, invalidParams("invalid "+field, nil)
	}
	return common.HexToAddress(trimmed), nil
}

// parseAmount reads a non-negative decimal or 0x-prefixed hex amount. An empty
// value is zero.
func parseAmount(field, value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	var (
		amount *uint256.Int
		err    error
	)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		amount, err = uint256.FromHex(trimmed)
	} else {
		amount, err = uint256.FromDecimal(trimmed)
	}
	if err != nil {
		return nil, invalidParams("invalid "+field, err)
	}
	return amount, nil
}

// callerAddress resolves the authenticated subject as a base-ledger address.
func callerAddress(r *http.Request) (common.Address, error) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		return common.Address{}, invalidParams("authenticated caller required", nil)
	}
	return parseAddress("token subject", principal.Subject)
}
