package filter

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/questwatch/internal/core/domain"
)

// Positional arguments the filter inspects.
const (
	argFrom  = 0
	argTo    = 1
	argValue = 2
)

// Match reports whether decoded args satisfy f for the given wallet.
// The wallet replaces the $USER sentinel. A nil filter matches everything.
func Match(f *domain.ArgFilter, args []any, wallet string) bool {
	if f == nil {
		return true
	}
	if f.From != nil && !matchAddress(*f.From, args, argFrom, wallet) {
		return false
	}
	if f.To != nil && !matchAddress(*f.To, args, argTo, wallet) {
		return false
	}
	if f.MinValueWei != nil {
		if argValue >= len(args) {
			return false
		}
		v, ok := AsBigInt(args[argValue])
		if !ok || v.Sign() < 0 || v.Cmp(f.MinValueWei) < 0 {
			return false
		}
	}
	return true
}

func matchAddress(want string, args []any, pos int, wallet string) bool {
	if pos >= len(args) {
		return false
	}
	if want == domain.CurrentWallet {
		want = wallet
	}
	got, ok := AsAddress(args[pos])
	if !ok {
		return false
	}
	return strings.EqualFold(got, strings.TrimSpace(want))
}

// AsAddress renders an address-like argument as lower-case hex.
func AsAddress(v any) (string, bool) {
	switch x := v.(type) {
	case common.Address:
		return strings.ToLower(x.Hex()), true
	case *common.Address:
		if x == nil {
			return "", false
		}
		return strings.ToLower(x.Hex()), true
	case string:
		return domain.NormalizeAddress(x), true
	default:
		return "", false
	}
}

// AsBigInt converts an integer argument to a big.Int.
func AsBigInt(v any) (*big.Int, bool) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, false
		}
		return x, true
	case uint8:
		return new(big.Int).SetUint64(uint64(x)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(x)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(x)), true
	case uint64:
		return new(big.Int).SetUint64(x), true
	case int8:
		return big.NewInt(int64(x)), true
	case int16:
		return big.NewInt(int64(x)), true
	case int32:
		return big.NewInt(int64(x)), true
	case int64:
		return big.NewInt(x), true
	case string:
		return new(big.Int).SetString(strings.TrimSpace(x), 10)
	default:
		return nil, false
	}
}
