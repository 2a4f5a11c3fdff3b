package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrInvalidSignature is returned when an event signature cannot be parsed.
	ErrInvalidSignature = errors.New("invalid event signature")

	// ErrDecode is returned when a log does not match the event layout.
	ErrDecode = errors.New("log does not match event")
)

// Param is one declared event parameter.
type Param struct {
	Name    string
	Type    abi.Type
	Indexed bool
}

// Event is a parsed human-readable event signature, e.g.
// "Transfer(address indexed from, address indexed to, uint256 value)".
type Event struct {
	Name   string
	Params []Param
	// Canonical is the type-only form hashed into topic0.
	Canonical string
	Topic     common.Hash

	explicitIndexed bool
}

// DecodedLog holds the positional and named arguments of a log.
type DecodedLog struct {
	Name        string
	Args        []any
	Named       map[string]string
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
}

// ParseEvent parses an event signature. The "event" keyword and parameter
// names are optional.
func ParseEvent(sig string) (*Event, error) {
	s := strings.TrimSpace(sig)
	s = strings.TrimSuffix(s, ";")
	s = strings.TrimSpace(strings.TrimPrefix(s, "event "))

	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSignature, sig)
	}
	name := strings.TrimSpace(s[:open])
	body := strings.TrimSpace(s[open+1 : len(s)-1])
	if strings.ContainsAny(body, "()") {
		return nil, fmt.Errorf("%w: tuple parameters are not supported: %q", ErrInvalidSignature, sig)
	}

	ev := &Event{Name: name}
	typeNames := make([]string, 0)
	if body != "" {
		for i, raw := range strings.Split(body, ",") {
			p, err := parseParam(strings.Fields(raw), i)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSignature, sig, err)
			}
			if p.Indexed {
				ev.explicitIndexed = true
			}
			ev.Params = append(ev.Params, p)
			typeNames = append(typeNames, p.Type.String())
		}
	}

	ev.Canonical = fmt.Sprintf("%s(%s)", name, strings.Join(typeNames, ","))
	ev.Topic = crypto.Keccak256Hash([]byte(ev.Canonical))
	return ev, nil
}

func parseParam(fields []string, pos int) (Param, error) {
	if len(fields) == 0 {
		return Param{}, errors.New("empty parameter")
	}
	if len(fields) > 3 {
		return Param{}, fmt.Errorf("unexpected tokens %v", fields)
	}

	typ, err := abi.NewType(normalizeType(fields[0]), "", nil)
	if err != nil {
		return Param{}, err
	}
	p := Param{Type: typ}

	rest := fields[1:]
	if len(rest) > 0 && rest[0] == "indexed" {
		p.Indexed = true
		rest = rest[1:]
	}
	switch len(rest) {
	case 0:
		p.Name = fmt.Sprintf("arg%d", pos)
	case 1:
		p.Name = rest[0]
	default:
		return Param{}, fmt.Errorf("unexpected tokens %v", fields)
	}
	return p, nil
}

// normalizeType expands the uint/int aliases to their 256-bit forms.
func normalizeType(t string) string {
	base, suffix := t, ""
	if i := strings.IndexByte(t, '['); i >= 0 {
		base, suffix = t[:i], t[i:]
	}
	switch base {
	case "uint", "int":
		base += "256"
	}
	return base + suffix
}

// indexedFlags returns which params are carried in topics. When the
// signature marks nothing as indexed, the leading params are assumed indexed,
// one per topic after topic0.
func (e *Event) indexedFlags(topicArgs int) ([]bool, error) {
	flags := make([]bool, len(e.Params))
	if e.explicitIndexed {
		n := 0
		for i, p := range e.Params {
			if p.Indexed {
				flags[i] = true
				n++
			}
		}
		if n != topicArgs {
			return nil, fmt.Errorf("%w: expected %d indexed args, log has %d", ErrDecode, n, topicArgs)
		}
		return flags, nil
	}

	if topicArgs > len(e.Params) {
		return nil, fmt.Errorf("%w: log has %d topic args for %d params", ErrDecode, topicArgs, len(e.Params))
	}
	for i := 0; i < topicArgs; i++ {
		flags[i] = true
	}
	return flags, nil
}

// Decode unpacks a log into positional arguments in declaration order.
func (e *Event) Decode(log types.Log) (*DecodedLog, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: anonymous log", ErrDecode)
	}

	flags, err := e.indexedFlags(len(log.Topics) - 1)
	if err != nil {
		return nil, err
	}

	var indexed, data abi.Arguments
	for i, p := range e.Params {
		arg := abi.Argument{Name: p.Name, Type: p.Type, Indexed: flags[i]}
		if flags[i] {
			indexed = append(indexed, arg)
		} else {
			data = append(data, arg)
		}
	}

	topicValues := make(map[string]any, len(indexed))
	if err := abi.ParseTopicsIntoMap(topicValues, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	dataValues, err := data.UnpackValues(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(dataValues) != len(data) {
		return nil, fmt.Errorf("%w: expected %d data values, got %d", ErrDecode, len(data), len(dataValues))
	}

	out := &DecodedLog{
		Name:        e.Name,
		Args:        make([]any, len(e.Params)),
		Named:       make(map[string]string, len(e.Params)),
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}
	di := 0
	for i, p := range e.Params {
		var v any
		if flags[i] {
			v = topicValues[p.Name]
		} else {
			v = dataValues[di]
			di++
		}
		out.Args[i] = v
		out.Named[p.Name] = FormatValue(v)
	}
	return out, nil
}

// FormatValue renders a decoded ABI value for storage in a proof.
func FormatValue(v any) string {
	switch x := v.(type) {
	case common.Address:
		return strings.ToLower(x.Hex())
	case common.Hash:
		return x.Hex()
	case *big.Int:
		return x.String()
	case []byte:
		return hexutil.Encode(x)
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
