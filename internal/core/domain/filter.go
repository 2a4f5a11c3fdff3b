package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// CurrentWallet is the filter sentinel replaced by the address under test.
const CurrentWallet = "$USER"

// ErrInvalidFilter is returned when a stored argument filter has an unknown shape.
var ErrInvalidFilter = errors.New("invalid arg filter")

var hexAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ArgFilter constrains decoded event arguments. A nil field leaves that
// dimension unconstrained.
type ArgFilter struct {
	From        *string
	To          *string
	MinValueWei *big.Int
}

type argFilterWire struct {
	From        *string         `json:"from"`
	To          *string         `json:"to"`
	MinValueWei json.RawMessage `json:"minValueWei"`
}

// ParseArgFilter decodes a stored filter payload. Empty or null payloads yield
// a nil filter, which matches everything.
func ParseArgFilter(raw []byte) (*ArgFilter, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var wire argFilterWire
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	f := &ArgFilter{}
	var err error
	if f.From, err = parseAddressField("from", wire.From); err != nil {
		return nil, err
	}
	if f.To, err = parseAddressField("to", wire.To); err != nil {
		return nil, err
	}
	if f.MinValueWei, err = parseMinValue(wire.MinValueWei); err != nil {
		return nil, err
	}
	return f, nil
}

func parseAddressField(name string, v *string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*v)
	switch {
	case s == "":
		return nil, nil
	case s == CurrentWallet:
		return &s, nil
	case hexAddress.MatchString(s):
		s = NormalizeAddress(s)
		return &s, nil
	default:
		return nil, fmt.Errorf("%w: %s must be an address or %s, got %q", ErrInvalidFilter, name, CurrentWallet, s)
	}
}

func parseMinValue(raw json.RawMessage) (*big.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: minValueWei: %v", ErrInvalidFilter, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
	}

	v, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("%w: minValueWei is not an integer: %q", ErrInvalidFilter, text)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: minValueWei is negative: %s", ErrInvalidFilter, v)
	}
	return v, nil
}

// MarshalJSON writes the filter in its stored form.
func (f *ArgFilter) MarshalJSON() ([]byte, error) {
	wire := map[string]string{}
	if f.From != nil {
		wire["from"] = *f.From
	}
	if f.To != nil {
		wire["to"] = *f.To
	}
	if f.MinValueWei != nil {
		wire["minValueWei"] = f.MinValueWei.String()
	}
	return json.Marshal(wire)
}

// IsZero reports whether the filter constrains nothing.
func (f *ArgFilter) IsZero() bool {
	return f == nil || (f.From == nil && f.To == nil && f.MinValueWei == nil)
}
