// Package allocation normalizes portfolio weight targets and splits an
// investment amount across them.
package allocation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Weight is one symbol's target share. Weights are relative: 60/40 and
// 0.6/0.4 describe the same allocation.
type Weight struct {
	Symbol string          `json:"symbol"`
	Weight decimal.Decimal `json:"weight"`
}

type Weights []Weight

// Equal compares symbols, order and weight values
func (ws Weights) Equal(other Weights) bool {
	if len(ws) != len(other) {
		return false
	}
	for i := range ws {
		if ws[i].Symbol != other[i].Symbol || !ws[i].Weight.Equal(other[i].Weight) {
			return false
		}
	}
	return true
}

// Sum adds up all weights
func (ws Weights) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, w := range ws {
		total = total.Add(w.Weight)
	}
	return total
}

// Shape records which encoding a plan arrived in
type Shape int

const (
	ShapeNone             Shape = iota
	ShapePairs                  // [{"symbol":"AAA","weight":60}, ...]
	ShapeMap                    // {"AAA":60, ...}
	ShapeTargetAllocation       // {"target_allocation": {...} | [...]}
	ShapeWeightsField           // {"weights": ...} or {"target_weights": ...}
)

func (s Shape) String() string {
	switch s {
	case ShapePairs:
		return "pairs"
	case ShapeMap:
		return "map"
	case ShapeTargetAllocation:
		return "target_allocation"
	case ShapeWeightsField:
		return "weights_field"
	default:
		return "none"
	}
}

// Plan is a decoded weight plan. Whatever the input shape, Weights holds the
// canonical ordered list; object keys keep their document order.
type Plan struct {
	Shape   Shape
	Weights Weights
	raw     json.RawMessage
}

var ErrUnknownShape = errors.New("allocation: unrecognized plan shape")

// Parse decodes any supported plan encoding
func Parse(raw []byte) (Plan, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Plan{}, nil
	}
	p := Plan{raw: append(json.RawMessage(nil), raw...)}
	switch raw[0] {
	case '[':
		ws, err := parsePairs(raw)
		if err != nil {
			return Plan{}, err
		}
		p.Shape, p.Weights = ShapePairs, ws
	case '{':
		fields, err := orderedObject(raw)
		if err != nil {
			return Plan{}, err
		}
		if v, ok := lookup(fields, "target_allocation"); ok {
			inner, err := Parse(v)
			if err != nil {
				return Plan{}, fmt.Errorf("target_allocation: %w", err)
			}
			p.Shape, p.Weights = ShapeTargetAllocation, inner.Weights
			return p, nil
		}
		for _, key := range []string{"target_weights", "weights"} {
			if v, ok := lookup(fields, key); ok {
				inner, err := Parse(v)
				if err != nil {
					return Plan{}, fmt.Errorf("%s: %w", key, err)
				}
				p.Shape, p.Weights = ShapeWeightsField, inner.Weights
				return p, nil
			}
		}
		ws, err := mapWeights(fields)
		if err != nil {
			return Plan{}, err
		}
		p.Shape, p.Weights = ShapeMap, ws
	default:
		return Plan{}, ErrUnknownShape
	}
	return p, nil
}

// Normalize is Parse for callers that only want the weights; undecodable
// input yields an empty list.
func Normalize(raw []byte) Weights {
	p, err := Parse(raw)
	if err != nil {
		return nil
	}
	return p.Weights
}

func (p *Plan) UnmarshalJSON(b []byte) error {
	parsed, err := Parse(b)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalJSON keeps the original encoding when there is one
func (p Plan) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	if p.Weights == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p.Weights)
}

// NewPlan builds a pair-shaped plan from weights
func NewPlan(ws Weights) Plan {
	return Plan{Shape: ShapePairs, Weights: ws}
}

type pair struct {
	Symbol     string          `json:"symbol"`
	Ticker     string          `json:"ticker"`
	Weight     json.RawMessage `json:"weight"`
	Percentage json.RawMessage `json:"percentage"`
}

func parsePairs(raw []byte) (Weights, error) {
	var pairs []pair
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("allocation: pairs: %w", err)
	}
	ws := make(Weights, 0, len(pairs))
	for _, p := range pairs {
		sym := p.Symbol
		if sym == "" {
			sym = p.Ticker
		}
		val := p.Weight
		if len(val) == 0 {
			val = p.Percentage
		}
		d, ok := number(val)
		if sym == "" || !ok {
			continue
		}
		ws = append(ws, Weight{Symbol: strings.ToUpper(sym), Weight: d})
	}
	return ws, nil
}

func mapWeights(fields []field) (Weights, error) {
	ws := make(Weights, 0, len(fields))
	for _, f := range fields {
		d, ok := number(f.value)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a weight", ErrUnknownShape, f.key)
		}
		ws = append(ws, Weight{Symbol: strings.ToUpper(f.key), Weight: d})
	}
	return ws, nil
}

type field struct {
	key   string
	value json.RawMessage
}

// orderedObject decodes a JSON object keeping key order
func orderedObject(raw []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("allocation: %w", err)
	}
	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("allocation: %w", err)
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("allocation: %s: %w", key, err)
		}
		fields = append(fields, field{key: key, value: v})
	}
	return fields, nil
}

func lookup(fields []field, key string) (json.RawMessage, bool) {
	for _, f := range fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

// number accepts JSON numbers and numeric strings
func number(raw json.RawMessage) (decimal.Decimal, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '{' || raw[0] == '[' || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, false
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Number exposes the numeric decoder for other free-form payloads
func Number(raw json.RawMessage) (decimal.Decimal, bool) {
	return number(raw)
}
