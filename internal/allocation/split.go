package allocation

import "github.com/shopspring/decimal"

// Allocation is the dollar amount assigned to one symbol
type Allocation struct {
	Symbol   string
	Notional decimal.Decimal
}

// Split divides total across ws in proportion to each weight, rounded down to
// cents. Symbols whose share rounds to zero are omitted.
func Split(total decimal.Decimal, ws Weights) []Allocation {
	sum := ws.Sum()
	if !sum.IsPositive() || !total.IsPositive() {
		return nil
	}
	out := make([]Allocation, 0, len(ws))
	for _, w := range ws {
		if !w.Weight.IsPositive() {
			continue
		}
		notional := total.Mul(w.Weight).Div(sum).RoundFloor(2)
		if !notional.IsPositive() {
			continue
		}
		out = append(out, Allocation{Symbol: w.Symbol, Notional: notional})
	}
	return out
}
