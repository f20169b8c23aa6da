package broker

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/account-stream/internal/allocation"
	"github.com/Rajchodisetti/account-stream/internal/apperr"
	"github.com/Rajchodisetti/account-stream/internal/observ"
)

// Failure is one symbol whose order was not accepted
type Failure struct {
	Symbol   string          `json:"symbol"`
	Notional decimal.Decimal `json:"notional"`
	Error    string          `json:"error"`
}

// Report summarizes one execution attempt
type Report struct {
	AccountID string          `json:"account_id"`
	Total     decimal.Decimal `json:"total"`
	Orders    []Order         `json:"orders"`
	Failures  []Failure       `json:"failures,omitempty"`
}

// Partial reports whether any symbol failed
func (r Report) Partial() bool { return len(r.Failures) > 0 }

// Executor places one notional buy per weighted symbol
type Executor struct {
	client *Client
}

func NewExecutor(client *Client) *Executor {
	return &Executor{client: client}
}

// Execute splits total across ws and orders each share. An account that is
// not ACTIVE yields apperr.NotTradeable and places nothing. Per-symbol failures
// do not stop the remaining orders; they come back in the report together with
// an ExecutionPartial error. When nothing is placed the error is a plain
// failure instead, so the caller retries.
func (e *Executor) Execute(ctx context.Context, accountID string, ws allocation.Weights, total decimal.Decimal) (Report, error) {
	report := Report{AccountID: accountID, Total: total}

	acct, err := e.client.GetAccount(ctx, accountID)
	if err != nil {
		return report, fmt.Errorf("check account %s: %w", accountID, err)
	}
	if acct.Status != StatusActive {
		return report, apperr.NotTradeable(accountID, string(acct.Status))
	}

	for _, a := range allocation.Split(total, ws) {
		req := OrderRequest{
			Symbol:        a.Symbol,
			Notional:      a.Notional,
			ClientOrderID: ClientOrderID(accountID, a.Symbol, a.Notional),
		}
		order, err := e.client.PlaceOrder(ctx, accountID, req)
		if err != nil {
			report.Failures = append(report.Failures, Failure{Symbol: a.Symbol, Notional: a.Notional, Error: err.Error()})
			observ.IncCounter("execution_orders_failed_total", map[string]string{"symbol": a.Symbol})
			observ.Log("order_failed", map[string]any{
				"account_id": accountID,
				"symbol":     a.Symbol,
				"notional":   a.Notional.String(),
				"error":      err,
			})
			continue
		}
		report.Orders = append(report.Orders, *order)
	}

	symbols := make([]string, 0, len(report.Failures))
	for _, f := range report.Failures {
		symbols = append(symbols, f.Symbol)
	}
	switch {
	case len(report.Orders) == 0 && len(report.Failures) == 0:
		return report, fmt.Errorf("allocation for %s produced no orders", accountID)
	case len(report.Orders) == 0:
		return report, fmt.Errorf("all %d orders failed: %s", len(report.Failures), strings.Join(symbols, ","))
	case report.Partial():
		return report, apperr.ExecutionPartial(fmt.Sprintf("%d of %d orders failed: %s",
			len(report.Failures), len(report.Failures)+len(report.Orders), strings.Join(symbols, ",")))
	}
	return report, nil
}

// ClientOrderID derives a stable request key per account, symbol and amount so
// a repeated execution is deduplicated by the brokerage.
func ClientOrderID(accountID, symbol string, notional decimal.Decimal) string {
	data := fmt.Sprintf("%s-%s-%s", accountID, symbol, notional.StringFixed(2))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("init-%s-%x", strings.ToLower(symbol), hash[:8])
}
