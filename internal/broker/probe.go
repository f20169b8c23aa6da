package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/account-stream/internal/observ"
)

// Prober answers live status probes. Balances are best-effort: a failed
// balance lookup still returns the status.
type Prober struct {
	client *Client
}

func NewProber(client *Client) *Prober {
	return &Prober{client: client}
}

func (p *Prober) Probe(ctx context.Context, accountID string) (*Account, error) {
	acct, err := p.client.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ta, err := p.client.GetTradingAccount(ctx, accountID)
	if err != nil {
		observ.Log("probe_balances_unavailable", map[string]any{
			"account_id": accountID,
			"error":      err,
		})
		return acct, nil
	}
	acct.Cash = decimal.NewNullDecimal(ta.Cash)
	acct.BuyingPower = decimal.NewNullDecimal(ta.BuyingPower)
	acct.Equity = decimal.NewNullDecimal(ta.Equity)
	return acct, nil
}
