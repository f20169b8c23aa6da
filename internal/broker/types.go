// Package broker talks to the brokerage REST API: account status probes and
// notional market orders placed on behalf of a client account.
package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is reported by the brokerage; transitions are not validated here
type AccountStatus string

const (
	StatusSubmitted      AccountStatus = "SUBMITTED"
	StatusApproved       AccountStatus = "APPROVED"
	StatusActive         AccountStatus = "ACTIVE"
	StatusAccountUpdated AccountStatus = "ACCOUNT_UPDATED"
)

// NormalizeStatus upper-cases and trims a status as reported by any source
func NormalizeStatus(s string) AccountStatus {
	return AccountStatus(strings.ToUpper(strings.TrimSpace(s)))
}

// Account is the point-in-time view returned by a status probe
type Account struct {
	ID            string        `json:"id"`
	AccountNumber string        `json:"account_number,omitempty"`
	Status        AccountStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at,omitempty"`

	// Balances come from the trading account endpoint and may be absent
	Cash        decimal.NullDecimal `json:"cash"`
	BuyingPower decimal.NullDecimal `json:"buying_power"`
	Equity      decimal.NullDecimal `json:"equity"`
}

// TradingAccount carries balance fields
type TradingAccount struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Cash        decimal.Decimal `json:"cash"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	Equity      decimal.Decimal `json:"equity"`
}

// OrderRequest is a notional market buy
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	Notional      decimal.Decimal `json:"notional"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	TimeInForce   string          `json:"time_in_force"`
	ClientOrderID string          `json:"client_order_id"`
}

type Order struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Notional      decimal.Decimal `json:"notional"`
	Side          string          `json:"side"`
	Status        string          `json:"status"`
}

// APIError is a non-2xx brokerage response
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("brokerage HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("brokerage HTTP %d", e.Status)
}

// Retryable reports whether the request may succeed if repeated
func (e *APIError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}
