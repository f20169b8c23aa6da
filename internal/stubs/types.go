package stubs

import (
	"fmt"
	"time"
)

// StatusEvent mirrors the brokerage account-status stream payload
type StatusEvent struct {
	AccountID     string `json:"account_id"`
	AccountNumber string `json:"account_number"`
	At            string `json:"at"`
	EventID       int64  `json:"event_id"`
	EventULID     string `json:"event_ulid"`
	StatusFrom    string `json:"status_from"`
	StatusTo      string `json:"status_to"`
}

type account struct {
	ID            string `json:"id"`
	AccountNumber string `json:"account_number"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

type tradingAccount struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Equity      string `json:"equity"`
}

// OrderRecord is an order accepted by the simulator
type OrderRecord struct {
	ID            string `json:"id"`
	AccountID     string `json:"-"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Notional      string `json:"notional"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	Status        string `json:"status"`
	SubmittedAt   string `json:"submitted_at"`
}

// ulidFor makes a lexically ordered 26-character id for sequence n
func ulidFor(n int64) string {
	return fmt.Sprintf("01J%023d", n)
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
