// Package ledger is the append-only activity record store. Activities are the
// durable audit trail the reconciliation engine reads back newest-first.
package ledger

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/account-stream/internal/allocation"
)

// Activity types written by this module
const (
	TypeAccountCreated   = "account_created"
	TypeAccountStatus    = "account_status"
	TypeProposalApproved = "proposal_approved"
	TypeTradeExecution   = "trade_execution"
	TypeWarning          = "warning"
)

// Meta keys with defined meaning
const (
	MetaAccountID       = "alpaca_account_id"
	MetaTargetWeights   = "target_weights"
	MetaWeights         = "weights"
	MetaTotalInvestment = "total_investment"
	MetaTradesExecuted  = "trades_executed"
	MetaAccountStatus   = "account_status"
	MetaInitialStatus   = "initial_status"
	MetaFailures        = "failures"
)

// Activity is one immutable ledger record
type Activity struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Meta      Meta      `json:"meta,omitempty"`
}

// Meta is the free-form bag. Values stay raw so each accessor decides how
// to read the shapes it accepts.
type Meta map[string]json.RawMessage

// Set stores v under key; values that cannot be encoded are skipped
func (m Meta) Set(key string, v any) Meta {
	b, err := json.Marshal(v)
	if err == nil {
		m[key] = b
	}
	return m
}

func (m Meta) str(keys ...string) string {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// AccountID returns the linked brokerage account, if any
func (m Meta) AccountID() string {
	return m.str(MetaAccountID, "account_id", "accountId")
}

// Status returns the recorded account status, preferring account_status
func (m Meta) Status() string {
	return strings.ToUpper(m.str(MetaAccountStatus, MetaInitialStatus))
}

// Weights returns target_weights or weights, normalized
func (m Meta) Weights() allocation.Weights {
	for _, k := range []string{MetaTargetWeights, MetaWeights} {
		if raw, ok := m[k]; ok {
			if ws := allocation.Normalize(raw); len(ws) > 0 {
				return ws
			}
		}
	}
	return nil
}

// TotalInvestment returns the recorded investment amount when it is numeric
func (m Meta) TotalInvestment() (decimal.Decimal, bool) {
	raw, ok := m[MetaTotalInvestment]
	if !ok {
		return decimal.Zero, false
	}
	return allocation.Number(raw)
}

// TradesExecuted reports the execution marker
func (m Meta) TradesExecuted() bool {
	raw, ok := m[MetaTradesExecuted]
	if !ok {
		return false
	}
	var b bool
	return json.Unmarshal(raw, &b) == nil && b
}

// IsExecution reports whether a records a trade execution attempt
func (a Activity) IsExecution() bool {
	return a.Type == TypeTradeExecution || a.Meta.TradesExecuted()
}

// Ledger is the activity store contract
type Ledger interface {
	// Append stores a, assigning ID and Timestamp when unset
	Append(ctx context.Context, a Activity) (Activity, error)
	// ListByOwner returns up to limit activities for owner, newest first
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Activity, error)
}

func prepare(a Activity) Activity {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if a.Meta == nil {
		a.Meta = Meta{}
	}
	return a
}

// newestFirst orders by timestamp descending; equal timestamps keep append order reversed
func newestFirst(as []Activity) {
	for i, j := 0, len(as)-1; i < j; i, j = i+1, j-1 {
		as[i], as[j] = as[j], as[i]
	}
	sort.SliceStable(as, func(i, j int) bool {
		return as[i].Timestamp.After(as[j].Timestamp)
	})
}
