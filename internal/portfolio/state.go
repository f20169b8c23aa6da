// Package portfolio derives the dashboard's portfolio state from the activity
// ledger, pending proposals and a live status probe, and triggers the initial
// allocation once an account becomes tradeable.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/account-stream/internal/allocation"
	"github.com/Rajchodisetti/account-stream/internal/broker"
	"github.com/Rajchodisetti/account-stream/internal/ledger"
	"github.com/Rajchodisetti/account-stream/internal/proposal"
)

// DefaultTotalInvestment is used when no activity or earlier state names an amount
var DefaultTotalInvestment = decimal.NewFromInt(10000)

// State is the derived portfolio view. Every reconciliation pass builds a
// new value; nothing mutates a State after Merge returns it.
type State struct {
	Status            broker.AccountStatus `json:"status"`
	AccountID         string               `json:"account_id"`
	TotalInvestment   decimal.Decimal      `json:"total_investment"`
	Weights           allocation.Weights   `json:"weights"`
	HasExecutedTrades bool                 `json:"has_executed_trades"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// ShouldExecute reports whether the initial allocation is due
func (s State) ShouldExecute() bool {
	return s.Status == broker.StatusActive && !s.HasExecutedTrades && s.AccountID != "" && len(s.Weights) > 0
}

// Inputs are the reads gathered for one pass. Activities are newest first;
// Probe is nil when the probe was skipped or failed.
type Inputs struct {
	Activities []ledger.Activity
	Proposals  []proposal.Proposal
	Probe      *broker.Account
}

// Merge combines one pass's inputs with the previous state. For each field the
// first source that has a value wins:
//
//	status          probe, newest activity status, previous, SUBMITTED
//	accountId       probe, newest activity account, previous, first proposal account
//	weights         newest activity weights, previous, first proposal plan
//	totalInvestment newest activity amount, previous, DefaultTotalInvestment
//
// HasExecutedTrades never goes back to false once set.
func Merge(in Inputs, prev *State) State {
	var p State
	if prev != nil {
		p = *prev
	}
	next := State{
		Status:            broker.StatusSubmitted,
		TotalInvestment:   DefaultTotalInvestment,
		HasExecutedTrades: p.HasExecutedTrades,
		UpdatedAt:         time.Now().UTC(),
	}

	switch {
	case in.Probe != nil && in.Probe.Status != "":
		next.Status = broker.NormalizeStatus(string(in.Probe.Status))
	case latestStatus(in.Activities) != "":
		next.Status = broker.NormalizeStatus(latestStatus(in.Activities))
	case p.Status != "":
		next.Status = p.Status
	}

	switch {
	case in.Probe != nil && in.Probe.ID != "":
		next.AccountID = in.Probe.ID
	case latestAccount(in.Activities) != "":
		next.AccountID = latestAccount(in.Activities)
	case p.AccountID != "":
		next.AccountID = p.AccountID
	default:
		for _, pr := range in.Proposals {
			if pr.AlpacaAccountID != "" {
				next.AccountID = pr.AlpacaAccountID
				break
			}
		}
	}

	if ws := latestWeights(in.Activities); len(ws) > 0 {
		next.Weights = ws
	} else if len(p.Weights) > 0 {
		next.Weights = p.Weights
	} else {
		for _, pr := range in.Proposals {
			if ws := pr.Weights(); len(ws) > 0 {
				next.Weights = ws
				break
			}
		}
	}
	next.Weights = append(allocation.Weights(nil), next.Weights...)

	if amount, ok := latestAmount(in.Activities); ok {
		next.TotalInvestment = amount
	} else if !p.TotalInvestment.IsZero() {
		next.TotalInvestment = p.TotalInvestment
	}

	for _, a := range in.Activities {
		if a.IsExecution() {
			next.HasExecutedTrades = true
			break
		}
	}
	return next
}

func latestStatus(as []ledger.Activity) string {
	for _, a := range as {
		if s := a.Meta.Status(); s != "" {
			return s
		}
	}
	return ""
}

func latestAccount(as []ledger.Activity) string {
	for _, a := range as {
		if id := a.Meta.AccountID(); id != "" {
			return id
		}
	}
	return ""
}

func latestWeights(as []ledger.Activity) allocation.Weights {
	for _, a := range as {
		if ws := a.Meta.Weights(); len(ws) > 0 {
			return ws
		}
	}
	return nil
}

func latestAmount(as []ledger.Activity) (decimal.Decimal, bool) {
	for _, a := range as {
		if v, ok := a.Meta.TotalInvestment(); ok {
			return v, true
		}
	}
	return decimal.Zero, false
}
