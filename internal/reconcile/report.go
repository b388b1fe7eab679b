package reconcile

import (
	"time"

	"github.com/dvloznov/ledger-mirror/internal/domain"
)

// Outcome is what happened to one transaction.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeCreated
	OutcomeSettled
	OutcomeDuplicate
	OutcomeBelowThreshold
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeSettled:
		return "settled"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeBelowThreshold:
		return "below_threshold"
	default:
		return "failed"
	}
}

// Result is the outcome of processing a single transaction.
type Result struct {
	TransactionID string
	Outcome       Outcome
	ExpenseID     domain.ExpenseID
	Err           error
}

// Failure describes one transaction that could not be processed.
type Failure struct {
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error"`
}

// Report summarises a batch.
type Report struct {
	Window         string    `json:"window,omitempty"`
	DryRun         bool      `json:"dry_run"`
	Fetched        int       `json:"fetched"`
	Created        int       `json:"created"`
	Settled        int       `json:"settled"`
	Duplicate      int       `json:"duplicate"`
	BelowThreshold int       `json:"below_threshold"`
	Failed         int       `json:"failed"`
	Failures       []Failure `json:"failures,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

func (r *Report) add(res Result) {
	switch res.Outcome {
	case OutcomeCreated:
		r.Created++
	case OutcomeSettled:
		r.Settled++
	case OutcomeDuplicate:
		r.Duplicate++
	case OutcomeBelowThreshold:
		r.BelowThreshold++
	default:
		r.Failed++
		msg := "unknown error"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		r.Failures = append(r.Failures, Failure{TransactionID: res.TransactionID, Error: msg})
	}
}
