// Package feed retrieves transaction windows from the bank-data provider.
package feed

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/ledger-mirror/internal/domain"
)

// DefaultLookbackDays is the window length used when none is configured.
const DefaultLookbackDays = 30

// Fetcher returns the transactions the feed reports for a window, in feed
// order. Implementations do no filtering of their own and return provider
// failures as *domain.FeedFetchError.
type Fetcher interface {
	Fetch(ctx context.Context, window Window, accountIDs []string) ([]domain.Transaction, error)
}

// Window is an inclusive range of calendar dates.
type Window struct {
	Start civil.Date
	End   civil.Date
}

// DefaultWindow returns the window ending on now's date and starting
// lookbackDays earlier.
func DefaultWindow(now time.Time, lookbackDays int) Window {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	end := civil.DateOf(now)
	return Window{Start: end.AddDays(-lookbackDays), End: end}
}

// ParseWindow builds a window from two YYYY-MM-DD strings.
func ParseWindow(start, end string) (Window, error) {
	s, err := civil.ParseDate(start)
	if err != nil {
		return Window{}, err
	}
	e, err := civil.ParseDate(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

func (w Window) String() string {
	return w.Start.String() + ".." + w.End.String()
}
