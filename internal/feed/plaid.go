package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/dvloznov/ledger-mirror/internal/domain"
	"github.com/dvloznov/ledger-mirror/internal/logger"
)

// pageSize is the largest page /transactions/get accepts.
const pageSize = 500

// PlaidCredentials authenticate requests against one linked item.
type PlaidCredentials struct {
	ClientID    string
	Secret      string
	AccessToken string
}

// PlaidClient implements Fetcher on top of Plaid's /transactions/get.
type PlaidClient struct {
	baseURL string
	creds   PlaidCredentials
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// PlaidOption customises a PlaidClient.
type PlaidOption func(*PlaidClient)

// WithPlaidHTTPClient replaces the default HTTP client.
func WithPlaidHTTPClient(c *http.Client) PlaidOption {
	return func(p *PlaidClient) { p.http = c }
}

// WithPlaidRateLimit caps outbound requests per second.
func WithPlaidRateLimit(perSecond float64) PlaidOption {
	return func(p *PlaidClient) { p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1) }
}

// NewPlaidClient creates a client for the Plaid environment at baseURL.
func NewPlaidClient(baseURL string, creds PlaidCredentials, opts ...PlaidOption) *PlaidClient {
	c := &PlaidClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "plaid",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

type transactionsGetRequest struct {
	ClientID    string                 `json:"client_id"`
	Secret      string                 `json:"secret"`
	AccessToken string                 `json:"access_token"`
	StartDate   string                 `json:"start_date"`
	EndDate     string                 `json:"end_date"`
	Options     transactionsGetOptions `json:"options"`
}

type transactionsGetOptions struct {
	AccountIDs []string `json:"account_ids,omitempty"`
	Count      int      `json:"count"`
	Offset     int      `json:"offset"`
}

type transactionsGetResponse struct {
	Transactions      []domain.Transaction `json:"transactions"`
	TotalTransactions int                  `json:"total_transactions"`
}

type plaidError struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Fetch pages through /transactions/get until every transaction in the
// window has been read.
func (c *PlaidClient) Fetch(ctx context.Context, window Window, accountIDs []string) ([]domain.Transaction, error) {
	log := logger.FromContext(ctx)

	var all []domain.Transaction
	for offset := 0; ; {
		page, err := c.fetchPage(ctx, window, accountIDs, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Transactions...)
		offset += len(page.Transactions)

		log.Debug().
			Int("fetched", offset).
			Int("total", page.TotalTransactions).
			Str("window", window.String()).
			Msg("Fetched transactions page")

		if len(page.Transactions) == 0 || offset >= page.TotalTransactions {
			break
		}
	}
	return all, nil
}

func (c *PlaidClient) fetchPage(ctx context.Context, window Window, accountIDs []string, offset int) (*transactionsGetResponse, error) {
	body, err := json.Marshal(transactionsGetRequest{
		ClientID:    c.creds.ClientID,
		Secret:      c.creds.Secret,
		AccessToken: c.creds.AccessToken,
		StartDate:   window.Start.String(),
		EndDate:     window.End.String(),
		Options: transactionsGetOptions{
			AccountIDs: accountIDs,
			Count:      pageSize,
			Offset:     offset,
		},
	})
	if err != nil {
		return nil, &domain.FeedFetchError{Err: fmt.Errorf("encoding request: %w", err)}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.FeedFetchError{Err: err}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, "/transactions/get", body)
	})
	if err != nil {
		var fetchErr *domain.FeedFetchError
		if errors.As(err, &fetchErr) {
			return nil, err
		}
		return nil, &domain.FeedFetchError{Err: err}
	}
	return result.(*transactionsGetResponse), nil
}

func (c *PlaidClient) post(ctx context.Context, path string, body []byte) (*transactionsGetResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.FeedFetchError{Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.FeedFetchError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FeedFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var pe plaidError
		if err := json.Unmarshal(raw, &pe); err != nil || pe.ErrorCode == "" {
			return nil, &domain.FeedFetchError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return nil, &domain.FeedFetchError{
			StatusCode: resp.StatusCode,
			Type:       pe.ErrorType,
			Code:       pe.ErrorCode,
			Message:    pe.ErrorMessage,
		}
	}

	var out transactionsGetResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.FeedFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &out, nil
}

var _ Fetcher = (*PlaidClient)(nil)
