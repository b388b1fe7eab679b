package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/dvloznov/ledger-mirror/internal/domain"
	"github.com/dvloznov/ledger-mirror/internal/logger"
)

// SplitwiseClient implements MirrorClient against the Splitwise v3.0 API.
type SplitwiseClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// SplitwiseOption customises a SplitwiseClient.
type SplitwiseOption func(*SplitwiseClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) SplitwiseOption {
	return func(s *SplitwiseClient) { s.http = c }
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(perSecond float64) SplitwiseOption {
	return func(s *SplitwiseClient) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1) }
}

// NewSplitwiseClient creates a client authenticated with a personal API key.
func NewSplitwiseClient(baseURL, apiKey string, opts ...SplitwiseOption) *SplitwiseClient {
	c := &SplitwiseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 20 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "splitwise",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A missing expense is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			var notFound *domain.NotFoundError
			return err == nil || errors.As(err, &notFound)
		},
	})
	return c
}

type expenseResponse struct {
	Expenses []struct {
		ID json.Number `json:"id"`
	} `json:"expenses"`
	Errors json.RawMessage `json:"errors"`
}

// Create posts a new expense and returns its id.
func (c *SplitwiseClient) Create(ctx context.Context, draft domain.ExpenseDraft) (domain.ExpenseID, error) {
	resp, err := c.call(ctx, "create", "/create_expense", "", draft)
	if err != nil {
		return "", err
	}
	if len(resp.Expenses) == 0 || resp.Expenses[0].ID == "" {
		return "", &domain.RemoteLedgerError{Op: "create", StatusCode: http.StatusOK, Message: "response carried no expense"}
	}

	id := domain.ExpenseID(resp.Expenses[0].ID.String())
	log := logger.FromContext(ctx)
	log.Debug().
		Str("expense_id", string(id)).
		Str("description", draft.Description).
		Msg("Created ledger expense")
	return id, nil
}

// Update rewrites an existing expense with the draft's values.
func (c *SplitwiseClient) Update(ctx context.Context, id domain.ExpenseID, draft domain.ExpenseDraft) error {
	_, err := c.call(ctx, "update", "/update_expense/"+string(id), id, draft)
	return err
}

func (c *SplitwiseClient) call(ctx context.Context, op, path string, id domain.ExpenseID, draft domain.ExpenseDraft) (*expenseResponse, error) {
	body, err := json.Marshal(expensePayload(draft))
	if err != nil {
		return nil, &domain.RemoteLedgerError{Op: op, Err: fmt.Errorf("encoding draft: %w", err)}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.RemoteLedgerError{Op: op, Err: err}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, op, path, id, body)
	})
	if err != nil {
		var remote *domain.RemoteLedgerError
		var notFound *domain.NotFoundError
		if errors.As(err, &remote) || errors.As(err, &notFound) {
			return nil, err
		}
		return nil, &domain.RemoteLedgerError{Op: op, Err: err}
	}
	return result.(*expenseResponse), nil
}

func (c *SplitwiseClient) post(ctx context.Context, op, path string, id domain.ExpenseID, body []byte) (*expenseResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.RemoteLedgerError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.RemoteLedgerError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.RemoteLedgerError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound && id != "" {
		return nil, &domain.NotFoundError{ExpenseID: id}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.RemoteLedgerError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var out expenseResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.RemoteLedgerError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	// Splitwise reports validation failures with a 200 and a populated errors object.
	if msg := errorsMessage(out.Errors); msg != "" {
		if id != "" && strings.Contains(strings.ToLower(msg), "not found") {
			return nil, &domain.NotFoundError{ExpenseID: id}
		}
		return nil, &domain.RemoteLedgerError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return &out, nil
}

func errorsMessage(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	switch s {
	case "", "null", "{}", "[]":
		return ""
	}
	return s
}

// expensePayload flattens a draft into Splitwise's users__N__field form.
func expensePayload(d domain.ExpenseDraft) map[string]interface{} {
	p := map[string]interface{}{
		"cost":        d.Cost.StringFixed(2),
		"description": d.Description,
		"group_id":    d.GroupID,
		"category_id": d.CategoryID,
	}
	if d.Currency != "" {
		p["currency_code"] = d.Currency
	}
	for i, share := range d.Shares {
		prefix := "users__" + strconv.Itoa(i) + "__"
		p[prefix+"user_id"] = share.UserID
		p[prefix+"paid_share"] = share.PaidShare.StringFixed(2)
		p[prefix+"owed_share"] = share.OwedShare.StringFixed(2)
	}
	return p
}

var _ MirrorClient = (*SplitwiseClient)(nil)
