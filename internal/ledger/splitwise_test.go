package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-mirror/internal/domain"
)

func sampleDraft() domain.ExpenseDraft {
	return domain.ExpenseDraft{
		Cost:        decimal.RequireFromString("20"),
		Description: "Joe's Diner",
		GroupID:     42,
		CategoryID:  13,
		Shares: [2]domain.Share{
			{UserID: 1, PaidShare: decimal.RequireFromString("20"), OwedShare: decimal.RequireFromString("12")},
			{UserID: 2, PaidShare: decimal.Zero, OwedShare: decimal.RequireFromString("8")},
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *SplitwiseClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSplitwiseClient(srv.URL, "sw-key", WithRateLimit(1000))
}

func TestSplitwiseClient_Create(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/create_expense", r.URL.Path)
		assert.Equal(t, "Bearer sw-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"expenses":[{"id":987654}],"errors":{}}`))
	})

	id, err := client.Create(context.Background(), sampleDraft())
	require.NoError(t, err)

	assert.Equal(t, domain.ExpenseID("987654"), id)
	assert.Equal(t, "20.00", got["cost"])
	assert.Equal(t, "Joe's Diner", got["description"])
	assert.EqualValues(t, 42, got["group_id"])
	assert.EqualValues(t, 13, got["category_id"])
	assert.EqualValues(t, 1, got["users__0__user_id"])
	assert.Equal(t, "20.00", got["users__0__paid_share"])
	assert.Equal(t, "12.00", got["users__0__owed_share"])
	assert.EqualValues(t, 2, got["users__1__user_id"])
	assert.Equal(t, "0.00", got["users__1__paid_share"])
	assert.Equal(t, "8.00", got["users__1__owed_share"])
	assert.NotContains(t, got, "currency_code")
}

func TestSplitwiseClient_CreateValidationError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"expenses":[],"errors":{"base":["The total of everyone's owed shares does not equal the total cost."]}}`))
	})

	_, err := client.Create(context.Background(), sampleDraft())

	var remote *domain.RemoteLedgerError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, "create", remote.Op)
	assert.Contains(t, remote.Message, "owed shares")
}

func TestSplitwiseClient_CreateServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.Create(context.Background(), sampleDraft())

	var remote *domain.RemoteLedgerError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusBadGateway, remote.StatusCode)
}

func TestSplitwiseClient_Update(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/update_expense/E1", r.URL.Path)
		_, _ = w.Write([]byte(`{"expenses":[{"id":1}],"errors":[]}`))
	})

	assert.NoError(t, client.Update(context.Background(), "E1", sampleDraft()))
}

func TestSplitwiseClient_UpdateNotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"404", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"errors":{"base":["Invalid API Request: record not found"]}}`, http.StatusNotFound)
		}},
		{"200 with error body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"expenses":[],"errors":{"base":["Invalid API Request: record not found"]}}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)

			err := client.Update(context.Background(), "E404", sampleDraft())

			var notFound *domain.NotFoundError
			require.True(t, errors.As(err, &notFound), "got %v", err)
			assert.Equal(t, domain.ExpenseID("E404"), notFound.ExpenseID)
		})
	}
}

func TestSplitwiseClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 10; i++ {
		err := client.Update(context.Background(), "E404", sampleDraft())
		var notFound *domain.NotFoundError
		require.True(t, errors.As(err, &notFound), "attempt %d: %v", i, err)
	}
}
