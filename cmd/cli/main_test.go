package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-mirror/internal/domain"
	"github.com/dvloznov/ledger-mirror/internal/reconcile"
	"github.com/dvloznov/ledger-mirror/internal/store/redisstore"
)

const splitSection = `
[log]
level = "error"
format = "json"

[split]
party_a_user_id = 1
party_a_share = 0.6
party_b_user_id = 2
party_b_share = 0.4
group_id = 7
`

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(splitSection+extra), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	rec := domain.NewRecord(domain.Transaction{
		ID:     "tx-1",
		Amount: decimal.RequireFromString("12.00"),
	}, "E1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, redisstore.New(rdb, "").Put(context.Background(), rec))
	return mr
}

func TestInspect(t *testing.T) {
	seedRedis(t)
	cfgPath := writeConfig(t, "\n[store]\nbackend = \"redis\"\n")

	out, err := runCLI(t, "--config", cfgPath, "inspect", "tx-1")
	require.NoError(t, err)

	var rec domain.ReconciliationRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "tx-1", rec.TransactionID)
	assert.Equal(t, domain.ExpenseID("E1"), rec.MirrorExpenseID)

	_, err = runCLI(t, "--config", cfgPath, "inspect", "missing")
	assert.Error(t, err)
}

func TestForget(t *testing.T) {
	mr := seedRedis(t)
	cfgPath := writeConfig(t, "\n[store]\nbackend = \"redis\"\n")

	out, err := runCLI(t, "--config", cfgPath, "forget", "tx-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Forgot tx-1 (expense E1)")
	assert.False(t, mr.Exists(redisstore.DefaultKeyPrefix+"tx-1"))

	_, err = runCLI(t, "--config", cfgPath, "forget", "tx-1")
	assert.Error(t, err)
}

func TestReconcile_DryRun(t *testing.T) {
	var ledgerCalls int32
	plaid := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"transactions": [
				{"transaction_id":"tx-1","account_id":"acc-1","amount":20.0,"merchant_name":"TST* joe's diner","pending":false},
				{"transaction_id":"tx-2","account_id":"acc-1","amount":3.5,"name":"Coffee","pending":false}
			],
			"total_transactions": 2
		}`))
	}))
	defer plaid.Close()

	splitwise := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ledgerCalls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer splitwise.Close()

	cfgPath := writeConfig(t, "\n[plaid]\nbase_url = \""+plaid.URL+"\"\n\n[splitwise]\nbase_url = \""+splitwise.URL+"\"\n")

	out, err := runCLI(t, "--config", cfgPath, "reconcile", "--dry-run", "--start-date", "2024-03-01", "--end-date", "2024-03-15")
	require.NoError(t, err)

	var report reconcile.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.DryRun)
	assert.Equal(t, "2024-03-01..2024-03-15", report.Window)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.BelowThreshold)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ledgerCalls))
}

func TestReconcile_BadFlags(t *testing.T) {
	cfgPath := writeConfig(t, "")

	_, err := runCLI(t, "--config", cfgPath, "reconcile", "--start-date", "2024-03-01")
	assert.Error(t, err)

	_, err = runCLI(t, "--config", cfgPath, "reconcile", "--start-date", "2024-03-10", "--end-date", "2024-03-01")
	assert.Error(t, err)
}

func TestMigrate_RequiresBigQuery(t *testing.T) {
	cfgPath := writeConfig(t, "")

	_, err := runCLI(t, "--config", cfgPath, "migrate")
	assert.ErrorContains(t, err, "bigquery")
}

func TestMissingConfig(t *testing.T) {
	_, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "nope.toml"), "inspect", "tx-1")
	assert.Error(t, err)
}
