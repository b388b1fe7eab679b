package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[log]
level = "debug"
format = "json"

[reconcile]
min_amount = 10.0
concurrency = 2

[split]
party_a_user_id = 1001
party_a_share = 0.6
party_b_user_id = 2002
party_b_share = 0.4
group_id = 42

[split.categories]
"13005000" = 13
"22009000" = 33

[plaid]
account_ids = ["acc-1", "acc-2"]

[store]
backend = "redis"
`

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), env(map[string]string{
		"PLAID_CLIENT_ID":   "client",
		"PLAID_SECRET":      "secret",
		"SPLITWISE_API_KEY": "sw-key",
		"REDIS_ADDR":        "localhost:6379",
	}))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Reconcile.Concurrency)
	assert.Equal(t, DefaultLookbackDays, cfg.Reconcile.LookbackDays)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, []string{"acc-1", "acc-2"}, cfg.Plaid.AccountIDs)
	assert.Equal(t, "client", cfg.Plaid.ClientID)
	assert.Equal(t, "sw-key", cfg.Splitwise.APIKey)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	assert.Equal(t, LockLocal, cfg.Lock.Backend)
	assert.True(t, cfg.MinAmount().Equal(decimal.NewFromInt(10)))

	policy := cfg.SplitPolicy()
	assert.Equal(t, int64(42), policy.GroupID)
	assert.Equal(t, int64(13), policy.CategoryFor("13005000"))
	assert.Equal(t, int64(18), policy.CategoryFor("unknown"))
	assert.True(t, policy.PartyA.Fraction.Equal(decimal.RequireFromString("0.6")))
}

func TestParse_EnvAccountIDsOverrideFile(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), env(map[string]string{
		"PLAID_ACCOUNT_IDS": "acc-9 acc-10",
		"REDIS_ADDR":        "localhost:6379",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"acc-9", "acc-10"}, cfg.Plaid.AccountIDs)
}

const splitSection = `
[split]
party_a_user_id = 1
party_a_share = 0.5
party_b_user_id = 2
party_b_share = 0.5
group_id = 1
`

func TestParse_MinAmount(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"absent uses default", splitSection, DefaultMinAmount},
		{"explicit zero float", "[reconcile]\nmin_amount = 0.0\n" + splitSection, "0"},
		{"explicit zero int", "[reconcile]\nmin_amount = 0\n" + splitSection, "0"},
		{"integer", "[reconcile]\nmin_amount = 25\n" + splitSection, "25"},
		{"float", "[reconcile]\nmin_amount = 12.5\n" + splitSection, "12.5"},
		{"decimal string", "[reconcile]\nmin_amount = \"0.10\"\n" + splitSection, "0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.toml), env(nil))
			require.NoError(t, err)

			want := decimal.RequireFromString(tt.want)
			assert.True(t, cfg.MinAmount().Equal(want), "min_amount = %s, want %s", cfg.MinAmount(), want)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"bad toml", "[split"},
		{"fractions", `
[split]
party_a_user_id = 1
party_a_share = 0.7
party_b_user_id = 2
party_b_share = 0.4
group_id = 1
`},
		{"redis store without address", `
[split]
party_a_user_id = 1
party_a_share = 0.5
party_b_user_id = 2
party_b_share = 0.5
group_id = 1
[store]
backend = "redis"
`},
		{"negative min amount", "[reconcile]\nmin_amount = -1.0\n" + splitSection},
		{"unparseable min amount", "[reconcile]\nmin_amount = \"ten\"\n" + splitSection},
		{"unknown lock", `
[split]
party_a_user_id = 1
party_a_share = 0.5
party_b_user_id = 2
party_b_share = 0.5
group_id = 1
[lock]
backend = "zookeeper"
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml), env(nil))
			assert.Error(t, err)
		})
	}
}
