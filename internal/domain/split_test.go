package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() SplitPolicy {
	return SplitPolicy{
		PartyA:  Party{UserID: 1001, Fraction: decimal.RequireFromString("0.6")},
		PartyB:  Party{UserID: 2002, Fraction: decimal.RequireFromString("0.4")},
		GroupID: 42,
		Categories: map[string]int64{
			"13005000": 13,
			"22009000": 33,
		},
	}
}

func TestBuildDraft_Shares(t *testing.T) {
	tx := Transaction{
		ID:           "tx-1",
		Amount:       decimal.RequireFromString("20.00"),
		MerchantName: "Corner Store",
		CategoryCode: "13005000",
	}

	draft := BuildDraft(tx, testPolicy())

	assert.True(t, draft.Cost.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, int64(42), draft.GroupID)
	assert.Equal(t, int64(13), draft.CategoryID)

	a, b := draft.Shares[0], draft.Shares[1]
	assert.Equal(t, int64(1001), a.UserID)
	assert.True(t, a.PaidShare.Equal(decimal.RequireFromString("20.00")), "A paid %s", a.PaidShare)
	assert.True(t, a.OwedShare.Equal(decimal.RequireFromString("12.00")), "A owed %s", a.OwedShare)
	assert.Equal(t, int64(2002), b.UserID)
	assert.True(t, b.PaidShare.IsZero(), "B paid %s", b.PaidShare)
	assert.True(t, b.OwedShare.Equal(decimal.RequireFromString("8.00")), "B owed %s", b.OwedShare)
}

func TestBuildDraft_SharesAlwaysSumToCost(t *testing.T) {
	policy := testPolicy()
	policy.PartyA.Fraction = decimal.RequireFromString("0.333")
	policy.PartyB.Fraction = decimal.RequireFromString("0.667")

	for _, amount := range []string{"10.01", "12.50", "99.99", "1234.57"} {
		t.Run(amount, func(t *testing.T) {
			tx := Transaction{ID: "tx", Amount: decimal.RequireFromString(amount), Name: "x"}
			draft := BuildDraft(tx, policy)
			sum := draft.Shares[0].OwedShare.Add(draft.Shares[1].OwedShare)
			assert.True(t, sum.Equal(draft.Cost), "owed shares %s != cost %s", sum, draft.Cost)
			assert.LessOrEqual(t, -draft.Shares[0].OwedShare.Exponent(), int32(2))
		})
	}
}

func TestBuildDraft_PartyBOwesRemainder(t *testing.T) {
	policy := testPolicy()
	policy.PartyA.Fraction = decimal.RequireFromString("0.5")
	policy.PartyB.Fraction = decimal.RequireFromString("0.5")

	tx := Transaction{ID: "tx", Amount: decimal.RequireFromString("10.01"), Name: "x"}
	draft := BuildDraft(tx, policy)

	// 10.01 × 0.5 = 5.005: A's share rounds up, B takes what is left.
	assert.True(t, draft.Shares[0].OwedShare.Equal(decimal.RequireFromString("5.01")), "A owed %s", draft.Shares[0].OwedShare)
	assert.True(t, draft.Shares[1].OwedShare.Equal(decimal.RequireFromString("5.00")), "B owed %s", draft.Shares[1].OwedShare)
}

func TestBuildDraft_PendingSuffix(t *testing.T) {
	tx := Transaction{
		ID:           "p-1",
		Amount:       decimal.RequireFromString("12.00"),
		MerchantName: "TST* Joe's Diner",
		Pending:      true,
	}

	draft := BuildDraft(tx, testPolicy())

	assert.Equal(t, "Joe's Diner (pending)", draft.Description)
}

func TestBuildDraft_PayeeFallback(t *testing.T) {
	tx := Transaction{ID: "tx", Amount: decimal.NewFromInt(15), Name: "AMAZON MKTPLACE"}

	assert.Equal(t, "Amazon Mktplace", BuildDraft(tx, testPolicy()).Description)
}

func TestCategoryFor(t *testing.T) {
	policy := testPolicy()

	tests := []struct {
		name string
		code string
		want int64
	}{
		{"mapped", "22009000", 33},
		{"unmapped", "19051000", DefaultUncategorizedID},
		{"empty", "", DefaultUncategorizedID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.CategoryFor(tt.code))
		})
	}

	policy.UncategorizedID = 99
	assert.Equal(t, int64(99), policy.CategoryFor("nope"))
}

func TestNormalizeMerchantName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"TST* joe's diner", "Joe's Diner"},
		{"TST*joe's diner", "Joe's Diner"},
		{"STARBUCKS STORE 123", "Starbucks Store 123"},
		{"  uber   eats  ", "Uber Eats"},
		{"7-eleven", "7-eleven"},
		{"éclair café", "Éclair Café"},
		{"", "Unknown Merchant"},
		{"TST* ", "Unknown Merchant"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMerchantName(tt.input))
		})
	}
}

func TestSplitPolicy_Validate(t *testing.T) {
	require.NoError(t, testPolicy().Validate())

	tests := []struct {
		name   string
		mutate func(p *SplitPolicy)
	}{
		{"missing party", func(p *SplitPolicy) { p.PartyB.UserID = 0 }},
		{"same party", func(p *SplitPolicy) { p.PartyB.UserID = p.PartyA.UserID }},
		{"fractions over one", func(p *SplitPolicy) { p.PartyB.Fraction = decimal.RequireFromString("0.5") }},
		{"negative fraction", func(p *SplitPolicy) {
			p.PartyA.Fraction = decimal.RequireFromString("1.2")
			p.PartyB.Fraction = decimal.RequireFromString("-0.2")
		}},
		{"no group", func(p *SplitPolicy) { p.GroupID = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestTransaction_SettlesPending(t *testing.T) {
	assert.True(t, Transaction{PendingTxnID: "p"}.SettlesPending())
	assert.False(t, Transaction{PendingTxnID: "p", Pending: true}.SettlesPending())
	assert.False(t, Transaction{}.SettlesPending())
}
