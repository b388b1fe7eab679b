package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// PointOfSalePrefix is the card-terminal token some merchants prepend to
	// their descriptor (Toast POS).
	PointOfSalePrefix = "TST*"

	// PendingSuffix marks a draft built from a still-pending transaction.
	PendingSuffix = " (pending)"

	// DefaultUncategorizedID is the ledger provider's "General" category.
	DefaultUncategorizedID int64 = 18

	// UnknownMerchant is used when the feed carries no payee at all.
	UnknownMerchant = "Unknown Merchant"
)

// Party is one side of the split.
type Party struct {
	UserID   int64
	Fraction decimal.Decimal // share of the cost this party owes
}

// SplitPolicy is the fixed allocation rule between the two parties.
// Party A always fronts the full cost.
type SplitPolicy struct {
	PartyA          Party
	PartyB          Party
	GroupID         int64
	Categories      map[string]int64 // feed category code -> ledger category id
	UncategorizedID int64
}

// Validate checks that the policy can produce consistent drafts.
func (p SplitPolicy) Validate() error {
	if p.PartyA.UserID == 0 || p.PartyB.UserID == 0 {
		return errors.New("split policy: both party user ids are required")
	}
	if p.PartyA.UserID == p.PartyB.UserID {
		return errors.New("split policy: parties must be different users")
	}
	if p.PartyA.Fraction.IsNegative() || p.PartyB.Fraction.IsNegative() {
		return errors.New("split policy: fractions must not be negative")
	}
	if sum := p.PartyA.Fraction.Add(p.PartyB.Fraction); !sum.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("split policy: fractions must sum to 1, got %s", sum)
	}
	if p.GroupID <= 0 {
		return errors.New("split policy: group id is required")
	}
	return nil
}

// CategoryFor maps a feed category code to a ledger category id. Codes that
// are empty or missing from the table map to the uncategorized sentinel.
func (p SplitPolicy) CategoryFor(code string) int64 {
	if id, ok := p.Categories[code]; ok && code != "" {
		return id
	}
	if p.UncategorizedID != 0 {
		return p.UncategorizedID
	}
	return DefaultUncategorizedID
}

// Share is one party's line on an expense.
type Share struct {
	UserID    int64
	PaidShare decimal.Decimal
	OwedShare decimal.Decimal
}

// ExpenseDraft is the payload sent to the ledger provider. It is derived,
// never persisted.
type ExpenseDraft struct {
	Cost        decimal.Decimal
	Description string
	GroupID     int64
	CategoryID  int64
	Currency    string
	Shares      [2]Share // [0] is party A, [1] is party B
}

// BuildDraft derives the expense draft for tx under policy p.
// Party A's owed share is rounded to cents and party B owes the remainder,
// so the shares always add up to the cost. Party B's share is therefore not
// amount × PartyB.Fraction when that product needs rounding: the ledger
// rejects expenses whose owed shares do not sum to the cost.
func BuildDraft(tx Transaction, p SplitPolicy) ExpenseDraft {
	cost := tx.Amount
	owedA := cost.Mul(p.PartyA.Fraction).Round(2)
	owedB := cost.Sub(owedA)

	description := NormalizeMerchantName(tx.PayeeName())
	if tx.Pending {
		description += PendingSuffix
	}

	return ExpenseDraft{
		Cost:        cost,
		Description: description,
		GroupID:     p.GroupID,
		CategoryID:  p.CategoryFor(tx.CategoryCode),
		Currency:    tx.CurrencyCode,
		Shares: [2]Share{
			{UserID: p.PartyA.UserID, PaidShare: cost, OwedShare: owedA},
			{UserID: p.PartyB.UserID, PaidShare: decimal.Zero, OwedShare: owedB},
		},
	}
}

// NormalizeMerchantName turns a raw card descriptor into a display name:
// the point-of-sale prefix is dropped and each whitespace-delimited word is
// capitalised, e.g. "TST* joe's diner" -> "Joe's Diner".
func NormalizeMerchantName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.TrimSpace(strings.TrimPrefix(name, PointOfSalePrefix))

	words := strings.Fields(name)
	if len(words) == 0 {
		return UnknownMerchant
	}
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(word string) string {
	first, size := utf8.DecodeRuneInString(word)
	return string(unicode.ToUpper(first)) + strings.ToLower(word[size:])
}
