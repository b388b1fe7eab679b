// Package config loads the service configuration from a TOML file and the
// environment. Secrets are only read from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-mirror/internal/domain"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreBigQuery = "bigquery"
	StoreGCS      = "gcs"
	StoreRedis    = "redis"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Defaults applied when the file leaves a value unset.
const (
	DefaultLookbackDays = 30
	DefaultMinAmount    = "10"
	DefaultConcurrency  = 4
	DefaultPort         = "8080"
	DefaultPlaidURL     = "https://development.plaid.com"
	DefaultSplitwiseURL = "https://secure.splitwise.com/api/v3.0"
	DefaultDataset      = "ledger_mirror"
)

// Config is the immutable service configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Split     SplitConfig     `toml:"split"`
	Plaid     PlaidConfig     `toml:"plaid"`
	Splitwise SplitwiseConfig `toml:"splitwise"`
	Store     StoreConfig     `toml:"store"`
	Lock      LockConfig      `toml:"lock"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ReconcileConfig struct {
	// MinAmount is decoded by minAmount; an explicit 0 is kept.
	MinAmount    decimal.Decimal `toml:"-"`
	LookbackDays int             `toml:"lookback_days"`
	Concurrency  int             `toml:"concurrency"`
}

type SplitConfig struct {
	PartyAUserID    int64            `toml:"party_a_user_id"`
	PartyAShare     float64          `toml:"party_a_share"`
	PartyBUserID    int64            `toml:"party_b_user_id"`
	PartyBShare     float64          `toml:"party_b_share"`
	GroupID         int64            `toml:"group_id"`
	UncategorizedID int64            `toml:"uncategorized_id"`
	Categories      map[string]int64 `toml:"categories"`
}

type PlaidConfig struct {
	BaseURL     string   `toml:"base_url"`
	ClientID    string   `toml:"-"`
	Secret      string   `toml:"-"`
	AccessToken string   `toml:"-"`
	AccountIDs  []string `toml:"account_ids"`
}

type SplitwiseConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"-"`
}

type StoreConfig struct {
	Backend   string `toml:"backend"`
	Project   string `toml:"project"`
	Dataset   string `toml:"dataset"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	RedisAddr string `toml:"redis_addr"`
}

type LockConfig struct {
	Backend   string `toml:"backend"`
	RedisAddr string `toml:"redis_addr"`
}

// Load reads the TOML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("Load: reading %s: %w", path, err)
	}
	return Parse(data, os.Getenv)
}

// Parse builds a Config from TOML bytes. getenv supplies the environment so
// tests can inject it.
func Parse(data []byte, getenv func(string) string) (Config, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return Config{}, fmt.Errorf("Parse: decoding toml: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("Parse: decoding toml: %w", err)
	}
	cfg.Reconcile.MinAmount, err = minAmount(tree)
	if err != nil {
		return Config{}, fmt.Errorf("Parse: %w", err)
	}

	cfg.applyEnv(getenv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Plaid.ClientID, "PLAID_CLIENT_ID")
	set(&c.Plaid.Secret, "PLAID_SECRET")
	set(&c.Plaid.AccessToken, "PLAID_ACCESS_TOKEN")
	set(&c.Splitwise.APIKey, "SPLITWISE_API_KEY")
	set(&c.Store.RedisAddr, "REDIS_ADDR")
	set(&c.Lock.RedisAddr, "REDIS_ADDR")
	set(&c.Store.Bucket, "GCS_BUCKET")
	set(&c.Store.Project, "BQ_PROJECT")
	set(&c.Server.Port, "PORT")

	if ids := strings.Fields(getenv("PLAID_ACCOUNT_IDS")); len(ids) > 0 {
		c.Plaid.AccountIDs = ids
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Reconcile.LookbackDays == 0 {
		c.Reconcile.LookbackDays = DefaultLookbackDays
	}
	if c.Reconcile.Concurrency == 0 {
		c.Reconcile.Concurrency = DefaultConcurrency
	}
	if c.Plaid.BaseURL == "" {
		c.Plaid.BaseURL = DefaultPlaidURL
	}
	if c.Splitwise.BaseURL == "" {
		c.Splitwise.BaseURL = DefaultSplitwiseURL
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreMemory
	}
	if c.Store.Dataset == "" {
		c.Store.Dataset = DefaultDataset
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = "records/"
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = LockLocal
	}
	if c.Split.UncategorizedID == 0 {
		c.Split.UncategorizedID = domain.DefaultUncategorizedID
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if err := c.SplitPolicy().Validate(); err != nil {
		return fmt.Errorf("Validate: %w", err)
	}
	if c.Reconcile.MinAmount.IsNegative() {
		return errors.New("Validate: reconcile.min_amount must not be negative")
	}
	if c.Reconcile.LookbackDays < 0 {
		return errors.New("Validate: reconcile.lookback_days must not be negative")
	}
	if c.Reconcile.Concurrency < 1 {
		return errors.New("Validate: reconcile.concurrency must be at least 1")
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreBigQuery:
		if c.Store.Project == "" {
			return errors.New("Validate: store.project (or BQ_PROJECT) is required for the bigquery store")
		}
	case StoreGCS:
		if c.Store.Bucket == "" {
			return errors.New("Validate: store.bucket (or GCS_BUCKET) is required for the gcs store")
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("Validate: store.redis_addr (or REDIS_ADDR) is required for the redis store")
		}
	default:
		return fmt.Errorf("Validate: unknown store backend %q", c.Store.Backend)
	}

	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return errors.New("Validate: lock.redis_addr (or REDIS_ADDR) is required for the redis lock")
		}
	default:
		return fmt.Errorf("Validate: unknown lock backend %q", c.Lock.Backend)
	}
	return nil
}

// SplitPolicy converts the split section into the domain policy.
func (c Config) SplitPolicy() domain.SplitPolicy {
	categories := make(map[string]int64, len(c.Split.Categories))
	for code, id := range c.Split.Categories {
		categories[code] = id
	}
	return domain.SplitPolicy{
		PartyA: domain.Party{
			UserID:   c.Split.PartyAUserID,
			Fraction: decimal.NewFromFloat(c.Split.PartyAShare),
		},
		PartyB: domain.Party{
			UserID:   c.Split.PartyBUserID,
			Fraction: decimal.NewFromFloat(c.Split.PartyBShare),
		},
		GroupID:         c.Split.GroupID,
		Categories:      categories,
		UncategorizedID: c.Split.UncategorizedID,
	}
}

// MinAmount returns the reconciliation threshold.
func (c Config) MinAmount() decimal.Decimal {
	return c.Reconcile.MinAmount
}

// minAmount reads reconcile.min_amount, which may be written as an integer,
// a float or a decimal string ("12.50"). An absent key yields the default.
func minAmount(tree *toml.Tree) (decimal.Decimal, error) {
	const key = "reconcile.min_amount"
	if !tree.Has(key) {
		return decimal.RequireFromString(DefaultMinAmount), nil
	}

	switch v := tree.Get(key).(type) {
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%s: unsupported value %v", key, v)
	}
}
