// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr string
	Env      string
	LogLevel string

	DatabaseURL     string
	KafkaBrokers    []string
	KafkaAuditTopic string
	RedisAddr       string
	// SeedFile is a YAML file of allocations and balances loaded into the
	// in-memory stores. Ignored when DatabaseURL is set.
	SeedFile string

	DefaultCurrency          string
	ApprovalTier1Max         decimal.Decimal
	ApprovalTier2Max         decimal.Decimal
	RequireDistinctApprovers bool
	BulkConcurrency          int
	BulkClaimTimeout         time.Duration
	CommitMaxRetries         int

	ExecutorBreakerFailures uint32
	ExecutorBreakerTimeout  time.Duration
}

// Load reads a .env file from the working directory if present, then the
// process environment. Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, collecting every invalid value.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	p := parser{lookup: lookup}

	cfg := Config{
		HTTPAddr:                 p.str("HTTP_ADDR", ":8080"),
		Env:                      p.str("APP_ENV", "development"),
		LogLevel:                 p.str("LOG_LEVEL", "info"),
		DatabaseURL:              p.str("DATABASE_URL", ""),
		KafkaBrokers:             p.list("KAFKA_BROKERS"),
		KafkaAuditTopic:          p.str("KAFKA_AUDIT_TOPIC", "audit_trail"),
		RedisAddr:                p.str("REDIS_ADDR", ""),
		SeedFile:                 p.str("SEED_FILE", ""),
		DefaultCurrency:          p.str("DEFAULT_CURRENCY", "KES"),
		ApprovalTier1Max:         p.amount("APPROVAL_TIER1_MAX", "10000000"),
		ApprovalTier2Max:         p.amount("APPROVAL_TIER2_MAX", "100000000"),
		RequireDistinctApprovers: p.flag("REQUIRE_DISTINCT_APPROVERS", true),
		BulkConcurrency:          p.positiveInt("BULK_CONCURRENCY", 8),
		BulkClaimTimeout:         p.duration("BULK_CLAIM_TIMEOUT", 15*time.Minute),
		CommitMaxRetries:         p.positiveInt("COMMIT_MAX_RETRIES", 3),
		ExecutorBreakerFailures:  uint32(p.positiveInt("EXECUTOR_BREAKER_FAILURES", 5)),
		ExecutorBreakerTimeout:   p.duration("EXECUTOR_BREAKER_TIMEOUT", 30*time.Second),
	}

	if !cfg.ApprovalTier2Max.GreaterThan(cfg.ApprovalTier1Max) {
		p.errs = append(p.errs, fmt.Errorf("APPROVAL_TIER2_MAX (%s) must exceed APPROVAL_TIER1_MAX (%s)",
			cfg.ApprovalTier2Max, cfg.ApprovalTier1Max))
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) str(key, def string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return def
}

func (p *parser) list(key string) []string {
	v, ok := p.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *parser) flag(key string, def bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) positiveInt(key string, def int) int {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		p.errs = append(p.errs, fmt.Errorf("%s: want a positive integer, got %q", key, v))
		return def
	}
	return n
}

func (p *parser) amount(key, def string) decimal.Decimal {
	v, ok := p.raw(key)
	if !ok {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		p.errs = append(p.errs, fmt.Errorf("%s: want a positive amount, got %q", key, v))
		return decimal.RequireFromString(def)
	}
	return d
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: want a positive duration, got %q", key, v))
		return def
	}
	return d
}
