package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-scanner/internal/model"
)

// KeyPrefix namespaces scan result keys.
const KeyPrefix = "scan:"

const defaultTTL = 6 * time.Hour

// Config configures the result cache.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // 0 means 6h
}

// KeyParams are the inputs that identify one scan request.
type KeyParams struct {
	Analysis      string
	IDs           []string
	Start, End    time.Time
	Column        string
	Criteria      []byte // canonical criteria JSON
	Include       []string
	Exclude       []string
	CaseSensitive bool
}

// Key derives the cache key for p. Ids and keywords are sorted so the key
// does not depend on input order.
func Key(p KeyParams) string {
	criteria := json.RawMessage("null")
	if len(p.Criteria) > 0 {
		criteria = json.RawMessage(p.Criteria)
	}
	payload := struct {
		Analysis      string          `json:"analysis"`
		IDs           []string        `json:"ids"`
		Start         string          `json:"start"`
		End           string          `json:"end"`
		Column        string          `json:"column"`
		Criteria      json.RawMessage `json:"criteria"`
		Include       []string        `json:"include"`
		Exclude       []string        `json:"exclude"`
		CaseSensitive bool            `json:"case_sensitive"`
	}{
		Analysis:      p.Analysis,
		IDs:           sortedCopy(p.IDs),
		Start:         dateKey(p.Start),
		End:           dateKey(p.End),
		Column:        p.Column,
		Criteria:      criteria,
		Include:       sortedCopy(p.Include),
		Exclude:       sortedCopy(p.Exclude),
		CaseSensitive: p.CaseSensitive,
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return KeyPrefix + hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func dateKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(model.DateLayout)
}

// ResultCache stores ranked result records in Redis with a TTL.
type ResultCache struct {
	client  *goredis.Client
	ttl     time.Duration
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New connects to Redis and pings the server.
func New(cfg Config, logger *slog.Logger) (*ResultCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	c := NewWithClient(client, cfg.TTL, logger)
	c.logger.Info("redis connected", slog.String("addr", cfg.Addr), slog.Duration("ttl", c.ttl))
	return c, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, ttl time.Duration, logger *slog.Logger) *ResultCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &ResultCache{
		client:  client,
		ttl:     ttl,
		breaker: NewCircuitBreaker(3, 30*time.Second),
		logger:  logger,
	}
	c.breaker.OnStateChange = func(from, to State) {
		logger.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
	}
	return c
}

// Client returns the underlying Redis client for health checks.
func (c *ResultCache) Client() *goredis.Client { return c.client }

// Get returns the cached records for key. A corrupt entry is deleted and
// reported as a miss.
func (c *ResultCache) Get(ctx context.Context, key string) ([]model.ResultRecord, bool, error) {
	var data []byte
	err := c.breaker.Do(func() error {
		b, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		data = b
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if data == nil {
		return nil, false, nil
	}

	var records []model.ResultRecord
	if err := json.Unmarshal(data, &records); err != nil {
		c.logger.Warn("dropping corrupt cache entry", slog.String("key", key), slog.Any("error", err))
		_ = c.client.Del(ctx, key).Err()
		return nil, false, nil
	}
	return records, true, nil
}

// Set stores records under key with the cache TTL.
func (c *ResultCache) Set(ctx context.Context, key string, records []model.ResultRecord) error {
	if records == nil {
		records = []model.ResultRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	err = c.breaker.Do(func() error {
		return c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close closes the client.
func (c *ResultCache) Close() error {
	return c.client.Close()
}
