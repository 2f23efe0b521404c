package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-scanner/internal/logger"
	"trading-scanner/internal/model"
)

func sampleRecords() []model.ResultRecord {
	return []model.ResultRecord{
		{InstrumentID: "AAPL", Recommendation: "buy", Score: model.Finite(1.25), Reasons: []string{"r"}},
		{InstrumentID: "MSFT", Recommendation: "hold", Score: nil},
	}
}

func TestKey_IsOrderIndependent(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	base := KeyParams{
		Analysis: "stock",
		IDs:      []string{"MSFT", "AAPL"},
		Start:    start,
		Column:   "close",
		Criteria: []byte(`{"column":"close","weights":{"rsi":1}}`),
		Include:  []string{"tech", "cloud"},
	}
	shuffled := base
	shuffled.IDs = []string{"AAPL", "MSFT"}
	shuffled.Include = []string{"cloud", "tech"}

	k := Key(base)
	assert.True(t, strings.HasPrefix(k, KeyPrefix))
	assert.Len(t, k, len(KeyPrefix)+64)
	assert.Equal(t, k, Key(shuffled))
	assert.Equal(t, []string{"MSFT", "AAPL"}, base.IDs, "inputs are not reordered in place")
}

func TestKey_ChangesWithEveryInput(t *testing.T) {
	base := KeyParams{Analysis: "fund", IDs: []string{"001"}, Column: "nav", Criteria: []byte(`{}`)}
	variants := map[string]func(p *KeyParams){
		"analysis":       func(p *KeyParams) { p.Analysis = "stock" },
		"ids":            func(p *KeyParams) { p.IDs = []string{"001", "002"} },
		"start":          func(p *KeyParams) { p.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
		"end":            func(p *KeyParams) { p.End = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
		"column":         func(p *KeyParams) { p.Column = "close" },
		"criteria":       func(p *KeyParams) { p.Criteria = []byte(`{"weights":{"rsi":2}}`) },
		"include":        func(p *KeyParams) { p.Include = []string{"bond"} },
		"exclude":        func(p *KeyParams) { p.Exclude = []string{"bond"} },
		"case_sensitive": func(p *KeyParams) { p.CaseSensitive = true },
	}
	seen := map[string]string{Key(base): "base"}
	for name, mutate := range variants {
		p := base
		mutate(&p)
		k := Key(p)
		if prev, dup := seen[k]; dup {
			t.Errorf("%s produced the same key as %s", name, prev)
		}
		seen[k] = name
	}
}

func TestResultCache_GetHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewWithClient(client, time.Hour, logger.Discard())

	data, err := json.Marshal(sampleRecords())
	require.NoError(t, err)
	mock.ExpectGet("scan:k").SetVal(string(data))

	got, ok, err := cache.Get(context.Background(), "scan:k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "AAPL", got[0].InstrumentID)
	assert.Equal(t, 1.25, *got[0].Score)
	assert.Nil(t, got[1].Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultCache_GetMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewWithClient(client, time.Hour, logger.Discard())
	mock.ExpectGet("scan:k").RedisNil()

	got, ok, err := cache.Get(context.Background(), "scan:k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, StateClosed, cache.breaker.CurrentState(), "a miss is not a failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultCache_CorruptEntryIsDropped(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewWithClient(client, time.Hour, logger.Discard())
	mock.ExpectGet("scan:k").SetVal("not json")
	mock.ExpectDel("scan:k").SetVal(1)

	_, ok, err := cache.Get(context.Background(), "scan:k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultCache_Set(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewWithClient(client, 2*time.Hour, logger.Discard())

	data, err := json.Marshal(sampleRecords())
	require.NoError(t, err)
	mock.ExpectSet("scan:k", data, 2*time.Hour).SetVal("OK")

	require.NoError(t, cache.Set(context.Background(), "scan:k", sampleRecords()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultCache_DefaultTTL(t *testing.T) {
	client, _ := redismock.NewClientMock()
	cache := NewWithClient(client, 0, logger.Discard())
	assert.Equal(t, 6*time.Hour, cache.ttl)
}

func TestResultCache_BreakerOpensOnErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewWithClient(client, time.Hour, logger.Discard())
	for i := 0; i < 3; i++ {
		mock.ExpectGet("scan:k").SetErr(errors.New("connection refused"))
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := cache.Get(ctx, "scan:k")
		require.Error(t, err)
	}
	_, _, err := cache.Get(ctx, "scan:k")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.NoError(t, mock.ExpectationsWereMet())
}
