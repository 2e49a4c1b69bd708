package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestDedupeKey(t *testing.T) {
	require.Equal(t, "evt-1:pay-9:OLIE-1", DedupeKey("evt-1", "pay-9", "OLIE-1"))
	require.Equal(t, "::OLIE-1", DedupeKey("", "", "OLIE-1"))
	require.NotEqual(t, DedupeKey("a", "", "b"), DedupeKey("", "a", "b"))
}

// ledgerContract runs the behaviour every Ledger must share.
func ledgerContract(t *testing.T, l Ledger, clk *clock) {
	t.Helper()
	ctx := context.Background()

	seen, err := l.AlreadyProcessed(ctx, "k1")
	require.NoError(t, err)
	require.False(t, seen)

	fresh, err := l.MarkProcessed(ctx, "k1")
	require.NoError(t, err)
	require.True(t, fresh)

	fresh, err = l.MarkProcessed(ctx, "k1")
	require.NoError(t, err)
	require.False(t, fresh, "second claim of the same key must be ignored")

	seen, err = l.AlreadyProcessed(ctx, "k1")
	require.NoError(t, err)
	require.True(t, seen)

	require.NoError(t, l.Forget(ctx, "k1"))
	seen, err = l.AlreadyProcessed(ctx, "k1")
	require.NoError(t, err)
	require.False(t, seen)

	if clk == nil {
		return
	}
	_, err = l.MarkProcessed(ctx, "k2")
	require.NoError(t, err)
	clk.Advance(DefaultTTL + time.Second)
	seen, err = l.AlreadyProcessed(ctx, "k2")
	require.NoError(t, err)
	require.False(t, seen, "entries expire after the TTL")
	fresh, err = l.MarkProcessed(ctx, "k2")
	require.NoError(t, err)
	require.True(t, fresh, "an expired key can be claimed again")
}

func TestMemoryLedger(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	ledgerContract(t, NewMemoryLedger(DefaultTTL).WithClock(clk.Now), clk)
}

func TestMemoryLedger_Sweep(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLedger(time.Minute).WithClock(clk.Now)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		_, _ = l.MarkProcessed(ctx, k)
	}
	clk.Advance(30 * time.Second)
	_, _ = l.MarkProcessed(ctx, "d")
	clk.Advance(45 * time.Second)

	require.Equal(t, 3, l.Sweep())
	require.Equal(t, 1, l.Len())
}

func TestMemoryLedger_ConcurrentClaims(t *testing.T) {
	l := NewMemoryLedger(DefaultTTL)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := l.MarkProcessed(context.Background(), "same")
			if err == nil && fresh {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestEventLedger(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewEventLedger(newFake(), "processed_events", DefaultTTL).WithClock(clk.Now)
	ledgerContract(t, l, clk)
}

func TestEventLedger_ClaimItemIsConditional(t *testing.T) {
	fake := newFake()
	l := NewEventLedger(fake, "processed_events", DefaultTTL)
	ctx := context.Background()

	_, err := fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{l.ClaimItem("k")}})
	require.NoError(t, err)
	_, err = fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{l.ClaimItem("k")}})
	var tce *types.TransactionCanceledException
	require.ErrorAs(t, err, &tce)

	seen, err := l.AlreadyProcessed(ctx, "k")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestEventLedger_StoreError(t *testing.T) {
	fake := newFake()
	fake.FailOn("PutItem", "processed_events", errors.New("throttled"))
	l := NewEventLedger(fake, "processed_events", DefaultTTL)
	_, err := l.MarkProcessed(context.Background(), "k")
	require.Error(t, err)
}

// fakeRedis implements RedisClient over a map with expiry driven by clock.
type fakeRedis struct {
	clk  *clock
	keys map[string]time.Time
	err  error
}

func (f *fakeRedis) live(k string) bool {
	exp, ok := f.keys[k]
	return ok && f.clk.Now().Before(exp)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if f.live(key) {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = f.clk.Now().Add(expiration)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if f.live(k) {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisLedger(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rdb := &fakeRedis{clk: clk, keys: map[string]time.Time{}}
	l := NewRedisLedger(rdb, DefaultTTL)
	ledgerContract(t, l, clk)

	_, _ = l.MarkProcessed(context.Background(), "prefixed")
	require.Contains(t, rdb.keys, "olie:webhook:prefixed")
}

func TestRedisLedger_Error(t *testing.T) {
	rdb := &fakeRedis{clk: &clock{now: time.Now()}, keys: map[string]time.Time{}, err: errors.New("conn refused")}
	l := NewRedisLedger(rdb, DefaultTTL)
	_, err := l.MarkProcessed(context.Background(), "k")
	require.Error(t, err)
	_, err = l.AlreadyProcessed(context.Background(), "k")
	require.Error(t, err)
}
