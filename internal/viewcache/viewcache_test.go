package viewcache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipsentry/internal/eventlog"
	"ipsentry/internal/kvcache"
)

type testEnv struct {
	cache *Cache
	wm    *eventlog.WatermarkStore
	now   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Unix(1700000000, 0)}
	env.wm = eventlog.NewWatermarkStore(kvcache.New[string, eventlog.Watermark]())
	env.cache = New(env.wm)
	env.cache.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func countingProducer(payload string, calls *int) Producer {
	return func() ([]byte, error) {
		*calls++
		return []byte(payload), nil
	}
}

func TestCache_GetOrCompute_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	calls := 0

	p1, err := env.cache.GetOrCompute("k", countingProducer("v1", &calls), time.Minute, time.Hour)
	require.NoError(t, err)
	p2, err := env.cache.GetOrCompute("k", countingProducer("v1", &calls), time.Minute, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, calls, "producer must run once for back-to-back reads")
}

func TestCache_GetOrCompute_WatermarkAndLag(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	producer := countingProducer("widget", &calls)

	// t=0: producer runs, payload stored under watermark W0
	_, err := env.cache.GetOrCompute("widget", producer, 60*time.Second, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// t=10: log mutated, watermark advances to W1
	env.advance(10 * time.Second)
	env.wm.Advance("10.0.0.1", 1.0, "s1")

	// t=30: watermark is behind but age 30 < allowed lag 60, reuse
	env.advance(20 * time.Second)
	_, err = env.cache.GetOrCompute("widget", producer, 60*time.Second, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// t=65: age 65 > 60 and watermark advanced, recompute
	env.advance(35 * time.Second)
	_, err = env.cache.GetOrCompute("widget", producer, 60*time.Second, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_GetOrCompute_NoRecomputeWithoutWatermarkAdvance(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	producer := countingProducer("v", &calls)

	_, err := env.cache.GetOrCompute("k", producer, 60*time.Second, time.Hour)
	require.NoError(t, err)

	// Aged past the allowed lag, but the log never changed
	env.advance(10 * time.Minute)
	_, err = env.cache.GetOrCompute("k", producer, 60*time.Second, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCache_GetOrCompute_HardCeiling(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	producer := countingProducer("v", &calls)

	_, err := env.cache.GetOrCompute("k", producer, 60*time.Second, 5*time.Minute)
	require.NoError(t, err)

	// No watermark movement, but past the hard ceiling
	env.advance(6 * time.Minute)
	_, err = env.cache.GetOrCompute("k", producer, 60*time.Second, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_Purge(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	producer := countingProducer("v", &calls)

	_, err := env.cache.GetOrCompute("k", producer, time.Minute, time.Hour)
	require.NoError(t, err)

	env.cache.Purge("k")
	_, err = env.cache.GetOrCompute("k", producer, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_PurgeAll(t *testing.T) {
	env := newTestEnv(t)
	calls := 0

	_, _ = env.cache.GetOrCompute("a", countingProducer("a", &calls), time.Minute, time.Hour)
	_, _ = env.cache.GetOrCompute("b", countingProducer("b", &calls), time.Minute, time.Hour)
	require.Equal(t, 2, env.cache.Len())

	env.cache.Purge("")
	assert.Zero(t, env.cache.Len())
}

func TestCache_Sweep_PreWarms(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	producer := countingProducer("v", &calls)

	_, err := env.cache.GetOrCompute("k", producer, 60*time.Second, time.Hour)
	require.NoError(t, err)

	// Log mutated; entry will pass the 60s lag threshold within 30s
	env.wm.Advance("10.0.0.1", 1.0, "s1")
	env.advance(40 * time.Second)
	env.cache.Sweep()
	assert.Equal(t, 2, calls, "sweep must recompute entries going stale soon")

	// The pre-warmed entry now serves reads without recompute
	env.advance(10 * time.Second)
	_, err = env.cache.GetOrCompute("k", producer, 60*time.Second, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_Sweep_LeavesFreshEntries(t *testing.T) {
	env := newTestEnv(t)
	calls := 0

	_, err := env.cache.GetOrCompute("k", countingProducer("v", &calls), 60*time.Second, time.Hour)
	require.NoError(t, err)

	// Watermark advanced but entry stays within lag even at the horizon
	env.wm.Advance("10.0.0.1", 1.0, "s1")
	env.advance(10 * time.Second)
	env.cache.Sweep()
	assert.Equal(t, 1, calls)
}

func TestCache_ProducerError_FallsBackToStalePayload(t *testing.T) {
	env := newTestEnv(t)
	calls := 0

	payload, err := env.cache.GetOrCompute("k", countingProducer("good", &calls), 60*time.Second, time.Hour)
	require.NoError(t, err)
	require.Equal(t, []byte("good"), payload)

	env.wm.Advance("10.0.0.1", 1.0, "s1")
	env.advance(2 * time.Minute)

	failing := Producer(func() ([]byte, error) { return nil, errors.New("db down") })
	payload, err = env.cache.GetOrCompute("k", failing, 60*time.Second, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []byte("good"), payload, "stale payload beats an error on recompute")
}

func TestCache_ProducerError_NoEntry(t *testing.T) {
	env := newTestEnv(t)
	failing := Producer(func() ([]byte, error) { return nil, errors.New("db down") })

	_, err := env.cache.GetOrCompute("k", failing, time.Minute, time.Hour)
	assert.Error(t, err)
	assert.Zero(t, env.cache.Len())
}
