package storage_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopstate/internal/storage"
	"shopstate/internal/storage/memory"
	apperrors "shopstate/pkg/errors"
)

// flakyBackend fails Get and Set with err while err is set, and counts the
// calls that actually reach it.
type flakyBackend struct {
	inner *memory.Backend
	err   error
	calls atomic.Int64
}

func newFlakyBackend() *flakyBackend {
	return &flakyBackend{inner: memory.New()}
}

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, data []byte, origin string) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	return f.inner.Set(ctx, key, data, origin)
}

func (f *flakyBackend) Watch(ctx context.Context, key string) (<-chan storage.Notification, error) {
	return f.inner.Watch(ctx, key)
}

func (f *flakyBackend) Close() error {
	return f.inner.Close()
}

func testBreakerConfig(name string) storage.BreakerConfig {
	return storage.BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      1 * time.Second, // Short for tests.
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

func TestBreakerBackend_ClosedState_PassesThrough(t *testing.T) {
	backend := newFlakyBackend()
	cb := storage.NewBreakerBackend(backend, testBreakerConfig("test-closed"), newTestLogger())
	ctx := context.Background()

	require.NoError(t, cb.Set(ctx, "cart", []byte(`[]`), "node-a"))

	data, err := cb.Get(ctx, "cart")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBreakerBackend_MissingKeyDoesNotTrip(t *testing.T) {
	backend := newFlakyBackend()
	cb := storage.NewBreakerBackend(backend, testBreakerConfig("test-notfound"), newTestLogger())
	ctx := context.Background()

	// Well past MinRequests; an empty store must never open the circuit.
	for i := 0; i < 10; i++ {
		_, err := cb.Get(ctx, "cart")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBreakerBackend_TripsAfterFailures(t *testing.T) {
	backend := newFlakyBackend()
	backend.err = errors.New("connection refused")
	cb := storage.NewBreakerBackend(backend, testBreakerConfig("test-trip"), newTestLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cb.Get(ctx, "cart")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	// Open circuit: the backend is no longer called and callers see the
	// unavailable sentinel.
	before := backend.calls.Load()
	_, err := cb.Get(ctx, "cart")
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.ErrorIs(t, cb.Set(ctx, "cart", []byte(`[]`), "node-a"), apperrors.ErrServiceUnavail)
	assert.Equal(t, before, backend.calls.Load())
}

func TestBreakerBackend_SetFailuresShareTheBreaker(t *testing.T) {
	backend := newFlakyBackend()
	backend.err = errors.New("broken pipe")
	cb := storage.NewBreakerBackend(backend, testBreakerConfig("test-set-trip"), newTestLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Set(ctx, "cart", []byte(`[]`), "node-a"))
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	// Reads trip with the writes.
	_, err := cb.Get(ctx, "cart")
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}

func TestBreakerBackend_RecoversAfterTimeout(t *testing.T) {
	backend := newFlakyBackend()
	backend.err = errors.New("connection refused")
	cb := storage.NewBreakerBackend(backend, testBreakerConfig("test-recover"), newTestLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Set(ctx, "cart", []byte(`[]`), "node-a"))
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	backend.err = nil
	time.Sleep(1100 * time.Millisecond)

	// Half-open probe succeeds and the circuit closes again.
	require.NoError(t, cb.Set(ctx, "cart", []byte(`[]`), "node-a"))
	data, err := cb.Get(ctx, "cart")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBreakerBackend_WatchBypassesBreaker(t *testing.T) {
	backend := newFlakyBackend()
	backend.err = errors.New("connection refused")
	cb := storage.NewBreakerBackend(backend, testBreakerConfig("test-watch"), newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Set(ctx, "cart", []byte(`[]`), "node-a"))
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	// The notification subscription is long-lived and stays usable even
	// while request traffic is shed.
	ch, err := cb.Watch(ctx, "cart")
	require.NoError(t, err)
	require.NotNil(t, ch)
}
