package sessioncache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/infer/internal/apierrors"
	"github.com/oriys/infer/internal/domain"
	"github.com/oriys/infer/internal/runtime"
)

type fakeSession struct {
	closed int32
}

func (f *fakeSession) Signature() domain.Signature { return domain.Signature{} }

func (f *fakeSession) Run(in domain.Tensor) (domain.Tensor, error) { return in, nil }

func (f *fakeSession) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func newID(t *testing.T) domain.BlobID {
	t.Helper()
	return domain.NewBlobID(uuid.New())
}

func TestCache_SingleFlight(t *testing.T) {
	id := newID(t)
	var loads int32
	release := make(chan struct{})

	loader := func(ctx context.Context, got domain.BlobID) (runtime.Session, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return &fakeSession{}, nil
	}

	c := New(0, -1, loader, nil)

	var wg sync.WaitGroup
	const callers = 8
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), id); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}

	// Give every goroutine a chance to reach the blocked loader before
	// releasing it, otherwise the race for who enters first is undetermined.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Fatalf("expected exactly one load for concurrent callers, got %d", got)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	id := newID(t)
	var loads int32
	loader := func(ctx context.Context, got domain.BlobID) (runtime.Session, error) {
		atomic.AddInt32(&loads, 1)
		return &fakeSession{}, nil
	}

	c := New(10*time.Millisecond, -1, loader, nil)

	if _, err := c.Get(context.Background(), id); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := c.Get(context.Background(), id); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Fatalf("expected one load before expiry, got %d", got)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := c.Get(context.Background(), id); err != nil {
		t.Fatalf("Get after expiry failed: %v", err)
	}
	if got := atomic.LoadInt32(&loads); got != 2 {
		t.Fatalf("expected a reload after TTL expiry, got %d loads", got)
	}
}

func TestCache_LRUEviction(t *testing.T) {
	loader := func(ctx context.Context, id domain.BlobID) (runtime.Session, error) {
		return &fakeSession{}, nil
	}
	c := New(0, 2, loader, nil)

	a, b, d := newID(t), newID(t), newID(t)

	if _, err := c.Get(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	// Touch a so it is more recently used than b.
	if _, err := c.Get(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	if c.Len() != 2 {
		t.Fatalf("expected capacity-bound len of 2, got %d", c.Len())
	}
	if _, ok := c.freshLookup(b); ok {
		t.Fatal("expected least-recently-used entry b to have been evicted")
	}
	if _, ok := c.freshLookup(a); !ok {
		t.Fatal("expected recently-touched entry a to survive eviction")
	}
}

func TestCache_ZeroCapacityBypasses(t *testing.T) {
	var loads int32
	loader := func(ctx context.Context, id domain.BlobID) (runtime.Session, error) {
		atomic.AddInt32(&loads, 1)
		return &fakeSession{}, nil
	}
	c := New(0, 0, loader, nil)
	id := newID(t)

	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 0 {
		t.Fatalf("expected zero capacity to retain nothing, got len %d", c.Len())
	}
	if got := atomic.LoadInt32(&loads); got != 3 {
		t.Fatalf("expected every call to miss with zero capacity, got %d loads", got)
	}
}

func TestCache_NegativeCapacityNeverEvicts(t *testing.T) {
	loader := func(ctx context.Context, id domain.BlobID) (runtime.Session, error) {
		return &fakeSession{}, nil
	}
	c := New(0, -1, loader, nil)

	for i := 0; i < 5; i++ {
		if _, err := c.Get(context.Background(), newID(t)); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 5 {
		t.Fatalf("expected negative capacity to never evict, got len %d", c.Len())
	}
}

func TestCache_LoadFailureNotCached(t *testing.T) {
	id := newID(t)
	wantErr := errors.New("load failed")
	var loads int32

	loader := func(ctx context.Context, got domain.BlobID) (runtime.Session, error) {
		atomic.AddInt32(&loads, 1)
		return nil, wantErr
	}
	c := New(0, -1, loader, nil)

	if _, err := c.Get(context.Background(), id); !errors.Is(err, wantErr) {
		t.Fatalf("expected load error, got %v", err)
	}
	if _, err := c.Get(context.Background(), id); !errors.Is(err, wantErr) {
		t.Fatalf("expected second attempt to also fail, got %v", err)
	}
	if got := atomic.LoadInt32(&loads); got != 2 {
		t.Fatalf("expected a retry on every call since failures are never cached, got %d loads", got)
	}
}

func TestCache_InvalidateAndClear(t *testing.T) {
	loader := func(ctx context.Context, id domain.BlobID) (runtime.Session, error) {
		return &fakeSession{}, nil
	}
	c := New(0, -1, loader, nil)
	id := newID(t)

	if _, err := c.Get(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	c.Invalidate(id)
	if c.Len() != 0 {
		t.Fatalf("expected Invalidate to drop the entry, got len %d", c.Len())
	}

	if _, err := c.Get(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected Clear to drop every entry, got len %d", c.Len())
	}
}

func TestCache_CancelledCallerDoesNotAbortLoad(t *testing.T) {
	id := newID(t)
	release := make(chan struct{})
	var loads int32
	loader := func(ctx context.Context, got domain.BlobID) (runtime.Session, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return &fakeSession{}, nil
	}
	c := New(0, -1, loader, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, id)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-errCh; apierrors.KindOf(err) != apierrors.Cancelled {
		t.Fatalf("expected Cancelled for an abandoned wait, got %v", err)
	}

	// The detached load still completes and populates the cache.
	close(release)
	deadline := time.After(time.Second)
	for {
		if _, ok := c.freshLookup(id); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the in-flight load to complete and populate the cache")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Fatalf("expected the abandoned load to be the only load, got %d", got)
	}
}

type recordingMetrics struct {
	hits, misses, evictions int32
}

func (m *recordingMetrics) RecordCacheHit()      { atomic.AddInt32(&m.hits, 1) }
func (m *recordingMetrics) RecordCacheMiss()     { atomic.AddInt32(&m.misses, 1) }
func (m *recordingMetrics) RecordCacheEviction() { atomic.AddInt32(&m.evictions, 1) }

func TestCache_MetricsRecorded(t *testing.T) {
	loader := func(ctx context.Context, id domain.BlobID) (runtime.Session, error) {
		return &fakeSession{}, nil
	}
	m := &recordingMetrics{}
	c := New(0, 1, loader, m)

	id1, id2 := newID(t), newID(t)
	if _, err := c.Get(context.Background(), id1); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), id1); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), id2); err != nil {
		t.Fatal(err)
	}

	if atomic.LoadInt32(&m.misses) != 2 {
		t.Fatalf("expected 2 misses, got %d", m.misses)
	}
	if atomic.LoadInt32(&m.hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", m.hits)
	}
	if atomic.LoadInt32(&m.evictions) != 1 {
		t.Fatalf("expected capacity overflow to evict once, got %d", m.evictions)
	}
}
