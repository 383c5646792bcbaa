package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aioue/any.down/internal/transport"
)

// fakeDoer answers by URL; unknown URLs fail.
type fakeDoer struct {
	mu       sync.Mutex
	inFlight int32
	peak     int32
	delay    time.Duration
	fail     map[string]bool
}

func (f *fakeDoer) Do(ctx context.Context, method, rawURL string, opts *transport.Options) (*transport.Response, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	if cur > f.peak {
		f.peak = cur
	}
	fail := f.fail[rawURL]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("slot failed")
	}
	return &transport.Response{StatusCode: 200, Body: []byte(rawURL)}, nil
}

func TestFetchResultsInInputOrder(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{}
	pool := NewPool(doer, WithConcurrency(3))

	var reqs []Request
	for i := 0; i < 8; i++ {
		reqs = append(reqs, Request{URL: fmt.Sprintf("https://example.test/%d", i)})
	}

	results := pool.Fetch(context.Background(), reqs)
	if len(results) != 8 {
		t.Fatalf("got %d results, want 8", len(results))
	}
	for i, resp := range results {
		if resp == nil {
			t.Fatalf("slot %d nil", i)
		}
		if string(resp.Body) != reqs[i].URL {
			t.Fatalf("slot %d carries %q, want %q", i, resp.Body, reqs[i].URL)
		}
	}
}

func TestFetchBoundsConcurrency(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{delay: 20 * time.Millisecond}
	pool := NewPool(doer, WithConcurrency(2))

	var reqs []Request
	for i := 0; i < 6; i++ {
		reqs = append(reqs, Request{URL: fmt.Sprintf("https://example.test/%d", i)})
	}
	pool.Fetch(context.Background(), reqs)

	doer.mu.Lock()
	peak := doer.peak
	doer.mu.Unlock()
	if peak > 2 {
		t.Fatalf("observed %d concurrent requests, bound is 2", peak)
	}
}

func TestFetchFailedSlotDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{fail: map[string]bool{"https://example.test/1": true}}
	pool := NewPool(doer)

	results := pool.Fetch(context.Background(), []Request{
		{URL: "https://example.test/0"},
		{URL: "https://example.test/1"},
		{URL: "https://example.test/2"},
	})

	if results[0] == nil || results[2] == nil {
		t.Fatal("healthy slots should have results")
	}
	if results[1] != nil {
		t.Fatal("failed slot should be nil")
	}
}

func TestFetchSlotTimeout(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{delay: 200 * time.Millisecond}
	pool := NewPool(doer, WithSlotTimeout(10*time.Millisecond))

	start := time.Now()
	results := pool.Fetch(context.Background(), []Request{{URL: "https://example.test/slow"}})
	if results[0] != nil {
		t.Fatal("timed-out slot should be nil")
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Fatal("slot timeout did not cut the request short")
	}
}

func TestFetchEmptyBatch(t *testing.T) {
	t.Parallel()

	pool := NewPool(&fakeDoer{})
	results := pool.Fetch(context.Background(), nil)
	if len(results) != 0 {
		t.Fatalf("got %d results for empty batch", len(results))
	}
}

func TestFetchCancelledContext(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{delay: 50 * time.Millisecond}
	pool := NewPool(doer, WithConcurrency(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := pool.Fetch(ctx, []Request{
		{URL: "https://example.test/0"},
		{URL: "https://example.test/1"},
	})
	for i, resp := range results {
		if resp != nil {
			t.Fatalf("slot %d has a result after pre-cancelled context", i)
		}
	}
}
