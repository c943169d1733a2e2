package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeFetcher serves a fixed number of pages, optionally failing some.
type fakeFetcher struct {
	totalPages int
	failPages  map[int]error
	delay      time.Duration

	mu       sync.Mutex
	calls    int
	inFlight int32
	maxSeen  int32
}

func (f *fakeFetcher) FetchPage(_ context.Context, endpoint string, page int) (json.RawMessage, int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	atomic.AddInt32(&f.inFlight, -1)

	if err, ok := f.failPages[page]; ok {
		return nil, f.totalPages, err
	}
	return json.RawMessage(fmt.Sprintf(`{"page":%d}`, page)), f.totalPages, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestFetchAllPagesSinglePage(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 1}
	bf := NewBatchFetcher(fetcher, DefaultConfig())

	results, err := bf.FetchAllPages(context.Background(), "catalog")
	if err != nil {
		t.Fatalf("FetchAllPages failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("len(results) = %d, want 1", len(results))
	}
	if fetcher.callCount() != 1 {
		t.Errorf("FetchPage called %d times, want 1", fetcher.callCount())
	}
}

func TestFetchAllPagesComplete(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 7}
	bf := NewBatchFetcher(fetcher, Config{MaxConcurrency: 3, Timeout: time.Second})

	results, err := bf.FetchAllPages(context.Background(), "catalog")
	if err != nil {
		t.Fatalf("FetchAllPages failed: %v", err)
	}
	if len(results) != 7 {
		t.Fatalf("len(results) = %d, want 7", len(results))
	}
	for page := 1; page <= 7; page++ {
		want := fmt.Sprintf(`{"page":%d}`, page)
		if string(results[page]) != want {
			t.Errorf("results[%d] = %s, want %s", page, results[page], want)
		}
	}
}

func TestFetchAllPagesPartialFailure(t *testing.T) {
	pageErr := errors.New("upstream 503")
	fetcher := &fakeFetcher{
		totalPages: 5,
		failPages:  map[int]error{3: pageErr},
	}
	bf := NewBatchFetcher(fetcher, Config{MaxConcurrency: 2, Timeout: time.Second})

	results, err := bf.FetchAllPages(context.Background(), "catalog")
	if !errors.Is(err, pageErr) {
		t.Fatalf("Expected the page error, got %v", err)
	}

	// The surviving pages are still returned.
	if len(results) != 4 {
		t.Errorf("len(results) = %d, want 4 surviving pages", len(results))
	}
	if _, ok := results[3]; ok {
		t.Error("Failed page present in results")
	}
}

func TestFetchAllPagesFirstPageFailure(t *testing.T) {
	pageErr := errors.New("down")
	fetcher := &fakeFetcher{
		totalPages: 5,
		failPages:  map[int]error{1: pageErr},
	}
	bf := NewBatchFetcher(fetcher, DefaultConfig())

	results, err := bf.FetchAllPages(context.Background(), "catalog")
	if !errors.Is(err, pageErr) {
		t.Fatalf("Expected the first-page error, got %v", err)
	}
	if results != nil {
		t.Errorf("Expected no results when the first page fails, got %v", results)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("FetchPage called %d times, want 1 (no fan-out without a page count)", fetcher.callCount())
	}
}

func TestFetchAllPagesBoundedConcurrency(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 12, delay: 10 * time.Millisecond}
	bf := NewBatchFetcher(fetcher, Config{MaxConcurrency: 3, Timeout: time.Second})

	if _, err := bf.FetchAllPages(context.Background(), "catalog"); err != nil {
		t.Fatalf("FetchAllPages failed: %v", err)
	}

	// The first page is fetched alone, so the pool bound applies to the
	// fan-out phase.
	if max := atomic.LoadInt32(&fetcher.maxSeen); max > 3 {
		t.Errorf("Observed %d concurrent fetches, want <= MaxConcurrency of 3", max)
	}
}
