package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel page fetches.
	// The outbound throttle still paces the actual upstream calls.
	MaxConcurrency int

	// Timeout per page fetch.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 5,
		Timeout:        15 * time.Second,
	}
}

// PageFetcher fetches a single page of a paginated endpoint and reports the
// total page count alongside the page data.
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, page int) (data json.RawMessage, totalPages int, err error)
}

// pageResult carries one fetched page between workers and the collector.
type pageResult struct {
	page int
	data json.RawMessage
	err  error
}

// BatchFetcher fans paginated fetches out over a bounded worker pool.
type BatchFetcher struct {
	fetcher PageFetcher
	cfg     Config
}

// NewBatchFetcher creates a batch fetcher.
func NewBatchFetcher(fetcher PageFetcher, cfg Config) *BatchFetcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &BatchFetcher{fetcher: fetcher, cfg: cfg}
}

// FetchAllPages fetches every page of an endpoint, returning a map of page
// number to data for the pages that succeeded. When some pages fail, the
// partial map is returned together with the first error.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context, endpoint string) (map[int]json.RawMessage, error) {
	start := time.Now()

	firstPage, totalPages, err := bf.fetcher.FetchPage(ctx, endpoint, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	if totalPages < 1 {
		totalPages = 1
	}

	results := map[int]json.RawMessage{1: firstPage}
	if totalPages == 1 {
		return results, nil
	}

	log.Info().
		Str("endpoint", endpoint).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	pages := make(chan int)
	out := make(chan pageResult)

	go func() {
		defer close(pages)
		for page := 2; page <= totalPages; page++ {
			select {
			case pages <- page:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < bf.cfg.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bf.worker(ctx, endpoint, pages, out)
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	var firstErr error
	for result := range out {
		if result.err != nil {
			log.Warn().Err(result.err).Int("page", result.page).
				Str("endpoint", endpoint).Msg("Page fetch failed")
			if firstErr == nil {
				firstErr = result.err
			}
			continue
		}
		results[result.page] = result.data
	}

	log.Info().
		Str("endpoint", endpoint).
		Int("fetched", len(results)).
		Int("total", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	if firstErr != nil {
		return results, fmt.Errorf("partial batch (%d/%d pages): %w", len(results), totalPages, firstErr)
	}
	return results, nil
}

// worker drains the page queue, fetching each page under its own timeout.
func (bf *BatchFetcher) worker(ctx context.Context, endpoint string, pages <-chan int, out chan<- pageResult) {
	for page := range pages {
		pageCtx, cancel := context.WithTimeout(ctx, bf.cfg.Timeout)
		data, _, err := bf.fetcher.FetchPage(pageCtx, endpoint, page)
		cancel()

		select {
		case out <- pageResult{page: page, data: data, err: err}:
		case <-ctx.Done():
			return
		}
	}
}
