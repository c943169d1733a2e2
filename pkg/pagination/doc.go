// Package pagination provides parallel batch fetching for paginated
// provider endpoints.
//
// Many provider listings are split across pages. This package fans the
// remaining pages out over a bounded worker pool after the first page
// reveals the total count. Each page fetch goes through the full resilience
// pipeline, so pacing, deduplication, and breaker gating apply per page.
//
// Example usage:
//
//	fetcher := pagination.NewBatchFetcher(pageFetcher, pagination.DefaultConfig())
//	pages, err := fetcher.FetchAllPages(ctx, "catalog/movies/popular")
//
// Failed pages are logged and skipped; the batch returns the pages that
// succeeded together with the first error encountered, letting the caller
// decide whether partial data is usable.
package pagination
