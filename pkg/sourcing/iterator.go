package sourcing

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// IteratorClass selects which PagedIterator implementation EventStore.
// GetDomainEvents constructs (spec.md §4.G).
type IteratorClass int

const (
	// SimplePaged fetches each page synchronously, on demand.
	SimplePaged IteratorClass = iota
	// PrefetchingPaged starts fetching the next page as soon as the
	// current one is handed to the caller, overlapping fetch latency with
	// consumption.
	PrefetchingPaged
)

// PagedIteratorConfig parameterizes a paged walk over a single sequence.
type PagedIteratorConfig struct {
	SequenceID  uuid.UUID
	PageSize    int
	Bounds      Bounds
	Limit       *int
	IsAscending bool
	Log         *logrus.Entry
}

// PagedIterator lazily walks a single sequence page by page, in either
// direction, propagating the first error it hits and then stopping. It
// must be safe to abandon mid-stream: Close releases nothing beyond what
// the underlying strategy already owns per call.
type PagedIterator struct {
	strategy ActiveRecordStrategy
	cfg      PagedIteratorConfig
	log      *logrus.Entry

	lastPosition *float64
	pageCounter  int
	queryCounter int
	allItemCount int
	exhausted    bool

	buffer []SequencedItem
	bufIdx int
	err    error

	prefetch   bool
	nextPageCh chan pagedFetchResult
}

type pagedFetchResult struct {
	items []SequencedItem
	limit int
	err   error
}

// NewPagedIterator builds a PagedIterator of the requested class.
func NewPagedIterator(strategy ActiveRecordStrategy, cfg PagedIteratorConfig, class IteratorClass) *PagedIterator {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	it := &PagedIterator{strategy: strategy, cfg: cfg, log: log, prefetch: class == PrefetchingPaged}
	return it
}

// QueryCount returns how many underlying GetItems calls have been issued so
// far — the property exercised by spec.md §8 property 5 and scenarios S2/S3.
func (it *PagedIterator) QueryCount() int { return it.queryCounter }

// PageCount returns how many pages have been fetched so far.
func (it *PagedIterator) PageCount() int { return it.pageCounter }

// Next returns the next item in position order (ascending or descending per
// cfg.IsAscending), or (nil, nil) once the sequence is exhausted.
func (it *PagedIterator) Next(ctx context.Context) (*SequencedItem, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.bufIdx < len(it.buffer) {
		item := it.buffer[it.bufIdx]
		it.bufIdx++
		if it.prefetch && it.bufIdx == len(it.buffer) && !it.exhausted {
			it.startPrefetch(ctx)
		}
		return &item, nil
	}
	if it.exhausted {
		return nil, nil
	}

	if err := it.loadNextPage(ctx); err != nil {
		it.err = err
		return nil, err
	}
	if len(it.buffer) == 0 {
		it.exhausted = true
		return nil, nil
	}
	item := it.buffer[0]
	it.bufIdx = 1
	if it.prefetch && it.bufIdx == len(it.buffer) && !it.exhausted {
		it.startPrefetch(ctx)
	}
	return &item, nil
}

// Close releases the iterator. Safe to call at any point, including
// mid-stream.
func (it *PagedIterator) Close() error { return nil }

func (it *PagedIterator) effectiveLimit() (int, bool) {
	limit := it.cfg.PageSize
	if it.cfg.Limit != nil {
		remaining := *it.cfg.Limit - it.allItemCount
		if remaining <= 0 {
			return 0, false
		}
		if remaining < limit {
			limit = remaining
		}
	}
	return limit, true
}

func (it *PagedIterator) effectiveBounds() Bounds {
	b := it.cfg.Bounds
	if it.cfg.IsAscending {
		if it.lastPosition != nil {
			b.GT = it.lastPosition
			b.GTE = nil
		}
	} else {
		if it.lastPosition != nil {
			b.LT = it.lastPosition
			b.LTE = nil
		}
	}
	return b
}

func (it *PagedIterator) fetch(ctx context.Context) ([]SequencedItem, int, error) {
	limit, ok := it.effectiveLimit()
	if !ok {
		return nil, 0, nil
	}
	opts := GetItemsOptions{
		Bounds:           it.effectiveBounds(),
		Limit:            &limit,
		QueryAscending:   it.cfg.IsAscending,
		ResultsAscending: it.cfg.IsAscending,
	}
	it.queryCounter++
	it.log.WithFields(logrus.Fields{
		"sequence_id": it.cfg.SequenceID,
		"page":        it.pageCounter,
		"query":       it.queryCounter,
	}).Debug("fetching page")
	items, err := it.strategy.GetItems(ctx, it.cfg.SequenceID, opts)
	if err != nil {
		return nil, 0, err
	}
	return items, limit, nil
}

func (it *PagedIterator) loadNextPage(ctx context.Context) error {
	var items []SequencedItem
	var limit int
	var err error
	if it.prefetch && it.nextPageCh != nil {
		result := <-it.nextPageCh
		it.nextPageCh = nil
		items, limit, err = result.items, result.limit, result.err
	} else {
		items, limit, err = it.fetch(ctx)
	}
	if err != nil {
		return err
	}
	it.applyPage(items, limit)
	return nil
}

// applyPage records a fetched page and decides whether the sequence is
// exhausted. fetchLimit is the limit that drove the fetch producing items
// (computed before allItemCount advanced for this page) — comparing against
// it, rather than against a freshly recomputed effectiveLimit, is what keeps
// the query count at exactly ceil(requested/page_size) instead of one extra
// probe query per exhausted sequence.
func (it *PagedIterator) applyPage(items []SequencedItem, fetchLimit int) {
	it.buffer = items
	it.bufIdx = 0
	if len(items) == 0 {
		it.exhausted = true
		return
	}
	last := items[len(items)-1].Position
	it.lastPosition = &last
	it.allItemCount += len(items)
	it.pageCounter++

	if len(items) < fetchLimit {
		it.exhausted = true
	}
}

func (it *PagedIterator) startPrefetch(ctx context.Context) {
	if it.nextPageCh != nil {
		return
	}
	ch := make(chan pagedFetchResult, 1)
	it.nextPageCh = ch
	go func() {
		items, limit, err := it.fetch(ctx)
		ch <- pagedFetchResult{items: items, limit: limit, err: err}
	}()
}
