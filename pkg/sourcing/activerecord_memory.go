package sourcing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryActiveRecordStrategy is the portable in-memory reference
// implementation of ActiveRecordStrategy required by spec.md §6, used by
// the package's own tests and suitable for application-level tests that
// don't want a real database.
type MemoryActiveRecordStrategy struct {
	mu        sync.Mutex
	sequences map[uuid.UUID][]SequencedItem // kept sorted ascending by Position
}

// NewMemoryActiveRecordStrategy builds an empty in-memory strategy.
func NewMemoryActiveRecordStrategy() *MemoryActiveRecordStrategy {
	return &MemoryActiveRecordStrategy{sequences: make(map[uuid.UUID][]SequencedItem)}
}

// Append implements ActiveRecordStrategy.
func (s *MemoryActiveRecordStrategy) Append(_ context.Context, item SequencedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(item)
}

// AppendBatch implements ActiveRecordStrategy. The whole batch commits or
// none does: every item is checked for conflict before any is inserted.
func (s *MemoryActiveRecordStrategy) AppendBatch(_ context.Context, items []SequencedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inBatch := make(map[uuid.UUID]map[float64]bool)
	for _, item := range items {
		seq := s.sequences[item.SequenceID]
		_, found := findPosition(seq, item.Position)
		if !found {
			found = inBatch[item.SequenceID][item.Position]
		}
		if inBatch[item.SequenceID] == nil {
			inBatch[item.SequenceID] = make(map[float64]bool)
		}
		inBatch[item.SequenceID][item.Position] = true
		if found {
			return &ConflictError{
				StoreError: StoreError{Op: "MemoryActiveRecordStrategy.AppendBatch", Err: fmt.Errorf("item already exists at position %v", item.Position)},
				SequenceID: item.SequenceID.String(),
				Position:   item.Position,
			}
		}
	}
	for _, item := range items {
		if err := s.insertLocked(item); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryActiveRecordStrategy) insertLocked(item SequencedItem) error {
	seq := s.sequences[item.SequenceID]
	idx, found := findPosition(seq, item.Position)
	if found {
		return &ConflictError{
			StoreError: StoreError{Op: "MemoryActiveRecordStrategy.Append", Err: fmt.Errorf("item already exists at position %v", item.Position)},
			SequenceID: item.SequenceID.String(),
			Position:   item.Position,
		}
	}
	seq = append(seq, SequencedItem{})
	copy(seq[idx+1:], seq[idx:])
	seq[idx] = item
	s.sequences[item.SequenceID] = seq
	return nil
}

// findPosition returns the index at which position is, or should be
// inserted to keep seq sorted ascending, and whether it is already present.
func findPosition(seq []SequencedItem, position float64) (int, bool) {
	idx := sort.Search(len(seq), func(i int) bool { return seq[i].Position >= position })
	if idx < len(seq) && seq[idx].Position == position {
		return idx, true
	}
	return idx, false
}

// Get implements ActiveRecordStrategy.
func (s *MemoryActiveRecordStrategy) Get(_ context.Context, sequenceID uuid.UUID, position float64) (SequencedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.sequences[sequenceID]
	if idx, found := findPosition(seq, position); found {
		return seq[idx], nil
	}
	return SequencedItem{}, &NotFoundError{
		StoreError: StoreError{Op: "MemoryActiveRecordStrategy.Get", Err: fmt.Errorf("no item at position %v", position)},
		SequenceID: sequenceID.String(),
		Position:   position,
	}
}

// GetItems implements ActiveRecordStrategy.
func (s *MemoryActiveRecordStrategy) GetItems(_ context.Context, sequenceID uuid.UUID, opts GetItemsOptions) ([]SequencedItem, error) {
	s.mu.Lock()
	seq := append([]SequencedItem(nil), s.sequences[sequenceID]...)
	s.mu.Unlock()

	var matched []SequencedItem
	for _, item := range seq {
		if !withinBounds(item.Position, opts.Bounds) {
			continue
		}
		matched = append(matched, item)
	}

	// matched is currently ascending by position regardless of
	// QueryAscending: the in-memory strategy always has the whole sequence
	// available, so the "query direction" hint only affects which end of
	// the range a Limit truncates from.
	if !opts.QueryAscending {
		reverseItems(matched)
	}

	if opts.Limit != nil && *opts.Limit < len(matched) {
		matched = matched[:*opts.Limit]
	}

	if opts.QueryAscending != opts.ResultsAscending {
		reverseItems(matched)
	}

	return matched, nil
}

func withinBounds(position float64, b Bounds) bool {
	if b.GT != nil && !(position > *b.GT) {
		return false
	}
	if b.GTE != nil && !(position >= *b.GTE) {
		return false
	}
	if b.LT != nil && !(position < *b.LT) {
		return false
	}
	if b.LTE != nil && !(position <= *b.LTE) {
		return false
	}
	return true
}

func reverseItems(items []SequencedItem) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

// AllItems implements ActiveRecordStrategy. The returned iterator walks a
// snapshot taken at call time; later appends are not visible to it.
func (s *MemoryActiveRecordStrategy) AllItems(_ context.Context) (ItemIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []SequencedItem
	for _, seq := range s.sequences {
		all = append(all, seq...)
	}
	return &memoryItemIterator{items: all}, nil
}

type memoryItemIterator struct {
	items []SequencedItem
	pos   int
}

func (it *memoryItemIterator) Next(_ context.Context) (*SequencedItem, error) {
	if it.pos >= len(it.items) {
		return nil, nil
	}
	item := it.items[it.pos]
	it.pos++
	return &item, nil
}

func (it *memoryItemIterator) Close() error { return nil }
