package sourcing

import (
	"context"

	"github.com/google/uuid"
)

// GetItemsOptions configures a range query over a single sequence
// (spec.md §4.E). Gt/Lt are exclusive, Gte/Lte are inclusive. QueryAscending
// is a hint to the storage engine about which direction to walk its index;
// ResultsAscending controls only the order of the returned slice.
type GetItemsOptions struct {
	Bounds
	Limit            *int
	QueryAscending   bool
	ResultsAscending bool
}

// ItemIterator is a lazy sequence of SequencedItems, used by AllItems to
// stream across every sequence_id without materializing the whole log.
type ItemIterator interface {
	// Next returns the next item, or (nil, nil) once exhausted.
	Next(ctx context.Context) (*SequencedItem, error)
	Close() error
}

// ActiveRecordStrategy is the storage-backend-facing boundary (spec.md
// §4.E, §6). All operations are synchronous and blocking; cancellation and
// timeouts are inherited from ctx. Implementations must serialize
// concurrent appends at equal (sequence_id, position) using their own
// uniqueness constraint — this package never adds its own lock.
type ActiveRecordStrategy interface {
	// Append is an atomic insert. It fails with *ConflictError iff
	// (item.SequenceID, item.Position) already exists.
	Append(ctx context.Context, item SequencedItem) error

	// AppendBatch inserts every item or none: a conflict on any one item
	// rolls the whole batch back.
	AppendBatch(ctx context.Context, items []SequencedItem) error

	// Get returns the item at (sequenceID, position), or a *NotFoundError.
	Get(ctx context.Context, sequenceID uuid.UUID, position float64) (SequencedItem, error)

	// GetItems returns a finite slice of items from one sequence, ordered
	// and bounded per opts.
	GetItems(ctx context.Context, sequenceID uuid.UUID, opts GetItemsOptions) ([]SequencedItem, error)

	// AllItems returns a lazy sequence across every sequence_id. Order
	// across sequences is unspecified; within a sequence it is ascending
	// by position.
	AllItems(ctx context.Context) (ItemIterator, error)
}
