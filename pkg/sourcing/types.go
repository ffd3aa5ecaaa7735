package sourcing

import "github.com/google/uuid"

// SequencedItem is the on-log record. It is immutable once appended: the
// log never mutates or deletes an item.
type SequencedItem struct {
	SequenceID uuid.UUID
	Position   float64
	Topic      string
	Data       []byte
}

// Date is a calendar date with no time-of-day or timezone component,
// distinct from Timestamp so the codec can tell them apart.
type Date struct {
	Year  int
	Month int
	Day   int
}

// Bounds constrains a range query or a paged read. Gt/Lt are exclusive,
// Gte/Lte are inclusive. Combining Gt with Gte, or Lt with Lte, on the same
// side is programmer error; callers must not do it (spec §9 Open Questions).
type Bounds struct {
	GT  *float64
	GTE *float64
	LT  *float64
	LTE *float64
}
