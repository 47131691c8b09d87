package container

import "github.com/jekaa/stm"

// Seq is an indexed sequence composed of a single transactional cell
// holding a slice. Every mutation copies the backing slice before writing
// it back, so a reader that already fetched the slice via Get never sees
// it mutated out from under it.
type Seq[T any] struct {
	cell *stm.Cell[[]T]
}

// NewSeq allocates an empty Seq on s.
func NewSeq[T any](s *stm.Store) *Seq[T] {
	return &Seq[T]{cell: stm.NewCell[[]T](s, nil)}
}

// Len returns the number of elements.
func (q *Seq[T]) Len(tx *stm.Txn) int {
	return len(q.cell.Get(tx))
}

// At returns the element at index i.
func (q *Seq[T]) At(tx *stm.Txn, i int) T {
	return q.cell.Get(tx)[i]
}

// Set overwrites the element at index i.
func (q *Seq[T]) Set(tx *stm.Txn, i int, v T) {
	cur := q.cell.Get(tx)
	next := append([]T{}, cur...)
	next[i] = v
	q.cell.Set(tx, next)
}

// Append adds v to the end via Cell.Set, conflicting with any other
// transaction that touches this Seq directly -- use AppendCommute for the
// conflict-free form.
func (q *Seq[T]) Append(tx *stm.Txn, v T) {
	cur := q.cell.Get(tx)
	q.cell.Set(tx, append(append([]T{}, cur...), v))
}

// AppendCommute appends v against the sequence's live value at commit
// time, per the Commute Optimization: concurrent AppendCommute calls on
// the same Seq never fail validation against each other, though one whose
// commit finds the cell's write lock held by another commit still retries.
// The resulting order across racing commits is determined by commit order,
// not call order.
func (q *Seq[T]) AppendCommute(tx *stm.Txn, v T) {
	q.cell.Commute(tx, func(cur []T) []T {
		return append(append([]T{}, cur...), v)
	})
}

// Slice returns a copy of every element, in index order.
func (q *Seq[T]) Slice(tx *stm.Txn) []T {
	cur := q.cell.Get(tx)
	return append([]T{}, cur...)
}
