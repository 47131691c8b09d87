// Package stm implements a Software Transactional Memory runtime: atomic,
// isolated, optimistically-concurrent transactions over versioned memory
// cells.
//
// Allocate cells on a Store, then run transactions with Atomically:
//
//	s := stm.New(context.Background())
//	defer s.Close()
//
//	x := stm.NewCell(s, 0)
//	err := s.Atomically(func(tx *stm.Txn) error {
//		x.Set(tx, x.Get(tx)+1)
//		return nil
//	})
//
// A transaction observes a single consistent snapshot of every cell it
// reads (opacity) and either commits all of its writes atomically or
// aborts and retries with no visible side effect. Retries are automatic and
// invisible: Atomically only returns once a transaction has committed, or
// once the supplied function itself returns a non-nil error or panics.
//
// Cell.Commute schedules an update that is applied against the cell's live
// value at commit time rather than the transaction's snapshot value, so
// concurrent commutes of the same cell never fail validation against each
// other; an attempt whose commit finds the cell's write lock held by
// another commit still retries -- see cell.go's Commute for the exact
// contract. Store.Conditional
// registers a predicate/reactor pair that re-evaluates whenever a commit
// touches one of the predicate's dependency cells. Txn.SideEffect defers a
// non-transactional callback until after a transaction's outcome -- commit
// or rollback -- is known.
//
// Reading a cell outside a transaction (Cell.Peek) is allowed only as an
// unsynchronized snapshot of the newest committed value; it does not
// register a read and provides no isolation guarantee. Every other
// transactional operation invoked outside Atomically panics with
// ErrNoTransaction.
package stm
