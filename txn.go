package stm

import "sync/atomic"

type txnState uint32

const (
	txActive txnState = iota
	txCommitting
	txCommitted
	txAborted
)

// commuteEntry is one pending (cell, fn) commute that has not yet been
// materialized into an ordinary read+write, per the Commute Optimization.
type commuteEntry struct {
	cell *cellState
	fn   func(any) any
}

// Txn is per-goroutine transaction state: the read stamp defining its
// snapshot, the read and write sets, the pending commute queue, and the
// deferred side-effect queues. A Txn is not safe for concurrent use from
// multiple goroutines -- like database/sql, a transaction belongs to one
// goroutine at a time.
type Txn struct {
	store     *Store
	id        uint64
	readStamp uint64

	reads  map[*cellState]struct{}
	writes map[*cellState]any

	commutes []commuteEntry

	onCommit   []func()
	onRollback []func()

	state atomic.Uint32
}

func newTxn(store *Store, id uint64) *Txn {
	return &Txn{
		store:     store,
		id:        id,
		readStamp: store.clock.readStamp(),
		reads:     make(map[*cellState]struct{}),
		writes:    make(map[*cellState]any),
	}
}

func (tx *Txn) checkActive() {
	if txnState(tx.state.Load()) != txActive {
		panic(ErrTxDone)
	}
}

// read implements Cell.Get's untyped core: write buffer, then pending
// commute materialization, then the snapshot.
func (tx *Txn) read(cs *cellState) any {
	tx.checkActive()

	if v, ok := tx.writes[cs]; ok {
		return v
	}

	if idx, ok := tx.pendingCommuteIndex(cs); ok {
		return tx.materializeCommutes(cs, idx)
	}

	v, _ := cs.valueAt(tx.readStamp)
	tx.reads[cs] = struct{}{}
	return v
}

// write implements Cell.Set's untyped core. cs's entry in tx.reads, if any,
// is left in place on purpose: a Set following a Get in the same
// transaction (Modify's case) must still have its source value validated
// against the live cell in Phase C, or a concurrent writer that commits
// between this read and this transaction's own commit would be silently
// overwritten -- a lost update. Only a blind write with no prior read in
// this transaction (which never populated tx.reads for cs) skips
// validation.
func (tx *Txn) write(cs *cellState, v any) {
	tx.checkActive()

	tx.dropPendingCommutes(cs)
	tx.writes[cs] = v
}

// commute implements Cell.Commute's untyped core. If cs has already been
// read or written by this transaction, the commute is materialized
// immediately (read-modify-write) and cs is validated in Phase C like any
// other read, losing the no-conflict property.
func (tx *Txn) commute(cs *cellState, fn func(any) any) {
	tx.checkActive()

	if _, isRead := tx.reads[cs]; isRead {
		tx.write(cs, fn(tx.read(cs)))
		return
	}
	if v, isWrite := tx.writes[cs]; isWrite {
		tx.writes[cs] = fn(v)
		return
	}
	tx.commutes = append(tx.commutes, commuteEntry{cell: cs, fn: fn})
}

func (tx *Txn) pendingCommuteIndex(cs *cellState) (int, bool) {
	for i, e := range tx.commutes {
		if e.cell == cs {
			return i, true
		}
	}
	return 0, false
}

// materializeCommutes collapses every pending commute entry for cs (there
// may be several, queued in call order) into a single read-modify-write
// against the transaction's snapshot value, and removes them from the
// pending queue. Like an ordinary read, this pins the result to tx's
// snapshot, so cs is added to tx.reads for Phase C to validate.
func (tx *Txn) materializeCommutes(cs *cellState, _ int) any {
	v, _ := cs.valueAt(tx.readStamp)
	tx.reads[cs] = struct{}{}

	kept := tx.commutes[:0:0]
	for _, e := range tx.commutes {
		if e.cell != cs {
			kept = append(kept, e)
			continue
		}
		v = e.fn(v)
	}
	tx.commutes = kept

	tx.writes[cs] = v
	return v
}

func (tx *Txn) dropPendingCommutes(cs *cellState) {
	if len(tx.commutes) == 0 {
		return
	}
	kept := tx.commutes[:0:0]
	for _, e := range tx.commutes {
		if e.cell != cs {
			kept = append(kept, e)
		}
	}
	tx.commutes = kept
}

// SideEffect enqueues onCommit to run after this transaction's writes are
// published, or onRollback to run if this attempt aborts (a returned error,
// a panic, or a validation failure). Either callback may be nil.
func (tx *Txn) SideEffect(onCommit, onRollback func()) {
	tx.checkActive()
	if onCommit != nil {
		tx.onCommit = append(tx.onCommit, onCommit)
	}
	if onRollback != nil {
		tx.onRollback = append(tx.onRollback, onRollback)
	}
}

// committedCells returns the set of cells this transaction published to
// (ordinary writes plus commute-only cells), for watcher dispatch.
func (tx *Txn) committedCells() map[*cellState]struct{} {
	out := make(map[*cellState]struct{}, len(tx.writes)+len(tx.commutes))
	for cs := range tx.writes {
		out[cs] = struct{}{}
	}
	for _, e := range tx.commutes {
		out[e.cell] = struct{}{}
	}
	return out
}

func (tx *Txn) runOnCommit() {
	for _, fn := range tx.onCommit {
		fn()
	}
}

func (tx *Txn) runOnRollback() {
	for _, fn := range tx.onRollback {
		fn()
	}
}
