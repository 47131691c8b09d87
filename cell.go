package stm

import (
	"sync"
	"sync/atomic"
)

// historyEntry is one (writer-stamp, value) pair in a cell's version chain.
type historyEntry struct {
	stamp uint64
	value any
}

// cellState is the untyped transactional reference behind every Cell[T]. It
// is kept untyped (value any) so a Txn can hold heterogeneous cells in the
// same reads/writes maps, the same way anacrolix/stm's Var stores val as
// interface{} -- see other_examples/anacrolix-stm__var.go.
type cellState struct {
	seq uint64 // creation order, used for deterministic lock acquisition

	histMu  sync.RWMutex
	history []historyEntry // newest first, always at least one entry

	lockedBy atomic.Uint64 // 0 = free, else the id of the txn holding the write lock

	wmu      sync.Mutex
	watchers map[*watcher]struct{}

	store *Store
}

func newCellState(store *Store, seq uint64, initial any) *cellState {
	return &cellState{
		seq:      seq,
		history:  []historyEntry{{stamp: 0, value: initial}},
		watchers: make(map[*watcher]struct{}),
		store:    store,
	}
}

// valueAt returns the newest history entry with stamp <= readStamp, and
// that entry's stamp.
func (cs *cellState) valueAt(readStamp uint64) (any, uint64) {
	cs.histMu.RLock()
	defer cs.histMu.RUnlock()
	for _, e := range cs.history {
		if e.stamp <= readStamp {
			return e.value, e.stamp
		}
	}
	// readStamp 0 with an empty history never happens: every cell is
	// seeded with a stamp-0 entry at creation.
	panic(newInvariantViolation("cell %d: no history entry at or before stamp %d", cs.seq, readStamp))
}

// newestStamp returns the stamp of the newest published entry.
func (cs *cellState) newestStamp() uint64 {
	cs.histMu.RLock()
	defer cs.histMu.RUnlock()
	return cs.history[0].stamp
}

// publish prepends a new (stamp, value) entry. Caller must hold the cell's
// write lock.
func (cs *cellState) publish(stamp uint64, value any) {
	cs.histMu.Lock()
	defer cs.histMu.Unlock()
	if len(cs.history) > 0 && stamp <= cs.history[0].stamp {
		panic(newInvariantViolation("cell %d: commit stamp %d does not exceed newest history stamp %d", cs.seq, stamp, cs.history[0].stamp))
	}
	cs.history = append([]historyEntry{{stamp: stamp, value: value}}, cs.history...)
}

// tryLock attempts to acquire the cell's write lock for txn id.
func (cs *cellState) tryLock(txnID uint64) bool {
	return cs.lockedBy.CompareAndSwap(0, txnID)
}

func (cs *cellState) unlock(txnID uint64) {
	cs.lockedBy.CompareAndSwap(txnID, 0)
}

func (cs *cellState) lockHolder() uint64 {
	return cs.lockedBy.Load()
}

// pruneBefore drops history entries older than keepStamp that are no longer
// the newest entry, matching the teacher's collectVersions: never remove the
// current value, and never remove anything a live transaction might still
// need.
func (cs *cellState) pruneBefore(keepStamp uint64) {
	cs.histMu.Lock()
	defer cs.histMu.Unlock()
	if len(cs.history) <= 1 {
		return
	}
	cut := len(cs.history)
	for i, e := range cs.history {
		if i == 0 {
			continue
		}
		if e.stamp < keepStamp {
			cut = i + 1
			break
		}
	}
	// Keep every entry down to and including the first non-newest entry
	// strictly below keepStamp, so readers pinned at keepStamp still resolve
	// a value; drop everything older than that. When an entry sits exactly
	// at keepStamp, the one entry below it is kept as well.
	trimmed := cs.history[:cut]
	if len(trimmed) == len(cs.history) {
		return
	}
	cs.history = append([]historyEntry{}, trimmed...)
}

func (cs *cellState) addWatcher(w *watcher) {
	cs.wmu.Lock()
	cs.watchers[w] = struct{}{}
	cs.wmu.Unlock()
}

func (cs *cellState) removeWatcher(w *watcher) {
	cs.wmu.Lock()
	delete(cs.watchers, w)
	cs.wmu.Unlock()
}

// Cell is a typed, transactional memory cell. Create one with NewCell.
type Cell[T any] struct {
	state *cellState
}

// NewCell allocates a new transactional cell owned by s, seeded with
// initial as its stamp-0 value.
func NewCell[T any](s *Store, initial T) *Cell[T] {
	cs := s.allocCell(initial)
	return &Cell[T]{state: cs}
}

// Get returns the cell's value as observed by tx: the tentative write if
// tx already wrote it, the value pending materialization from a prior
// Commute, or the newest history entry at or before tx's read stamp.
func (c *Cell[T]) Get(tx *Txn) T {
	if tx == nil {
		panic(ErrNoTransaction)
	}
	return tx.read(c.state).(T)
}

// Set records v as c's tentative new value for the lifetime of tx. Other
// transactions do not see v until tx commits.
func (c *Cell[T]) Set(tx *Txn, v T) {
	if tx == nil {
		panic(ErrNoTransaction)
	}
	tx.write(c.state, v)
}

// Modify is equivalent to Set(tx, f(Get(tx))). Unlike Commute, it always
// conflicts on commit with any other writer of the same cell.
func (c *Cell[T]) Modify(tx *Txn, f func(T) T) {
	c.Set(tx, f(c.Get(tx)))
}

// Commute schedules f to run against the cell's live value at commit time.
// As long as the transaction never also reads or writes c directly, f does
// not conflict with any other transaction's commute of the same cell --
// see the Commute Optimization in the package doc.
func (c *Cell[T]) Commute(tx *Txn, f func(T) T) {
	if tx == nil {
		panic(ErrNoTransaction)
	}
	tx.commute(c.state, func(v any) any { return f(v.(T)) })
}

// Peek returns the newest committed value without registering a read and
// without requiring an active transaction. It is an unsynchronized snapshot
// intended for display/debugging, per the read policy in the package doc.
func (c *Cell[T]) Peek() T {
	v, _ := c.state.valueAt(c.state.newestStamp())
	return v.(T)
}
