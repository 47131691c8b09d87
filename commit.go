package stm

import "sort"

// commuteGroup collects every still-pending commute fn queued against one
// cell, in call order, for Phase E.
type commuteGroup struct {
	cell *cellState
	fns  []func(any) any
}

// commit runs the two-phase commit coordinator: acquire write locks in
// deterministic order, validate the read set,
// assign a commit stamp, publish, release locks, then run side effects and
// trigger watchers. It returns errValidationFailed (never any other error)
// when the attempt must be retried.
func (s *Store) commit(tx *Txn) error {
	// A read-only transaction (no writes, no pending commutes) commits
	// trivially without ticking the clock, per the retry driver contract.
	if len(tx.writes) == 0 && len(tx.commutes) == 0 {
		tx.state.Store(uint32(txCommitted))
		tx.runOnCommit()
		return nil
	}

	groups := groupCommutes(tx.commutes)

	lockSet := make([]*cellState, 0, len(tx.writes)+len(groups))
	for cs := range tx.writes {
		lockSet = append(lockSet, cs)
	}
	for _, g := range groups {
		lockSet = append(lockSet, g.cell)
	}
	sort.Slice(lockSet, func(i, j int) bool { return lockSet[i].seq < lockSet[j].seq })

	// Phase B: acquire write locks in deterministic order.
	acquired := lockSet[:0:0]
	for _, cs := range lockSet {
		if !cs.tryLock(tx.id) {
			for _, held := range acquired {
				held.unlock(tx.id)
			}
			s.recordContention(cs)
			return errValidationFailed
		}
		acquired = append(acquired, cs)
	}

	// Phase C: validate the read set. tx.reads holds every cell this
	// transaction has read, including ones later overwritten by Set or
	// Modify -- a cell's tentative write is only as good as the snapshot
	// value it was computed from, so it still needs checking here even
	// though it is about to be published in Phase E.
	for cs := range tx.reads {
		if cs.newestStamp() > tx.readStamp {
			releaseAll(acquired, tx.id)
			return errValidationFailed
		}
		if holder := cs.lockHolder(); holder != 0 && holder != tx.id {
			releaseAll(acquired, tx.id)
			return errValidationFailed
		}
	}

	// Phase D: assign the commit stamp.
	stamp := s.clock.tick()

	// Phase E: publish.
	for cs, v := range tx.writes {
		cs.publish(stamp, v)
	}
	for _, g := range groups {
		v, _ := g.cell.valueAt(g.cell.newestStamp())
		for _, fn := range g.fns {
			v = fn(v)
		}
		g.cell.publish(stamp, v)
	}

	tx.state.Store(uint32(txCommitted))

	// Phase F: release locks, then side effects, then watcher dispatch.
	releaseAll(acquired, tx.id)
	tx.runOnCommit()
	s.notifyWatchers(tx.committedCells())

	return nil
}

func releaseAll(cells []*cellState, txnID uint64) {
	for _, cs := range cells {
		cs.unlock(txnID)
	}
}

func groupCommutes(entries []commuteEntry) []*commuteGroup {
	if len(entries) == 0 {
		return nil
	}
	order := make([]*commuteGroup, 0, len(entries))
	byCell := make(map[*cellState]*commuteGroup, len(entries))
	for _, e := range entries {
		g, ok := byCell[e.cell]
		if !ok {
			g = &commuteGroup{cell: e.cell}
			byCell[e.cell] = g
			order = append(order, g)
		}
		g.fns = append(g.fns, e.fn)
	}
	return order
}
