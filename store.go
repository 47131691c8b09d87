package stm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Store is the arena that owns a family of transactional cells, the clock
// that stamps their commits, the registry of in-flight transactions (used
// to compute the GC watermark), and the conditional-watcher registry. It is
// the generalized form of the teacher's MVCCMap: instead of one map keyed
// by K, a Store is a container of independently versioned Cell[T]s of
// arbitrary T.
type Store struct {
	clock clock

	txnSeq  atomic.Uint64
	cellSeq atomic.Uint64

	activeMu sync.RWMutex
	active   map[uint64]*Txn // txn id -> txn, for the GC watermark

	curMu   sync.Mutex
	current map[uint64]*Txn // goroutine id -> currently running txn

	cellsMu sync.Mutex
	cells   []*cellState

	watchers *watcherRegistry
	metrics  *contentionMetrics

	logger *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
}

// New creates a Store and starts its background GC and watcher-dispatch
// goroutines, supervised by an errgroup.Group. Callers must call Close to
// stop them, mirroring the teacher's NewMVCCMap/Close handshake.
func New(ctx context.Context, opts ...Option) *Store {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	s := &Store{
		active:  make(map[uint64]*Txn),
		current: make(map[uint64]*Txn),
		logger:  cfg.logger,
		cancel:  cancel,
		group:   group,
		done:    make(chan struct{}),
	}
	s.watchers = newWatcherRegistry(s, cfg.watcherEvalWorkers)
	s.metrics = newContentionMetrics()

	group.Go(func() error {
		s.runGC(groupCtx, cfg.gcInterval)
		return nil
	})
	group.Go(func() error {
		s.watchers.run(groupCtx)
		return nil
	})

	go func() {
		_ = group.Wait()
		close(s.done)
	}()

	return s
}

// Close stops the background goroutines and blocks until they exit.
func (s *Store) Close() {
	s.cancel()
	<-s.done
}

func (s *Store) allocCell(initial any) *cellState {
	seq := s.cellSeq.Add(1)
	cs := newCellState(s, seq, initial)
	s.cellsMu.Lock()
	s.cells = append(s.cells, cs)
	s.cellsMu.Unlock()
	return cs
}

// forEachCell calls fn once for every cell this Store has allocated. It is
// used by the GC sweep; fn must not allocate new cells on this Store.
func (s *Store) forEachCell(fn func(*cellState)) {
	s.cellsMu.Lock()
	snapshot := make([]*cellState, len(s.cells))
	copy(snapshot, s.cells)
	s.cellsMu.Unlock()

	for _, cs := range snapshot {
		fn(cs)
	}
}

func (s *Store) nextTxnID() uint64 {
	return s.txnSeq.Add(1)
}

func (s *Store) registerActive(tx *Txn) {
	s.activeMu.Lock()
	s.active[tx.id] = tx
	s.activeMu.Unlock()
}

func (s *Store) unregisterActive(tx *Txn) {
	s.activeMu.Lock()
	delete(s.active, tx.id)
	s.activeMu.Unlock()
}

// minActiveReadStamp returns the lowest read stamp among live transactions,
// or the current clock value if none are active. History entries at or
// above this stamp must never be pruned.
func (s *Store) minActiveReadStamp() uint64 {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	min := s.clock.readStamp()
	for _, tx := range s.active {
		if tx.readStamp < min {
			min = tx.readStamp
		}
	}
	return min
}

func (s *Store) currentTxn(goroutineID uint64) *Txn {
	s.curMu.Lock()
	defer s.curMu.Unlock()
	return s.current[goroutineID]
}

func (s *Store) setCurrent(goroutineID uint64, tx *Txn) {
	s.curMu.Lock()
	defer s.curMu.Unlock()
	if tx == nil {
		delete(s.current, goroutineID)
		return
	}
	s.current[goroutineID] = tx
}

func (s *Store) notifyWatchers(cells map[*cellState]struct{}) {
	s.watchers.notify(cells)
}

func (s *Store) recordContention(cs *cellState) {
	s.metrics.recordLockContention(cs.seq)
}
