package stm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// watcher is the internal representation of a registered conditional. The
// exported handle is Watcher.
type watcher struct {
	predicate func(tx *Txn) bool
	reactor   func(tx *Txn) bool

	depsMu sync.Mutex
	deps   map[*cellState]struct{}

	deregistered atomic.Bool
}

// Watcher is the handle returned by Store.Conditional. Stop deregisters it
// early; otherwise it persists until its reactor returns false.
type Watcher struct {
	w    *watcher
	reg  *watcherRegistry
}

// Stop deregisters the watcher. It is idempotent.
func (h *Watcher) Stop() {
	h.reg.deregister(h.w)
}

// watcherRegistry owns the global set of live watchers (for cleanup) and
// dispatches re-evaluation when a commit touches a watcher's dependencies.
// Concurrent notifications for the same watcher are collapsed with
// singleflight: a notification that arrives while an evaluation of that
// watcher is in flight joins it instead of starting another one.
type watcherRegistry struct {
	store *Store

	allMu sync.Mutex
	all   map[*watcher]struct{}

	sf  singleflight.Group
	sem chan struct{}
}

func newWatcherRegistry(s *Store, workers int) *watcherRegistry {
	return &watcherRegistry{
		store: s,
		all:   make(map[*watcher]struct{}),
		sem:   make(chan struct{}, workers),
	}
}

// run supervises the registry for the lifetime of ctx. Evaluations
// themselves run on their own goroutines (bounded by sem), so run just
// waits for shutdown and lets Store.Close's errgroup join it.
func (r *watcherRegistry) run(ctx context.Context) {
	<-ctx.Done()
}

func watcherKey(w *watcher) string {
	return fmt.Sprintf("%p", w)
}

// Conditional runs predicate inside a fresh transaction, registers it on
// every cell that predicate read, and -- if predicate is already true --
// runs reactor immediately. Whenever a later commit touches one of the
// watcher's dependency cells, the registry re-evaluates it: rebuilds the
// dependency set, and invokes reactor again if predicate now holds. If
// reactor returns false, the watcher is deregistered.
func (s *Store) Conditional(predicate func(tx *Txn) bool, reactor func(tx *Txn) bool) *Watcher {
	w := &watcher{predicate: predicate, reactor: reactor}
	s.watchers.register(w)
	s.watchers.evaluate(w)
	return &Watcher{w: w, reg: s.watchers}
}

func (r *watcherRegistry) register(w *watcher) {
	r.allMu.Lock()
	r.all[w] = struct{}{}
	r.allMu.Unlock()
}

func (r *watcherRegistry) deregister(w *watcher) {
	if !w.deregistered.CompareAndSwap(false, true) {
		return
	}
	r.allMu.Lock()
	delete(r.all, w)
	r.allMu.Unlock()

	w.depsMu.Lock()
	deps := w.deps
	w.deps = nil
	w.depsMu.Unlock()
	for cs := range deps {
		cs.removeWatcher(w)
	}
}

// notify schedules re-evaluation of every watcher that depends on any cell
// in cells. Called from the commit coordinator's Phase F, after locks are
// released, so evaluation never runs while holding a write lock.
func (r *watcherRegistry) notify(cells map[*cellState]struct{}) {
	affected := make(map[*watcher]struct{})
	for cs := range cells {
		cs.wmu.Lock()
		for w := range cs.watchers {
			affected[w] = struct{}{}
		}
		cs.wmu.Unlock()
	}

	for w := range affected {
		w := w
		if w.deregistered.Load() {
			continue
		}
		r.sem <- struct{}{}
		go func() {
			defer func() { <-r.sem }()
			_, _, _ = r.sf.Do(watcherKey(w), func() (any, error) {
				r.evaluate(w)
				return nil, nil
			})
		}()
	}
}

// evaluate re-runs predicate, updates the watcher's cell registrations, and
// -- if predicate holds -- runs reactor. A panic in either is a
// WatcherException: it deregisters the watcher and is logged, without
// affecting whatever transaction happened to trigger the re-evaluation.
func (r *watcherRegistry) evaluate(w *watcher) {
	if w.deregistered.Load() {
		return
	}

	var predicateHolds bool
	newDeps := make(map[*cellState]struct{})

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.store.logger.Warn("watcher predicate panicked, deregistering", "panic", rec)
				r.deregister(w)
			}
		}()
		_ = r.store.Atomically(func(tx *Txn) error {
			predicateHolds = w.predicate(tx)
			for cs := range tx.reads {
				newDeps[cs] = struct{}{}
			}
			return nil
		})
	}()

	if w.deregistered.Load() {
		return
	}
	r.rebind(w, newDeps)

	if !predicateHolds {
		return
	}

	var keepGoing bool
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.store.logger.Warn("watcher reactor panicked, deregistering", "panic", rec)
				r.deregister(w)
				keepGoing = false
			}
		}()
		_ = r.store.Atomically(func(tx *Txn) error {
			// Re-check the predicate in the reactor's own transaction so
			// the reactor only ever runs against a snapshot where it holds.
			if !w.predicate(tx) {
				keepGoing = true
				return nil
			}
			keepGoing = w.reactor(tx)
			return nil
		})
	}()

	if !keepGoing {
		r.deregister(w)
	}
}

func (r *watcherRegistry) rebind(w *watcher, newDeps map[*cellState]struct{}) {
	w.depsMu.Lock()
	old := w.deps
	w.deps = newDeps
	w.depsMu.Unlock()

	for cs := range old {
		if _, ok := newDeps[cs]; !ok {
			cs.removeWatcher(w)
		}
	}
	for cs := range newDeps {
		if _, ok := old[cs]; !ok {
			cs.addWatcher(w)
		}
	}
}
