package stm

import (
	"errors"
	"math/rand"
	"time"

	"github.com/jekaa/stm/internal/gid"
)

// Atomically runs fn as a single atomic, isolated transaction, retrying on
// optimistic-lock conflicts until it commits. If fn panics, Atomically runs
// the rollback side effects and re-raises the same panic value -- it never
// retries a user panic. If fn returns a non-nil error, Atomically treats it the same
// way (rollback side effects, no retry) and returns that error.
//
// Calling Atomically again on the same goroutine while already inside a
// transaction joins the outer transaction (flat nesting): fn runs against
// the existing *Txn and no new attempt, commit, or retry loop is started.
func (s *Store) Atomically(fn func(tx *Txn) error) error {
	g := gid.Current()

	if tx := s.currentTxn(g); tx != nil {
		return fn(tx)
	}

	for attempt := 0; ; attempt++ {
		tx := newTxn(s, s.nextTxnID())
		s.registerActive(tx)
		s.setCurrent(g, tx)

		err := func() error {
			defer func() {
				s.setCurrent(g, nil)
				s.unregisterActive(tx)
			}()
			return s.runAttempt(tx, fn)
		}()

		if err == nil {
			return nil
		}
		if errors.Is(err, errValidationFailed) {
			backoff(attempt)
			continue
		}
		return err
	}
}

// AtomicallyValue runs fn like Atomically, threading a typed result out of
// a successful commit.
func AtomicallyValue[R any](s *Store, fn func(tx *Txn) (R, error)) (R, error) {
	var result R
	err := s.Atomically(func(tx *Txn) error {
		v, ferr := fn(tx)
		if ferr != nil {
			return ferr
		}
		result = v
		return nil
	})
	return result, err
}

// IsInTransaction reports whether the calling goroutine is currently inside
// an Atomically call on s.
func (s *Store) IsInTransaction() bool {
	return s.currentTxn(gid.Current()) != nil
}

// runAttempt runs one attempt of fn against tx and then commits it,
// recovering any panic so the rollback side effects still run before it is
// re-raised. A failed commit is reported by returning errValidationFailed,
// not by panicking.
func (s *Store) runAttempt(tx *Txn, fn func(tx *Txn) error) (result error) {
	defer func() {
		if r := recover(); r != nil {
			tx.state.Store(uint32(txAborted))
			tx.runOnRollback()
			panic(r)
		}
	}()

	if ferr := fn(tx); ferr != nil {
		tx.state.Store(uint32(txAborted))
		tx.runOnRollback()
		return ferr
	}

	tx.state.Store(uint32(txCommitting))
	if cerr := s.commit(tx); cerr != nil {
		tx.state.Store(uint32(txAborted))
		tx.runOnRollback()
		return cerr
	}
	return nil
}

// backoff yields the goroutine with a small randomized delay between retry
// attempts: the retry loop is unbounded and progress is only guaranteed
// probabilistically, so attempts are spread out rather than hammered
// back-to-back.
func backoff(attempt int) {
	if attempt == 0 {
		return
	}
	n := attempt
	if n > 8 {
		n = 8
	}
	time.Sleep(time.Duration(rand.Intn(1<<n)) * time.Microsecond)
}
