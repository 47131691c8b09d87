package stm_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jekaa/stm"
)

// TestFlatNesting is scenario S6: entering a transaction, writing a = 1,
// then calling Atomically again inside it and writing a = 2 must not open a
// second, independent transaction -- the inner call joins the outer one.
func TestFlatNesting(t *testing.T) {
	s := newTestStore(t)
	a := stm.NewCell(s, 0)

	err := s.Atomically(func(tx *stm.Txn) error {
		a.Set(tx, 1)
		return s.Atomically(func(inner *stm.Txn) error {
			assert.Same(t, tx, inner, "nested Atomically must join the outer transaction")
			a.Set(inner, 2)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, a.Peek())
}

// TestConcurrentIncrements is scenario S1: 100 goroutines each increment a
// shared counter via Modify. The final value must be exactly 100 regardless
// of how many attempts were needed.
func TestConcurrentIncrements(t *testing.T) {
	s := newTestStore(t)
	x := stm.NewCell(s, 0)

	const n = 100
	var wg sync.WaitGroup
	var attempts atomic.Int64

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Atomically(func(tx *stm.Txn) error {
				attempts.Add(1)
				x.Modify(tx, func(v int) int { return v + 1 })
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, x.Peek())
	assert.GreaterOrEqual(t, attempts.Load(), int64(n))
}

// TestSkewedWrite is scenario S2: two transactions race to keep cats+dogs
// below 3. One observes the conflict and retries once.
func TestSkewedWrite(t *testing.T) {
	s := newTestStore(t)
	cats := stm.NewCell(s, 1)
	dogs := stm.NewCell(s, 1)

	var attempts atomic.Int64
	var wg sync.WaitGroup
	wg.Add(2)

	run := func(target *stm.Cell[int], delay time.Duration) {
		defer wg.Done()
		_ = s.Atomically(func(tx *stm.Txn) error {
			attempts.Add(1)
			sum := cats.Get(tx) + dogs.Get(tx)
			if sum < 3 {
				time.Sleep(delay)
				target.Set(tx, target.Get(tx)+1)
			}
			return nil
		})
	}

	go run(cats, 20*time.Millisecond)
	go run(dogs, 20*time.Millisecond)
	wg.Wait()

	assert.Equal(t, 3, cats.Peek()+dogs.Peek())
	assert.GreaterOrEqual(t, attempts.Load(), int64(3))
}

// TestUserErrorDoesNotRetry is part of the NoTransaction/UserException
// error-handling design: a non-nil error returned from the block aborts the
// attempt and propagates without retrying.
func TestUserErrorDoesNotRetry(t *testing.T) {
	s := newTestStore(t)
	x := stm.NewCell(s, 0)

	var attempts int
	sentinel := assert.AnError
	err := s.Atomically(func(tx *stm.Txn) error {
		attempts++
		x.Set(tx, 99)
		return sentinel
	})

	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, x.Peek(), "write from an aborted attempt must not be visible")
}

// TestUserPanicRollsBackAndPropagates mirrors TestUserErrorDoesNotRetry for
// the panic-based abort path.
func TestUserPanicRollsBackAndPropagates(t *testing.T) {
	s := newTestStore(t)
	x := stm.NewCell(s, 0)

	assert.Panics(t, func() {
		_ = s.Atomically(func(tx *stm.Txn) error {
			x.Set(tx, 7)
			panic("boom")
		})
	})
	assert.Equal(t, 0, x.Peek())
}
