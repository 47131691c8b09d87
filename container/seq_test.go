package container_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jekaa/stm"
	"github.com/jekaa/stm/container"
)

func TestSeqAppendAndAt(t *testing.T) {
	s := newTestStore(t)
	q := container.NewSeq[string](s)

	err := s.Atomically(func(tx *stm.Txn) error {
		q.Append(tx, "a")
		q.Append(tx, "b")
		q.Append(tx, "c")
		return nil
	})
	require.NoError(t, err)

	err = s.Atomically(func(tx *stm.Txn) error {
		assert.Equal(t, 3, q.Len(tx))
		assert.Equal(t, "a", q.At(tx, 0))
		assert.Equal(t, "c", q.At(tx, 2))

		q.Set(tx, 1, "z")
		assert.Equal(t, "z", q.At(tx, 1))
		return nil
	})
	require.NoError(t, err)
}

func TestSeqSliceIsACopy(t *testing.T) {
	s := newTestStore(t)
	q := container.NewSeq[int](s)

	require.NoError(t, s.Atomically(func(tx *stm.Txn) error {
		q.Append(tx, 1)
		q.Append(tx, 2)
		return nil
	}))

	var snapshot []int
	require.NoError(t, s.Atomically(func(tx *stm.Txn) error {
		snapshot = q.Slice(tx)
		return nil
	}))
	snapshot[0] = 999

	require.NoError(t, s.Atomically(func(tx *stm.Txn) error {
		assert.Equal(t, 1, q.At(tx, 0), "mutating a returned slice must not affect the Seq")
		return nil
	}))
}

func TestSeqAppendCommuteDoesNotConflict(t *testing.T) {
	s := newTestStore(t)
	q := container.NewSeq[int](s)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Atomically(func(tx *stm.Txn) error {
				q.AppendCommute(tx, i)
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, s.Atomically(func(tx *stm.Txn) error {
		assert.Equal(t, n, q.Len(tx))
		return nil
	}))
}
