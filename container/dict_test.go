package container_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jekaa/stm"
	"github.com/jekaa/stm/container"
)

func newTestStore(t *testing.T) *stm.Store {
	t.Helper()
	s := stm.New(context.Background())
	t.Cleanup(s.Close)
	return s
}

func TestDictGetSetDelete(t *testing.T) {
	s := newTestStore(t)
	d := container.NewDict[string, int](s)

	err := s.Atomically(func(tx *stm.Txn) error {
		d.Set(tx, "a", 1)
		d.Set(tx, "b", 2)
		return nil
	})
	require.NoError(t, err)

	err = s.Atomically(func(tx *stm.Txn) error {
		v, ok := d.Get(tx, "a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)

		d.Delete(tx, "a")
		_, ok = d.Get(tx, "a")
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestDictAscendOrder(t *testing.T) {
	s := newTestStore(t)
	d := container.NewDict[int, string](s)

	err := s.Atomically(func(tx *stm.Txn) error {
		for _, k := range []int{5, 1, 3, 2, 4} {
			d.Set(tx, k, "v")
		}
		return nil
	})
	require.NoError(t, err)

	var keys []int
	err = s.Atomically(func(tx *stm.Txn) error {
		d.Ascend(tx, func(k int, _ string) bool {
			keys = append(keys, k)
			return true
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, keys)
}

func TestDictMergeDoesNotConflict(t *testing.T) {
	s := newTestStore(t)
	d := container.NewDict[string, int](s)

	const n = 50
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			errs <- s.Atomically(func(tx *stm.Txn) error {
				d.Merge(tx, map[string]int{
					"k": i,
				})
				return nil
			})
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	err := s.Atomically(func(tx *stm.Txn) error {
		assert.Equal(t, 1, d.Len(tx))
		return nil
	})
	require.NoError(t, err)
}
