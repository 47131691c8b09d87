// Package container provides derived transactional containers built on top
// of the stm package's core primitives: an ordered keyed mapping (Dict) and
// an indexed sequence (Seq). Both are external collaborators in the sense
// of the stm package doc -- each holds its whole state in one cell allocated
// at construction, performs its internal structural mutations inside the
// caller's transaction, and (for bulk operations) participates in the
// commute optimization.
package container

import (
	"github.com/google/btree"

	"github.com/jekaa/stm"
)

const dictDegree = 32

// dictItem adapts a comparable key/value pair to btree.Item.
type dictItem[K cmpOrdered, V any] struct {
	key K
	val V
}

func (a *dictItem[K, V]) Less(other btree.Item) bool {
	return a.key < other.(*dictItem[K, V]).key
}

// cmpOrdered mirrors the standard library's cmp.Ordered; it is restated
// here rather than imported so Dict's constraint stays self-contained.
type cmpOrdered interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64 | ~string
}

// Dict is an ordered keyed mapping composed of a single transactional cell
// holding a copy-on-write B-tree. Every mutation clones the tree (O(log n)
// amortized, thanks to btree.BTree.Clone's copy-on-write nodes) before
// writing the clone back into the cell, so concurrent readers never see a
// partially-mutated tree.
type Dict[K cmpOrdered, V any] struct {
	tree *stm.Cell[*btree.BTree]
}

// NewDict allocates an empty Dict on s.
func NewDict[K cmpOrdered, V any](s *stm.Store) *Dict[K, V] {
	return &Dict[K, V]{tree: stm.NewCell(s, btree.New(dictDegree))}
}

// Get returns the value stored at key, if any.
func (d *Dict[K, V]) Get(tx *stm.Txn, key K) (V, bool) {
	item := d.tree.Get(tx).Get(&dictItem[K, V]{key: key})
	if item == nil {
		var zero V
		return zero, false
	}
	return item.(*dictItem[K, V]).val, true
}

// Set inserts or overwrites the value at key.
func (d *Dict[K, V]) Set(tx *stm.Txn, key K, val V) {
	clone := d.tree.Get(tx).Clone()
	clone.ReplaceOrInsert(&dictItem[K, V]{key: key, val: val})
	d.tree.Set(tx, clone)
}

// Delete removes key, if present.
func (d *Dict[K, V]) Delete(tx *stm.Txn, key K) {
	clone := d.tree.Get(tx).Clone()
	clone.Delete(&dictItem[K, V]{key: key})
	d.tree.Set(tx, clone)
}

// Len returns the number of entries.
func (d *Dict[K, V]) Len(tx *stm.Txn) int {
	return d.tree.Get(tx).Len()
}

// Ascend calls fn for every entry in ascending key order, stopping early if
// fn returns false.
func (d *Dict[K, V]) Ascend(tx *stm.Txn, fn func(key K, val V) bool) {
	d.tree.Get(tx).Ascend(func(i btree.Item) bool {
		it := i.(*dictItem[K, V])
		return fn(it.key, it.val)
	})
}

// Merge bulk-inserts kvs via Cell.Commute rather than Cell.Set, so that
// concurrent Merge calls never fail validation against each other -- each
// is applied directly against the live tree at commit time, per the
// Commute Optimization. A Merge whose commit finds the tree's write lock
// held by another commit still retries. ReplaceOrInsert is idempotent per key, so
// applying the same kvs map twice (e.g. after a retry caused by touching
// the dict some other way first) leaves the same entries in place.
func (d *Dict[K, V]) Merge(tx *stm.Txn, kvs map[K]V) {
	d.tree.Commute(tx, func(t *btree.BTree) *btree.BTree {
		clone := t.Clone()
		for k, v := range kvs {
			clone.ReplaceOrInsert(&dictItem[K, V]{key: k, val: v})
		}
		return clone
	})
}
