package stm

import "sync/atomic"

// clock is the process-wide (per Store) monotonically increasing commit
// stamp generator, split out of the teacher's MVCCMap.nextVersionID field so
// a Store doesn't reach for a package-level global.
type clock struct {
	value atomic.Uint64
}

// readStamp returns the current clock value without advancing it.
func (c *clock) readStamp() uint64 {
	return c.value.Load()
}

// tick atomically advances the clock and returns the new value. Every
// successful commit calls this exactly once, which is what guarantees a
// strictly increasing total order across commits.
func (c *clock) tick() uint64 {
	return c.value.Add(1)
}
