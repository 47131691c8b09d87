package stm

import (
	"context"
	"time"
)

// runGC periodically prunes history entries that no live transaction can
// possibly need, generalizing the teacher's collectVersions from "GC the
// whole MVCCMap's version list" to "GC every Cell's own history
// independently", keyed off the same store-wide watermark idea.
func (s *Store) runGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepHistory()
		}
	}
}

func (s *Store) sweepHistory() {
	keep := s.minActiveReadStamp()
	s.forEachCell(func(cs *cellState) {
		cs.pruneBefore(keep)
	})
}
