package stm

import (
	"log/slog"
	"time"

	"go.uber.org/zap"

	"github.com/jekaa/stm/internal/zapslog"
)

type config struct {
	gcInterval         time.Duration
	watcherEvalWorkers int
	logger             *slog.Logger
}

func defaultConfig() config {
	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	return config{
		gcInterval:         5 * time.Second,
		watcherEvalWorkers: 4,
		logger:             slog.New(zapslog.New(zl)),
	}
}

// Option configures a Store created by New.
type Option func(*config)

// WithGCInterval sets how often the history-pruning sweep runs, following
// the teacher's WithGCInterval.
func WithGCInterval(d time.Duration) Option {
	return func(c *config) { c.gcInterval = d }
}

// WithWatcherWorkers sets how many goroutines re-evaluate conditional
// watchers concurrently.
func WithWatcherWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.watcherEvalWorkers = n
		}
	}
}

// WithLogger installs a custom *slog.Logger, following the teacher's
// WithLogger. Without it, the Store logs through a zap production logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
