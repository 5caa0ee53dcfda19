package stm

import (
	"io"
	"log/slog"
)

// config holds Runtime construction settings, built up by Option values —
// the same functional-options shape as the teacher's options.go.
type config struct {
	logger    *slog.Logger
	scheduler Scheduler
}

func defaultConfig() config {
	return config{
		logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
}

// Option configures a Runtime at construction time.
type Option func(*config)

// WithLogger installs a custom *slog.Logger, following the teacher's
// WithLogger(l *slog.Logger) option exactly.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithScheduler installs the Scheduler collaborator (spec.md §6). Required
// for any Runtime that will run a term capable of retrying; a Runtime
// constructed without one can still run non-blocking transactions (Die on
// an attempted retry — see coordinator.commit).
func WithScheduler(s Scheduler) Option {
	return func(c *config) { c.scheduler = s }
}
