package stm

import "sync/atomic"

// Stats holds monotonic counters for commit/retry/restart activity,
// supplementing spec.md with the kind of lightweight observability the
// teacher's map.go exposes via VersionCount() for its own tests. No new
// dependency: plain atomics, read via Snapshot.
type Stats struct {
	commits      atomic.Int64
	restarts     atomic.Int64
	parks        atomic.Int64
	cellsWritten atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats, safe to read without
// racing further updates.
type StatsSnapshot struct {
	Commits      int64
	Restarts     int64
	Parks        int64
	CellsWritten int64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Commits:      s.commits.Load(),
		Restarts:     s.restarts.Load(),
		Parks:        s.parks.Load(),
		CellsWritten: s.cellsWritten.Load(),
	}
}
