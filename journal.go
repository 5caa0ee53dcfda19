package stm

// cellHandle is the type-erased view of a Ref that the journal and
// coordinator operate on. Every Ref[T] satisfies it regardless of T,
// letting a single journal hold entries for cells of differing element
// types — the combinator tree in term.go is itself generic-free at the
// journal boundary for the same reason.
type cellHandle interface {
	id64() uint64
	liveVersion() uint64
	wakeupReg() *wakeupRegistry
	publishAny(v any)
}

// journalEntry is spec.md §3's "journal entry": for each cell touched by a
// transaction, the tuple {cell, observed_version, tentative_value,
// was_written}.
type journalEntry struct {
	cell            cellHandle
	observedVersion uint64
	value           any
	written         bool
}

// journal is a per-attempt mapping from cell identity to journal entry,
// plus the read-only flag from spec.md §4.2. Created fresh for every
// transaction attempt and discarded on commit or abort — it is exclusively
// owned by the goroutine running that attempt and needs no locking of its
// own, mirroring the teacher's per-Tx write buffer in tx.go.
type journal struct {
	entries  map[uint64]*journalEntry
	order    []uint64 // insertion order, for deterministic wakeup registration and commit iteration
	readOnly bool
}

func newJournal() *journal {
	return &journal{
		entries:  make(map[uint64]*journalEntry),
		readOnly: true,
	}
}

// add installs a new entry for a cell not yet touched this attempt. Panics
// if the cell already has an entry — spec.md §3 invariant: "at most one
// entry per cell in a journal"; callers (unsafeGet/unsafeSet) always check
// lookup first, so this is a programmer error, not a runtime condition.
func (j *journal) add(id uint64, e journalEntry) {
	if _, exists := j.entries[id]; exists {
		panic("stm: journal: duplicate entry for cell")
	}
	entry := e
	j.entries[id] = &entry
	j.order = append(j.order, id)
	if e.written {
		j.readOnly = false
	}
}

// update replaces an existing entry in place (used by unsafeSet on a cell
// already read this attempt).
func (j *journal) update(id uint64, e journalEntry) {
	entry, ok := j.entries[id]
	if !ok {
		panic("stm: journal: update of untouched cell")
	}
	*entry = e
	if e.written {
		j.readOnly = false
	}
}

func (j *journal) lookup(id uint64) (*journalEntry, bool) {
	e, ok := j.entries[id]
	return e, ok
}

// entriesInOrder returns journal entries in the order cells were first touched,
// for deterministic iteration during validation, wakeup registration, and
// publish.
func (j *journal) entriesInOrder() []*journalEntry {
	out := make([]*journalEntry, 0, len(j.order))
	for _, id := range j.order {
		out = append(out, j.entries[id])
	}
	return out
}

func (j *journal) isReadOnly() bool { return j.readOnly }

// isInvalid is spec.md §4.2's sole validation predicate: true iff any
// observed entry's observed_version differs from the cell's current live
// version.
func (j *journal) isInvalid() bool {
	for _, e := range j.entries {
		if e.cell.liveVersion() != e.observedVersion {
			return true
		}
	}
	return false
}

// mergeReadsFrom copies only the *unwritten* entries of src into j — used
// by OrTry (executor.go) to keep the parent transaction observant of cells
// a retried child branch read, per spec.md §4.3: "merge only the reads of
// the child journal into the parent journal". Entries already present in j
// are left untouched (the parent's own observation wins).
func (j *journal) mergeReadsFrom(src *journal) {
	for _, id := range src.order {
		e := src.entries[id]
		if e.written {
			continue
		}
		if _, exists := j.entries[id]; exists {
			continue
		}
		j.add(id, *e)
	}
}

// adopt replaces j's contents wholesale with src's — used by OrTry when the
// child branch reaches Success/Failure/Die, per spec.md §4.3: "adopt the
// child journal wholesale".
func (j *journal) adopt(src *journal) {
	j.entries = src.entries
	j.order = src.order
	j.readOnly = src.readOnly
}
