// Package memtable implements the in-memory, write-ahead-logged mutation
// buffer: an AVL tree of keys to values (or tombstones), backed by a wal.WAL
// so every mutation survives a crash before it is acknowledged.
package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/kegdb/kegdb/internal/avltree"
	"github.com/kegdb/kegdb/internal/kegerr"
	"github.com/kegdb/kegdb/internal/metrics"
	"github.com/kegdb/kegdb/internal/record"
	"github.com/kegdb/kegdb/internal/value"
	"github.com/kegdb/kegdb/internal/wal"
)

// Memtable is the mutable front of the store. A nil *value.Value held for a
// key is a tombstone: it masks any older value for that key in the segment
// store below without deleting anything on disk itself.
type Memtable struct {
	mu       sync.RWMutex
	tree     *avltree.Tree[string, *value.Value]
	log      *wal.WAL
	met      *metrics.Registry
	poisoned atomic.Bool
}

// Open recovers a memtable from its WAL at path (creating it if absent) and
// wires it to met for live-item accounting. met may be nil in tests.
func Open(path string, syncOnWrite bool, met *metrics.Registry) (*Memtable, error) {
	recs, err := wal.Recover(path)
	if err != nil {
		return nil, err
	}
	log, err := wal.Open(path, syncOnWrite)
	if err != nil {
		return nil, err
	}

	tree := avltree.New[string, *value.Value]()
	for _, r := range recs {
		tree.Insert(r.Key, r.Value)
	}

	m := &Memtable{tree: tree, log: log, met: met}
	m.reportLiveCount()
	return m, nil
}

// poisonCheck returns a PoisonedLock error if an earlier writer panicked
// while holding this memtable's lock. Every exported method except Close
// checks this before acquiring the lock itself.
func (m *Memtable) poisonCheck() error {
	if m.poisoned.Load() {
		return kegerr.PoisonedLock("memtable: lock poisoned by a previous panic")
	}
	return nil
}

// poisonOnPanic is deferred by every method that holds the write lock
// (Put, Delete, Clear, Flush). If the
// method is unwinding from a panic, it marks the memtable permanently
// poisoned for all subsequent callers (readers and writers alike) and
// then re-panics, preserving the original panic for whatever recover()
// sits above this call (e.g. the per-connection recover in
// internal/server) while still releasing the lock via the Unlock defer
// beneath it.
func (m *Memtable) poisonOnPanic() {
	if r := recover(); r != nil {
		m.poisoned.Store(true)
		panic(r)
	}
}

// Put durably appends v for key to the WAL, then upserts the in-memory
// tree. v must not be nil; use Delete for tombstones.
func (m *Memtable) Put(key string, v *value.Value) error {
	if v == nil {
		return kegerr.Protocol("memtable: Put requires a non-nil value for key %q", key)
	}
	if err := m.poisonCheck(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.poisonOnPanic()

	if err := m.log.Append(key, v); err != nil {
		return err
	}
	m.tree.Insert(key, v)
	m.reportLiveCountLocked()
	return nil
}

// Delete durably appends a tombstone for key, then upserts the in-memory
// tree to mask any older value (in this memtable or an older segment).
func (m *Memtable) Delete(key string) error {
	if err := m.poisonCheck(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.poisonOnPanic()

	if err := m.log.Append(key, nil); err != nil {
		return err
	}
	m.tree.Insert(key, nil)
	m.reportLiveCountLocked()
	return nil
}

// Get looks up key in the memtable only. found reports whether the
// memtable holds any entry (live or tombstone) for key; tombstone reports
// whether that entry is a deletion marker. Callers must check found before
// falling through to the segment store: found == false means "no opinion
// here", not "absent".
func (m *Memtable) Get(key string) (v *value.Value, found bool, tombstone bool, err error) {
	if err := m.poisonCheck(); err != nil {
		return nil, false, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	val, ok := m.tree.Get(key)
	if !ok {
		return nil, false, false, nil
	}
	if val == nil {
		return nil, true, true, nil
	}
	return val, true, false, nil
}

// Len reports the number of entries (live and tombstone) currently held.
func (m *Memtable) Len() (int, error) {
	if err := m.poisonCheck(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len(), nil
}

// Records copies the memtable's entries into an ascending-by-key slice of
// records suitable for writing out as a segment, and does NOT clear the
// tree.
func (m *Memtable) Records() ([]record.Record, error) {
	if err := m.poisonCheck(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]record.Record, 0, m.tree.Len())
	for k, v := range m.tree.All() {
		out = append(out, record.Record{Key: k, Value: v})
	}
	return out, nil
}

// Clear truncates the WAL and discards the in-memory tree, the second half
// of a flush once the resulting segment is durably on disk.
func (m *Memtable) Clear() error {
	if err := m.poisonCheck(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.poisonOnPanic()

	if err := m.log.Truncate(); err != nil {
		return err
	}
	m.tree = avltree.New[string, *value.Value]()
	m.reportLiveCountLocked()
	return nil
}

// Flush implements spec.md §4.9's flush policy as a single atomic step:
// while holding the memtable's write lock, it checks whether the record
// count exceeds threshold, and if so snapshots every record, hands that
// snapshot to onFlush (which is expected to write it out as a segment),
// and only then truncates the WAL and clears the tree — all under the one
// lock hold. Composing this from separate Len/Records/Clear calls from
// outside would let a concurrent Put/Delete land between the snapshot and
// the clear and be silently discarded by it; holding the lock across
// onFlush closes that window. ok reports whether a flush actually ran.
func (m *Memtable) Flush(threshold int, onFlush func([]record.Record) error) (ok bool, err error) {
	if err := m.poisonCheck(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.poisonOnPanic()

	if m.tree.Len() <= threshold {
		return false, nil
	}

	records := make([]record.Record, 0, m.tree.Len())
	for k, v := range m.tree.All() {
		records = append(records, record.Record{Key: k, Value: v})
	}

	if err := onFlush(records); err != nil {
		// Segment write failed; memtable is untouched, next write retries.
		return false, err
	}
	if err := m.log.Truncate(); err != nil {
		return false, err
	}
	m.tree = avltree.New[string, *value.Value]()
	m.reportLiveCountLocked()
	return true, nil
}

// Close closes the underlying WAL file.
func (m *Memtable) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log.Close()
}

func (m *Memtable) reportLiveCount() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.reportLiveCountLocked()
}

func (m *Memtable) reportLiveCountLocked() {
	if m.met == nil {
		return
	}
	live := 0
	for _, v := range m.tree.All() {
		if v != nil {
			live++
		}
	}
	m.met.CurrItems.Set(float64(live))
}
