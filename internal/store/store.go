// Package store orchestrates recovery and the flush policy: it owns the
// memtable and the segment store side by side, recovers both on Open, and
// fixes the lock order at memtable before segments. The flush path is the
// one place both locks are held together (the segment store's nested
// inside the memtable's); the read path takes the memtable's read lock
// and releases it before taking the segment store's.
package store

import (
	"path/filepath"

	"github.com/kegdb/kegdb/internal/config"
	"github.com/kegdb/kegdb/internal/memtable"
	"github.com/kegdb/kegdb/internal/metrics"
	"github.com/kegdb/kegdb/internal/record"
	"github.com/kegdb/kegdb/internal/segment"
	"github.com/kegdb/kegdb/internal/value"
)

// defaultFlushThreshold mirrors spec.md §4.9's fixed "> 10 records"
// trigger; Store.opts.FlushThreshold overrides it.
const defaultFlushThreshold = config.DefaultFlushThreshold

// Store is the recovered, ready-to-serve storage core: a memtable and a
// segment store layered for lookup, plus the policy that flushes one into
// the other.
type Store struct {
	mem  *memtable.Memtable
	segs *segment.Store
	opts config.Options
	met  *metrics.Registry
}

// Open recovers the WAL into a memtable and discovers existing segments,
// wiring both to met (which may be nil). This is the recovery
// orchestration spec.md §4.6 describes: WAL replay populates the
// memtable; segments load newest-first without touching the WAL.
func Open(opts config.Options, met *metrics.Registry) (*Store, error) {
	walPath := filepath.Join(opts.DataDir, "wal", "wal.bin")
	mem, err := memtable.Open(walPath, opts.SyncOnWrite, met)
	if err != nil {
		return nil, err
	}

	segDir := filepath.Join(opts.DataDir, "sstable")
	segs, err := segment.Open(segDir, met)
	if err != nil {
		return nil, err
	}

	return &Store{mem: mem, segs: segs, opts: opts, met: met}, nil
}

// Put durably writes key=v, then runs the flush policy: if the memtable
// now holds more than the configured threshold, it flushes to a new
// segment and truncates the memtable/WAL. The flush takes the memtable's
// write lock afresh after the write has released it, and holds it across
// the segment write and the clear (the fixed memtable-then-segments
// order).
func (s *Store) Put(key string, v *value.Value) error {
	if err := s.mem.Put(key, v); err != nil {
		return err
	}
	return s.maybeFlush()
}

// Delete durably tombstones key, then runs the same flush policy as Put.
func (s *Store) Delete(key string) error {
	if err := s.mem.Delete(key); err != nil {
		return err
	}
	return s.maybeFlush()
}

// maybeFlush delegates the threshold check, record snapshot, segment
// write, and memtable clear to Memtable.Flush, which holds the memtable's
// write lock across the entire sequence. The segment store's own Flush
// runs from inside the onFlush callback, so its lock nests inside the
// memtable's lock, preserving the fixed memtable-then-segments order.
// Previously this composed Len/Records/Clear as three separately-locked
// calls, which left a window between the Records snapshot and the Clear
// where a concurrent Put/Delete from another connection could land and
// then be silently discarded by the unconditional Clear; holding one lock
// across the whole sequence closes that window.
func (s *Store) maybeFlush() error {
	threshold := s.opts.FlushThreshold
	if threshold <= 0 {
		threshold = defaultFlushThreshold
	}
	_, err := s.mem.Flush(threshold, func(records []record.Record) error {
		_, err := s.segs.Flush(records)
		return err
	})
	return err
}

// Get resolves key through the lookup pipeline: memtable first (its
// three-valued result short-circuits segment lookup entirely, tombstone
// included), then the segment store. err surfaces a poisoned lock from
// either layer.
func (s *Store) Get(key string) (v *value.Value, found bool, err error) {
	val, memFound, tombstone, err := s.mem.Get(key)
	if err != nil {
		return nil, false, err
	}
	if memFound {
		if tombstone {
			return nil, false, nil
		}
		return val, true, nil
	}

	val, segFound, tombstone, err := s.segs.Get(key)
	if err != nil {
		return nil, false, err
	}
	if !segFound || tombstone {
		return nil, false, nil
	}
	return val, true, nil
}

// LiveCount reports the memtable's live (non-tombstone) entry count, the
// figure `stats` reports.
func (s *Store) LiveCount() (int, error) {
	records, err := s.mem.Records()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range records {
		if !r.IsTombstone() {
			n++
		}
	}
	return n, nil
}

// Close closes the memtable's WAL handle.
func (s *Store) Close() error {
	return s.mem.Close()
}
