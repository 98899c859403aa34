// Package segment implements the immutable, fully-memory-resident on-disk
// segments a memtable flushes into, and the newest-first store that
// layers them for lookup. Grounded on ChinmayNoob-lsm-go/sstable/sstable.go's
// open/build shape, trading its sparse index + on-disk seeks for a plain
// append-only record stream: every segment's key -> *value.Value map (nil
// value = tombstone) is decoded once at load time and kept resident, so
// point lookups never touch the disk again.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kegdb/kegdb/internal/bloom"
	"github.com/kegdb/kegdb/internal/kegerr"
	"github.com/kegdb/kegdb/internal/metrics"
	"github.com/kegdb/kegdb/internal/record"
	"github.com/kegdb/kegdb/internal/value"
)

const filePattern = "%05d.bin"

// Segment is one immutable flush, fully resident in memory. filter guards
// the entries map against needless lookups for keys this segment never
// saw: MaybeContains is checked first, and only a true result falls
// through to the map read.
type Segment struct {
	Ordinal int
	Path    string
	entries map[string]*value.Value
	filter  *bloom.Filter
}

// Get looks up key within this segment alone. found reports whether this
// segment has an opinion (live or tombstone) on key.
func (s *Segment) Get(key string) (v *value.Value, found, tombstone bool) {
	if s.filter != nil && !s.filter.MaybeContains([]byte(key)) {
		return nil, false, false
	}
	val, ok := s.entries[key]
	if !ok {
		return nil, false, false
	}
	if val == nil {
		return nil, true, true
	}
	return val, true, false
}

func buildFilter(entries map[string]*value.Value) *bloom.Filter {
	f := bloom.NewForKeys(len(entries), 10, 7)
	for k := range entries {
		f.Add([]byte(k))
	}
	return f
}

// Store layers segments newest-first: segments[0] is the most recently
// flushed, and a key's first appearance (front to back) wins. mu guards
// segments itself: Open's server runs one goroutine per connection, all
// sharing this Store, so Get's reads and Flush's read-modify-write of the
// slice must be synchronized the same way Memtable synchronizes its tree.
type Store struct {
	mu       sync.RWMutex
	dir      string
	segments []*Segment
	met      *metrics.Registry
	poisoned atomic.Bool
}

// Open discovers existing segments under dir (ascending by ordinal on
// disk, but stored newest-first in memory) and returns a ready Store. met
// may be nil in tests.
func Open(dir string, met *metrics.Registry) (*Store, error) {
	segs, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, segments: segs, met: met}, nil
}

// poisonCheck returns a PoisonedLock error if an earlier writer panicked
// while holding this store's lock.
func (s *Store) poisonCheck() error {
	if s.poisoned.Load() {
		return kegerr.PoisonedLock("segment: lock poisoned by a previous panic")
	}
	return nil
}

// poisonOnPanic is deferred by Flush. See Memtable.poisonOnPanic for the
// recover-then-repanic shape this mirrors.
func (s *Store) poisonOnPanic() {
	if r := recover(); r != nil {
		s.poisoned.Store(true)
		panic(r)
	}
}

// Get walks segments front-to-back (newest first); the first segment with
// an opinion on key wins, since older segments' entries for the same key
// are masked by construction (spec.md §4.8).
func (s *Store) Get(key string) (v *value.Value, found, tombstone bool, err error) {
	if err := s.poisonCheck(); err != nil {
		return nil, false, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, seg := range s.segments {
		if v, found, tombstone := seg.Get(key); found {
			return v, found, tombstone, nil
		}
	}
	return nil, false, false, nil
}

// Flush writes records out as a new newest segment, in ascending key order
// (the order Memtable.Flush already returns them in). The segment file
// is synced and closed before it is linked into the store under the write
// lock, so a reader never observes a partially-written segment.
func (s *Store) Flush(records []record.Record) (*Segment, error) {
	if err := s.poisonCheck(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.poisonOnPanic()

	ordinal := len(s.segments)
	for _, seg := range s.segments {
		if seg.Ordinal >= ordinal {
			ordinal = seg.Ordinal + 1
		}
	}
	name := fmt.Sprintf(filePattern, ordinal)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, kegerr.IO(err, "segment: create %s", path)
	}

	entries := make(map[string]*value.Value, len(records))
	for _, r := range records {
		framed := record.EncodeFramed(r.Key, r.Value)
		if _, err := f.Write(framed); err != nil {
			_ = f.Close()
			return nil, kegerr.IO(err, "segment: write %s", path)
		}
		entries[r.Key] = r.Value
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, kegerr.IO(err, "segment: sync %s", path)
	}
	if err := f.Close(); err != nil {
		return nil, kegerr.IO(err, "segment: close %s", path)
	}

	seg := &Segment{Ordinal: ordinal, Path: path, entries: entries, filter: buildFilter(entries)}
	s.segments = append([]*Segment{seg}, s.segments...)
	if s.met != nil {
		s.met.FlushTotal.Inc()
	}
	return seg, nil
}

// Discover lists dir's segment files, loads each into memory, and returns
// them newest-first (highest ordinal first).
func Discover(dir string) ([]*Segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kegerr.IO(err, "segment: mkdir %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, kegerr.IO(err, "segment: read dir %s", dir)
	}

	var ordinals []int
	byOrdinal := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
			continue
		}
		ord, ok := parseOrdinal(e.Name())
		if !ok {
			continue
		}
		ordinals = append(ordinals, ord)
		byOrdinal[ord] = filepath.Join(dir, e.Name())
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ordinals)))

	segs := make([]*Segment, 0, len(ordinals))
	for _, ord := range ordinals {
		seg, err := load(ord, byOrdinal[ord])
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func parseOrdinal(name string) (int, bool) {
	base := strings.TrimSuffix(name, ".bin")
	n, err := strconv.Atoi(base)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// load decodes a segment file back-to-front, the same way WAL recovery
// does, keeping the newest entry per key with tombstones included (as nil
// values): an older segment's live value for the same key must remain
// masked.
func load(ordinal int, path string) (*Segment, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, kegerr.IO(err, "segment: read %s", path)
	}

	entries := make(map[string]*value.Value)
	idx := len(buf)
	for idx > 0 {
		rec, newIdx, err := record.DecodeTail(buf, idx)
		if err != nil {
			return nil, kegerr.MalformedRecord(err, "segment: corrupt record in %s", path)
		}
		idx = newIdx
		if _, dup := entries[rec.Key]; !dup {
			entries[rec.Key] = rec.Value
		}
	}
	return &Segment{Ordinal: ordinal, Path: path, entries: entries, filter: buildFilter(entries)}, nil
}
