// Package wal implements the write-ahead log: an append-only file of
// back-to-front-framed records (internal/record.EncodeFramed) that makes
// every memtable mutation crash-consistent. The WAL never rewrites; it
// only appends and truncates.
package wal

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/kegdb/kegdb/internal/kegerr"
	"github.com/kegdb/kegdb/internal/record"
	"github.com/kegdb/kegdb/internal/value"
)

// WAL is an append-only record log backed by a single file.
type WAL struct {
	path        string
	f           *os.File
	w           *bufio.Writer
	syncOnWrite bool
}

// Open opens (creating it and its parent directory if necessary) the WAL
// file at path for append-only
// writing. syncOnWrite controls whether every Append calls fsync; kegdb
// fixes this to "every append" rather than a timer for deterministic
// durability (spec.md §4.4 permits either).
func Open(path string, syncOnWrite bool) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, kegerr.IO(err, "wal: mkdir %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, kegerr.IO(err, "wal: open %s", path)
	}
	return &WAL{
		path:        path,
		f:           f,
		w:           bufio.NewWriter(f),
		syncOnWrite: syncOnWrite,
	}, nil
}

// Append encodes (key, v) as a framed record and writes it durably.
// v == nil appends a tombstone. On failure the caller must not mutate its
// in-memory state — the record is not guaranteed to be on disk.
func (w *WAL) Append(key string, v *value.Value) error {
	framed := record.EncodeFramed(key, v)
	if _, err := w.w.Write(framed); err != nil {
		return kegerr.IO(err, "wal: write record for key %q", key)
	}
	if err := w.w.Flush(); err != nil {
		return kegerr.IO(err, "wal: flush")
	}
	if w.syncOnWrite {
		if err := w.f.Sync(); err != nil {
			return kegerr.IO(err, "wal: fsync")
		}
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return kegerr.IO(err, "wal: flush on close")
	}
	if err := w.f.Close(); err != nil {
		return kegerr.IO(err, "wal: close")
	}
	return nil
}

// Truncate discards the WAL's contents: it deletes the file and opens a
// fresh empty one. Callers must hold exclusive access to the WAL (no
// concurrent Append) while calling this.
func (w *WAL) Truncate() error {
	if err := w.f.Close(); err != nil {
		return kegerr.IO(err, "wal: close before truncate")
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return kegerr.IO(err, "wal: remove %s", w.path)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return kegerr.IO(err, "wal: reopen %s", w.path)
	}
	w.f = f
	w.w = bufio.NewWriter(f)
	return nil
}

// Recover reads the whole WAL file and walks it backwards, returning the
// current state: for each key, its newest recorded fate (put or
// tombstone) wins, since earlier scan positions are older writes. If the
// file doesn't exist yet, it returns an empty result (fresh startup).
//
// A crash can tear the very last record: the process died mid-Append,
// leaving a partial length prefix or truncated payload at the file's
// tail. Recover treats a decode failure at the tail specifically as that
// torn write: it drops the partial bytes, backing off to the last offset
// where a complete framed record ends, and recovers everything before it;
// a decode failure anywhere else in the file is genuine corruption and is
// reported as a MalformedRecord error (fatal for startup recovery, per
// spec.md §7).
func Recover(path string) ([]record.Record, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, kegerr.IO(err, "wal: read %s", path)
	}

	seen := make(map[string]struct{})
	var out []record.Record

	idx := len(buf)
	atTail := true
	for idx > 0 {
		rec, newIdx, err := record.DecodeTail(buf, idx)
		if err != nil {
			if atTail {
				// Torn trailing write: step back one byte at a time until
				// a complete framed record ends at idx.
				idx--
				continue
			}
			return nil, kegerr.MalformedRecord(err, "wal: corrupt record in %s", path)
		}
		atTail = false
		idx = newIdx
		if _, dup := seen[rec.Key]; !dup {
			seen[rec.Key] = struct{}{}
			out = append(out, rec)
		}
	}
	return out, nil
}
