// Package executor drives the per-connection command loop: IDLE ->
// EXECUTING -> IDLE, translating decoded protocol.Commands into
// internal/store operations and formatting replies, per spec.md §4.11.
package executor

import (
	"errors"
	"io"

	"github.com/kegdb/kegdb/internal/kegerr"
	"github.com/kegdb/kegdb/internal/metrics"
	"github.com/kegdb/kegdb/internal/protocol"
	"github.com/kegdb/kegdb/internal/value"
)

// Store is the subset of *store.Store the executor needs; expressed as an
// interface so tests can substitute a fake without touching disk.
type Store interface {
	Put(key string, v *value.Value) error
	Delete(key string) error
	Get(key string) (v *value.Value, found bool, err error)
	LiveCount() (int, error)
}

// Executor runs the command loop for one connection.
type Executor struct {
	store Store
	r     *protocol.Reader
	w     *protocol.Writer
	met   *metrics.Registry
}

// New builds an Executor reading commands from r and writing replies to w,
// against store. met may be nil.
func New(store Store, r io.Reader, w io.Writer, met *metrics.Registry) *Executor {
	return &Executor{
		store: store,
		r:     protocol.NewReader(r),
		w:     protocol.NewWriter(w),
		met:   met,
	}
}

// Run executes the IDLE/EXECUTING loop until the connection closes
// cleanly (io.EOF) or is abandoned mid-command (UnexpectedEOF), at which
// point it returns nil — both are a normal end of the worker's life, not
// an error the caller need act on. Any other error reading a command (a
// protocol decode failure or an I/O error from the reader) is answered
// with an `[error]` reply and the loop continues. Run returns a non-nil
// error only when writing a reply fails.
func (e *Executor) Run() error {
	for {
		cmd, err := e.r.ReadCommand()
		if err != nil {
			if errors.Is(err, io.EOF) || kegerr.IsUnexpectedEOF(err) {
				return nil
			}
			// Decode failure: reply [error], stay IDLE.
			if werr := e.w.Error(err.Error()); werr != nil {
				return werr
			}
			continue
		}

		if err := e.execute(cmd); err != nil {
			return err
		}
	}
}

func (e *Executor) execute(cmd protocol.Command) error {
	e.countCommand(cmd.Verb)

	switch cmd.Verb {
	case protocol.Set:
		return e.executeSet(cmd)
	case protocol.Get:
		return e.executeGet(cmd)
	case protocol.Delete:
		return e.executeDelete(cmd)
	case protocol.Stats:
		return e.executeStats()
	default:
		return e.w.Error("unknown verb")
	}
}

func (e *Executor) executeSet(cmd protocol.Command) error {
	v := value.New(cmd.Data, cmd.Flags, cmd.Exptime)
	if err := e.store.Put(cmd.Key, v); err != nil {
		return e.w.Error(err.Error())
	}
	return e.w.Stored()
}

func (e *Executor) executeGet(cmd protocol.Command) error {
	v, found, err := e.store.Get(cmd.Key)
	if err != nil {
		return e.w.Error(err.Error())
	}
	if !found {
		return e.w.Miss()
	}
	return e.w.Value(cmd.Key, v.Flags, v.Exptime, v.Data)
}

func (e *Executor) executeDelete(cmd protocol.Command) error {
	if err := e.store.Delete(cmd.Key); err != nil {
		return e.w.Error(err.Error())
	}
	return e.w.Deleted()
}

func (e *Executor) executeStats() error {
	n, err := e.store.LiveCount()
	if err != nil {
		return e.w.Error(err.Error())
	}
	return e.w.Stats(n)
}

func (e *Executor) countCommand(v protocol.Verb) {
	if e.met == nil {
		return
	}
	e.met.CommandsTotal.WithLabelValues(verbName(v)).Inc()
}

func verbName(v protocol.Verb) string {
	switch v {
	case protocol.Set:
		return "set"
	case protocol.Get:
		return "get"
	case protocol.Delete:
		return "delete"
	case protocol.Stats:
		return "stats"
	default:
		return "unknown"
	}
}
