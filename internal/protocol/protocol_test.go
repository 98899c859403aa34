package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSet(t *testing.T) {
	r := NewReader(strings.NewReader("set a 7 0 3\nabc\n"))
	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, Set, cmd.Verb)
	assert.Equal(t, "a", cmd.Key)
	assert.Equal(t, uint64(7), cmd.Flags)
	assert.Equal(t, uint64(0), cmd.Exptime)
	assert.Equal(t, uint64(3), cmd.Bytes)
	assert.Equal(t, "abc", string(cmd.Data))
}

func TestReadGet(t *testing.T) {
	r := NewReader(strings.NewReader("get k\n"))
	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, Get, cmd.Verb)
	assert.Equal(t, "k", cmd.Key)
}

func TestReadDelete(t *testing.T) {
	r := NewReader(strings.NewReader("delete k\n"))
	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, Delete, cmd.Verb)
	assert.Equal(t, "k", cmd.Key)
}

func TestReadStats(t *testing.T) {
	r := NewReader(strings.NewReader("stats\n"))
	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, Stats, cmd.Verb)
}

func TestReadUnknownVerb(t *testing.T) {
	r := NewReader(strings.NewReader("frobnicate\n"))
	_, err := r.ReadCommand()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: frobnicate")
}

func TestReadMalformedInteger(t *testing.T) {
	r := NewReader(strings.NewReader("set a X 0 3\nabc\n"))
	_, err := r.ReadCommand()
	require.Error(t, err)
}

func TestReadSetBytesNotEnforcedAgainstActualLength(t *testing.T) {
	r := NewReader(strings.NewReader("set a 0 0 999\nshort\n"))
	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, uint64(999), cmd.Bytes)
	assert.Equal(t, "short", string(cmd.Data))
}

func TestCleanCloseReturnsEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	_, err := r.ReadCommand()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultipleCommandsOnSameReader(t *testing.T) {
	r := NewReader(strings.NewReader("get a\nget b\n"))
	c1, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, "a", c1.Key)
	c2, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, "b", c2.Key)
}

func TestWriterValueReply(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Value("k", 7, 0, []byte("hello")))
	assert.Equal(t, "VALUE k 7 0 5\nhello\nEND\n", buf.String())
}

func TestWriterMissReply(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Miss())
	assert.Equal(t, "END\n", buf.String())
}

func TestWriterErrorReply(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Error("unknown command: frobnicate"))
	assert.Equal(t, "[error] unknown command: frobnicate\n", buf.String())
}

func TestWriterStatsReply(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Stats(1))
	assert.Equal(t, "STAT curr_items 1\n", buf.String())
}
