package avltree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *Tree[int, string]) []int {
	var keys []int
	for k := range t.All() {
		keys = append(keys, k)
	}
	return keys
}

func TestInsertUpsertsInPlace(t *testing.T) {
	tr := New[int, string]()
	tr.Insert(5, "a")
	tr.Insert(5, "b")
	require.Equal(t, 1, tr.Len())
	v, ok := tr.Get(5)
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestInsertMaintainsBalance(t *testing.T) {
	tr := New[int, int]()
	for i := 1; i <= 100; i++ {
		tr.Insert(i, i)
		assertBalanced(t, tr.root)
	}
	assert.Equal(t, 100, tr.Len())
}

func assertBalanced[V any](t *testing.T, n *node[int, V]) int {
	t.Helper()
	if n == nil {
		return 0
	}
	lh := assertBalanced(t, n.left)
	rh := assertBalanced(t, n.right)
	diff := lh - rh
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, diff, 1, "balance factor out of range at key %v", n.key)
	if lh > rh {
		return lh + 1
	}
	return rh + 1
}

func TestIterationAscending(t *testing.T) {
	tr := New[int, string]()
	for _, k := range []int{5, 3, 8, 1, 4, 7, 9} {
		tr.Insert(k, "x")
	}
	assert.Equal(t, []int{1, 3, 4, 5, 7, 8, 9}, collect(tr))
}

func TestIterationRestartable(t *testing.T) {
	tr := New[int, string]()
	tr.Insert(1, "a")
	tr.Insert(2, "b")
	first := collect(tr)
	tr.Insert(3, "c")
	second := collect(tr)
	assert.Equal(t, []int{1, 2}, first)
	assert.Equal(t, []int{1, 2, 3}, second)
}

func TestDeleteLeaf(t *testing.T) {
	tr := New[int, string]()
	tr.Insert(1, "a")
	tr.Insert(2, "b")
	tr.Delete(2)
	assert.Equal(t, []int{1}, collect(tr))
	assert.Equal(t, 1, tr.Len())
}

func TestDeleteTwoChildrenUsesPredecessor(t *testing.T) {
	tr := New[int, string]()
	for _, k := range []int{5, 3, 8, 1, 4, 7, 9} {
		tr.Insert(k, "x")
	}
	tr.Delete(5)
	assert.Equal(t, 4, tr.root.key, "in-order predecessor 4 should replace the deleted root")
	assert.Equal(t, []int{1, 3, 4, 7, 8, 9}, collect(tr))
	assertBalanced(t, tr.root)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	tr := New[int, string]()
	tr.Insert(1, "a")
	tr.Delete(99)
	assert.Equal(t, 1, tr.Len())
}

func TestFromEntriesEquivalentToRepeatedInsert(t *testing.T) {
	entries := []Entry[int, string]{{1, "a"}, {3, "c"}, {2, "b"}}
	tr := FromEntries(entries)
	assert.Equal(t, []int{1, 2, 3}, collect(tr))
}

func TestGetMissing(t *testing.T) {
	tr := New[int, string]()
	tr.Insert(1, "a")
	_, ok := tr.Get(2)
	assert.False(t, ok)
}
