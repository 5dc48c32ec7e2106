package dataset

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticIndex(n int) *Index {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{Path: fmt.Sprintf("img%04d.jpeg", i), Class: i % NumClasses}
	}
	return fromEntries(entries)
}

func TestSplitSizes(t *testing.T) {
	idx := syntheticIndex(100)

	train, val, err := Split(idx, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, 80, train.Len())
	assert.Equal(t, 20, val.Len())
}

func TestSplitFloorsValidationSize(t *testing.T) {
	idx := syntheticIndex(7)

	train, val, err := Split(idx, 0.2, 1)
	require.NoError(t, err)
	// floor(0.2 * 7) == 1
	assert.Equal(t, 1, val.Len())
	assert.Equal(t, 6, train.Len())
}

func TestSplitDeterministic(t *testing.T) {
	idx := syntheticIndex(50)

	train1, val1, err := Split(idx, 0.2, 42)
	require.NoError(t, err)
	train2, val2, err := Split(idx, 0.2, 42)
	require.NoError(t, err)

	for i := 0; i < train1.Len(); i++ {
		assert.Equal(t, train1.Entry(i).Path, train2.Entry(i).Path)
	}
	for i := 0; i < val1.Len(); i++ {
		assert.Equal(t, val1.Entry(i).Path, val2.Entry(i).Path)
	}
}

func TestSplitSeedChangesPartition(t *testing.T) {
	idx := syntheticIndex(50)

	_, val1, err := Split(idx, 0.2, 42)
	require.NoError(t, err)
	_, val2, err := Split(idx, 0.2, 43)
	require.NoError(t, err)

	same := true
	for i := 0; i < val1.Len(); i++ {
		if val1.Entry(i).Path != val2.Entry(i).Path {
			same = false
			break
		}
	}
	assert.False(t, same, "different seeds should produce different partitions")
}

func TestSplitDisjointAndComplete(t *testing.T) {
	idx := syntheticIndex(30)

	train, val, err := Split(idx, 0.25, 7)
	require.NoError(t, err)

	seen := make(map[string]int)
	for i := 0; i < train.Len(); i++ {
		seen[train.Entry(i).Path]++
	}
	for i := 0; i < val.Len(); i++ {
		seen[val.Entry(i).Path]++
	}
	assert.Len(t, seen, 30)
	for path, count := range seen {
		assert.Equal(t, 1, count, "sample %s appears in both sides", path)
	}
}

func TestSplitTooSmall(t *testing.T) {
	idx := syntheticIndex(2)

	_, _, err := Split(idx, 0.2, 42)
	assert.ErrorIs(t, err, ErrSplitTooSmall)
}

func TestSplitInvalidFraction(t *testing.T) {
	idx := syntheticIndex(10)
	for _, frac := range []float64{0, 1, -0.5, 1.5} {
		_, _, err := Split(idx, frac, 42)
		assert.Error(t, err, "fraction %v", frac)
	}
}
