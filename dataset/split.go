package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// Split partitions idx into train and validation subsets. The shuffle is
// driven entirely by seed, so the same (index, valFraction, seed) triple
// produces byte-identical partitions on every run and process. The
// validation side receives floor(valFraction * N) samples.
func Split(idx *Index, valFraction float64, seed int64) (train, val *Index, err error) {
	if valFraction <= 0 || valFraction >= 1 {
		return nil, nil, fmt.Errorf("validation fraction %v not in (0,1)", valFraction)
	}

	n := idx.Len()
	valSize := int(math.Floor(valFraction * float64(n)))
	trainSize := n - valSize
	if valSize == 0 || trainSize == 0 {
		return nil, nil, fmt.Errorf("%w: %d samples at fraction %v", ErrSplitTooSmall, n, valFraction)
	}

	positions := make([]int, n)
	for i := range positions {
		positions[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) {
		positions[i], positions[j] = positions[j], positions[i]
	})

	return idx.Subset(positions[valSize:]), idx.Subset(positions[:valSize]), nil
}
