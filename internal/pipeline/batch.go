package pipeline

import (
	"fmt"
	"sort"
)

const (
	// SoftBatchLimit is the size a batch may not grow past by adding another
	// diff. A single diff larger than the limit still gets a batch of its own.
	SoftBatchLimit = 32_768
	// MaxBatches bounds the model calls made per run.
	MaxBatches = 8
)

// PackBatches sorts diffs by ascending size, stable for equal sizes, and
// packs them greedily into batches. Batches beyond maxBatches are dropped
// and reported in the returned warning.
func PackBatches(diffs []DiffRecord, softLimit, maxBatches int) ([]Batch, string) {
	sorted := make([]DiffRecord, len(diffs))
	copy(sorted, diffs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Len() < sorted[j].Len()
	})

	batches := []Batch{}
	var cur Batch
	curLen := 0
	for _, d := range sorted {
		n := d.Len()
		if len(cur) > 0 && curLen+n > softLimit {
			batches = append(batches, cur)
			cur, curLen = nil, 0
		}
		cur = append(cur, d)
		curLen += n
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}

	if len(batches) <= maxBatches {
		return batches, ""
	}
	ignored := len(batches) - maxBatches
	return batches[:maxBatches], fmt.Sprintf("Too many changes to review in one day: ignored %d %s of the largest diffs.", ignored, plural(ignored, "batch", "batches"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
