package category

import (
	"sort"

	"github.com/cuemby/taskforge/pkg/types"
)

// maxBucketSamples bounds how many historical samples a category keeps
// per dimension before the oldest are dropped.
const maxBucketSamples = 200

// dimensions enumerates the resource dimensions bucketing operates over.
// Cores are tracked in millicores so every dimension is an integer.
var dimensions = []string{"cores", "memory", "disk", "gpus"}

func dimValue(r types.Resources, dim string) int64 {
	switch dim {
	case "cores":
		return int64(r.Cores * 1000)
	case "memory":
		return r.Memory
	case "disk":
		return r.Disk
	case "gpus":
		return r.GPUs
	default:
		return 0
	}
}

func setDim(r *types.Resources, dim string, v int64) {
	switch dim {
	case "cores":
		r.Cores = float64(v) / 1000
	case "memory":
		r.Memory = v
	case "disk":
		r.Disk = v
	case "gpus":
		r.GPUs = v
	}
}

// addBucketSample folds one measured observation into each dimension's
// bucket history.
func addBucketSample(c *types.Category, measured types.Resources) {
	for _, dim := range dimensions {
		v := dimValue(measured, dim)
		if v <= 0 {
			continue
		}
		samples := append(c.Buckets[dim], v)
		if len(samples) > maxBucketSamples {
			samples = samples[len(samples)-maxBucketSamples:]
		}
		c.Buckets[dim] = samples
	}
}

// bucketGuess produces a min-waste/max-throughput style allocation: the
// most recently measured value plus 10% headroom, per dimension.
func bucketGuess(c *types.Category, measured types.Resources) types.Resources {
	out := c.FirstAllocation
	for _, dim := range dimensions {
		v := dimValue(measured, dim)
		if v <= 0 {
			continue
		}
		setDim(&out, dim, v+v/10)
	}
	return out
}

// greedyBucketGuess picks, per dimension, the smallest observed value at
// or above the median of the sample history — a "just large enough for
// most of what we've seen" guess that is cheap to recompute on every
// observation.
func greedyBucketGuess(c *types.Category) types.Resources {
	out := c.FirstAllocation
	for _, dim := range dimensions {
		samples := c.Buckets[dim]
		if len(samples) == 0 {
			continue
		}
		sorted := append([]int64(nil), samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		median := sorted[len(sorted)/2]
		setDim(&out, dim, median)
	}
	return out
}

// exhaustiveBucketGuess scans every distinct observed value as a
// candidate allocation and picks the one minimizing expected cost: the
// sum of wasted headroom for samples it covers, plus a retry penalty
// (proportional to the candidate itself) for samples it does not.
func exhaustiveBucketGuess(c *types.Category) types.Resources {
	out := c.FirstAllocation
	for _, dim := range dimensions {
		samples := c.Buckets[dim]
		if len(samples) == 0 {
			continue
		}
		candidates := uniqueSorted(samples)
		best := candidates[len(candidates)-1]
		bestCost := int64(1) << 62
		for _, cand := range candidates {
			var cost int64
			for _, s := range samples {
				if cand >= s {
					cost += cand - s
				} else {
					cost += cand * 4 // retry penalty: re-running at this size
				}
			}
			if cost < bestCost {
				bestCost = cost
				best = cand
			}
		}
		setDim(&out, dim, best)
	}
	return out
}

func uniqueSorted(vs []int64) []int64 {
	sorted := append([]int64(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := sorted[:0:0]
	var last int64 = -1
	first := true
	for _, v := range sorted {
		if first || v != last {
			out = append(out, v)
			last = v
			first = false
		}
	}
	return out
}
