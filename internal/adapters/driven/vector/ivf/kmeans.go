package ivf

import (
	"math"
	"sort"
)

const (
	maxPartitions      = 1024
	samplePerPartition = 64
)

// train rebuilds partitions from every vector currently held.
// It is deterministic for a given set of vectors.
func (idx *Index) train() {
	n := len(idx.vectors)
	idx.centroids = nil
	idx.lists = nil
	idx.assigned = make(map[string]int, n)
	idx.pending = make(map[string]struct{})

	if n < idx.trainThreshold {
		for id := range idx.vectors {
			idx.pending[id] = struct{}{}
		}
		return
	}

	ids := make([]string, 0, n)
	for id := range idx.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	k := idx.partitions
	if k <= 0 {
		k = int(math.Sqrt(float64(n)))
	}
	k = max(1, min(k, n, maxPartitions))

	sample := ids
	if limit := k * samplePerPartition; len(sample) > limit {
		sample = stride(ids, limit)
	}

	centroids := make([][]float32, k)
	for c, id := range stride(sample, k) {
		centroids[c] = append([]float32(nil), idx.vectors[id]...)
	}

	for iter := 0; iter < kmeansIterations; iter++ {
		sums := make([][]float64, k)
		counts := make([]int, k)
		for _, id := range sample {
			v := idx.vectors[id]
			c := nearest(centroids, v)
			if sums[c] == nil {
				sums[c] = make([]float64, idx.dimension)
			}
			for i, x := range v {
				sums[c][i] += float64(x)
			}
			counts[c]++
		}
		for c := range centroids {
			// An empty partition keeps its previous centroid.
			if counts[c] == 0 {
				continue
			}
			mean := make([]float32, idx.dimension)
			for i, s := range sums[c] {
				mean[i] = float32(s / float64(counts[c]))
			}
			centroids[c] = normalise(mean)
		}
	}

	idx.centroids = centroids
	idx.lists = make([]map[string]struct{}, k)
	for c := range idx.lists {
		idx.lists[c] = make(map[string]struct{})
	}
	for _, id := range ids {
		c := nearest(centroids, idx.vectors[id])
		idx.lists[c][id] = struct{}{}
		idx.assigned[id] = c
	}
}

// nearest returns the centroid with the highest similarity to v.
func nearest(centroids [][]float32, v []float32) int {
	best, bestSim := 0, float32(math.Inf(-1))
	for c, centroid := range centroids {
		if sim := dot(v, centroid); sim > bestSim {
			best, bestSim = c, sim
		}
	}
	return best
}

// stride picks n evenly spaced elements of ids.
func stride(ids []string, n int) []string {
	if n >= len(ids) {
		return ids
	}
	out := make([]string, n)
	step := float64(len(ids)) / float64(n)
	for i := range out {
		out[i] = ids[int(float64(i)*step)]
	}
	return out
}
