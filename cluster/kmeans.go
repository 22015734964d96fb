package cluster

import (
	"context"
	"math"
	"sort"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
)

// KMeans is the CPU Lloyd's k-means engine.  One-dimensional data takes a specialised path
// over the sorted distinct values; higher dimensions run a parallel assignment step.  Both
// paths are deterministic and give identical results for any number of workers.
type KMeans struct {
	// Workers bounds the goroutines used for assignment.  Non-positive means GOMAXPROCS.
	Workers int
}

func (m *KMeans) Name() string {
	return "cpu-kmeans"
}

func (m *KMeans) Cluster(ctx context.Context, data []float32, dims, k, iterations int) (*Result, error) {
	if err := checkArgs(data, dims, k); err != nil {
		return nil, err
	}
	if dims == 1 {
		return cluster1D(ctx, data, k, iterations)
	}
	return m.clusterND(ctx, data, dims, k, iterations)
}

// cluster1D runs weighted Lloyd iterations over the distinct values.  Since the values are
// sorted, each cluster is a contiguous run and assignment is a single sweep.
func cluster1D(ctx context.Context, data []float32, k, iterations int) (*Result, error) {
	sorted := make([]float32, len(data))
	copy(sorted, data)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// distinct values and cumulative counts
	values := make([]float64, 0, len(sorted))
	cum := make([]int, 0, len(sorted))
	for i, v := range sorted {
		if i > 0 && v == sorted[i-1] {
			cum[len(cum)-1]++
			continue
		}
		values = append(values, float64(v))
		cum = append(cum, i+1)
	}
	m := len(values)

	var centroids []float64
	if m <= k {
		centroids = values
	} else {
		centroids = seedQuantiles(values, cum, k)
		bounds := make([]int, k+1) // cluster j owns values[bounds[j]:bounds[j+1]]
		for it := 0; it < iterations; it++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			changed := assignSorted(values, centroids, bounds)
			for j := 0; j < k; j++ {
				lo, hi := bounds[j], bounds[j+1]
				if lo == hi {
					continue
				}
				var sum float64
				prev := 0
				if lo > 0 {
					prev = cum[lo-1]
				}
				for u := lo; u < hi; u++ {
					sum += values[u] * float64(cum[u]-prev)
					prev = cum[u]
				}
				count := cum[hi-1]
				if lo > 0 {
					count -= cum[lo-1]
				}
				centroids[j] = sum / float64(count)
			}
			if !changed && it > 0 {
				break
			}
		}
	}

	result := &Result{
		Centroids: make([]float32, len(centroids)),
		Labels:    make([]int32, len(data)),
		K:         len(centroids),
		Dims:      1,
	}
	for j, c := range centroids {
		result.Centroids[j] = float32(c)
	}
	// label each distinct value, then each point through a binary search
	distinctLabels := make([]int32, m)
	bounds := make([]int, len(centroids)+1)
	assignSorted(values, centroids, bounds)
	for j := 0; j < len(centroids); j++ {
		for u := bounds[j]; u < bounds[j+1]; u++ {
			distinctLabels[u] = int32(j)
		}
	}
	for i, v := range data {
		u := sort.SearchFloat64s(values, float64(v))
		if u >= m {
			u = m - 1
		}
		result.Labels[i] = distinctLabels[u]
	}
	return result, nil
}

// seedQuantiles picks k distinct values spread over the quantiles of the full data.
func seedQuantiles(values []float64, cum []int, k int) []float64 {
	m := len(values)
	n := cum[m-1]
	centroids := make([]float64, k)
	prev := -1
	for j := 0; j < k; j++ {
		target := (2*j + 1) * n / (2 * k)
		u := sort.Search(m, func(i int) bool { return cum[i] > target })
		if u <= prev {
			u = prev + 1
		}
		if limit := m - (k - j); u > limit {
			u = limit
		}
		centroids[j] = values[u]
		prev = u
	}
	return centroids
}

// assignSorted splits sorted values among ascending centroids at the midpoints between
// neighbors, recording the split in bounds.  It reports whether any bound moved.
func assignSorted(values, centroids []float64, bounds []int) bool {
	changed := false
	k := len(centroids)
	u := 0
	for j := 0; j < k; j++ {
		if bounds[j] != u {
			changed = true
		}
		bounds[j] = u
		if j == k-1 {
			u = len(values)
			break
		}
		mid := 0.5 * (centroids[j] + centroids[j+1])
		for u < len(values) && values[u] <= mid {
			u++
		}
	}
	if bounds[k] != u {
		changed = true
	}
	bounds[k] = u
	return changed
}

// clusterND runs Lloyd's algorithm with centroids seeded from evenly strided points.
// Empty clusters keep their previous centroid.
func (m *KMeans) clusterND(ctx context.Context, data []float32, dims, k, iterations int) (*Result, error) {
	n := len(data) / dims
	if k > n {
		k = n
	}
	centroids := make([]float32, k*dims)
	for j := 0; j < k; j++ {
		src := (j * n / k) * dims
		copy(centroids[j*dims:(j+1)*dims], data[src:src+dims])
	}
	labels := make([]int32, n)
	for i := range labels {
		labels[i] = -1
	}
	changes := make([]int, len(lfs.Chunks(n, lfs.MinChunk)))
	sums := make([]float64, k*dims)
	counts := make([]int, k)

	if iterations < 1 {
		iterations = 1
	}
	for it := 0; it < iterations; it++ {
		err := lfs.ParallelRange(ctx, n, m.Workers, func(chunk, lo, hi int) error {
			changes[chunk] = 0
			for i := lo; i < hi; i++ {
				best := nearest(data[i*dims:(i+1)*dims], centroids, k, dims)
				if labels[i] != best {
					labels[i] = best
					changes[chunk]++
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		total := 0
		for _, c := range changes {
			total += c
		}
		if total == 0 {
			break
		}
		if it == iterations-1 {
			break // labels must match the returned centroids
		}
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			label := int(labels[i])
			counts[label]++
			row := sums[label*dims : (label+1)*dims]
			for d, v := range data[i*dims : (i+1)*dims] {
				row[d] += float64(v)
			}
		}
		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				continue
			}
			inv := 1 / float64(counts[j])
			for d := 0; d < dims; d++ {
				centroids[j*dims+d] = float32(sums[j*dims+d] * inv)
			}
		}
	}
	return &Result{Centroids: centroids, Labels: labels, K: k, Dims: dims}, nil
}

// nearest returns the index of the centroid closest to p in squared Euclidean distance,
// preferring the lowest index on ties.
func nearest(p, centroids []float32, k, dims int) int32 {
	best := int32(0)
	bestDist := float32(math.MaxFloat32)
	for j := 0; j < k; j++ {
		c := centroids[j*dims : (j+1)*dims]
		var dist float32
		for d, v := range p {
			diff := v - c[d]
			dist += diff * diff
			if dist >= bestDist {
				break
			}
		}
		if dist < bestDist {
			bestDist = dist
			best = int32(j)
		}
	}
	return best
}
