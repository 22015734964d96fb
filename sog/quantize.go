package sog

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/cluster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/raster"
)

// CodebookSize is the number of entries in every byte codebook.
const CodebookSize = 256

// finite returns a copy of values with NaN and infinities replaced by 0.
func finite(values []float32) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		if !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0) {
			out[i] = v
		}
	}
	return out
}

// Codebook is a 256-entry ascending table mapping byte labels to values together with the
// label of every input value.
type Codebook struct {
	Values []float32
	Labels []byte
}

// quantizeScalars clusters 1D values into at most 256 centroids, sorts the centroids
// ascending and remaps labels so label order follows value order.  Codebooks with fewer
// than 256 centroids are padded by repeating the largest value.
func quantizeScalars(ctx context.Context, c cluster.Clusterer, values []float32, iterations int) (*Codebook, error) {
	result, err := c.Cluster(ctx, finite(values), 1, CodebookSize, iterations)
	if err != nil {
		return nil, err
	}
	if err := result.Check(len(values)); err != nil {
		return nil, err
	}
	if result.K > CodebookSize {
		return nil, fmt.Errorf("clustering returned %d centroids, at most %d allowed", result.K, CodebookSize)
	}

	order := make([]int, result.K)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return result.Centroids[order[a]] < result.Centroids[order[b]] })
	remap := make([]byte, result.K)
	cb := &Codebook{Values: make([]float32, CodebookSize), Labels: make([]byte, len(values))}
	for rank, old := range order {
		cb.Values[rank] = result.Centroids[old]
		remap[old] = byte(rank)
	}
	for i := result.K; i < CodebookSize; i++ {
		cb.Values[i] = cb.Values[result.K-1]
	}
	for i, label := range result.Labels {
		cb.Labels[i] = remap[label]
	}
	return cb, nil
}

// Sigmoid is the logistic activation applied to opacity logits.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// OpacityByte maps an opacity logit to [1,255].  Zero is never produced so lossless codecs
// that discard color under transparent pixels cannot corrupt the color labels.
func OpacityByte(logit float32) byte {
	t := math.Round(255 * Sigmoid(float64(logit)))
	if !(t > 1) {
		return 1
	}
	if t >= 255 {
		return 255
	}
	return byte(t)
}

// encodeField writes the three per-point labels of a jointly quantized N*3 field to pixel k
// of dst, with alpha from alpha(i) for source point i.
func encodeField(ctx context.Context, cb *Codebook, order []int, dst *raster.Raster, alpha func(i int) byte, workers int) error {
	return lfs.ParallelRange(ctx, len(order), workers, func(chunk, lo, hi int) error {
		for k := lo; k < hi; k++ {
			i := order[k]
			dst.Set(k, [4]byte{cb.Labels[i*3], cb.Labels[i*3+1], cb.Labels[i*3+2], alpha(i)})
		}
		return nil
	})
}

func opaque(int) byte { return 255 }
