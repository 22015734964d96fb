package sog

import (
	"context"
	"fmt"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/cluster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/raster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/splat"
)

const (
	minPalette = 1024
	maxPalette = 64 * 1024

	// paletteColumns is the number of palette entries per row of the centroid raster.
	paletteColumns = 64
)

// PaletteSize returns the number of SH palette entries requested for n points: the largest
// power of two times 1024 not exceeding n, clamped to [1024, 65536].
func PaletteSize(n int) int {
	size := minPalette
	for size*2 <= n && size*2 <= maxPalette {
		size *= 2
	}
	return size
}

// shnResult is the two-level quantization of higher-order SH coefficients.
type shnResult struct {
	coeffs   int             // K coefficients per channel
	palette  int             // actual palette entries
	labels   []int32         // palette entry of each source point
	codebook *Codebook       // byte codebook over all palette values
	centers  *cluster.Result // palette centroids, channel-major rows of 3K values
}

// quantizeSHN clusters the flattened N x 3K coefficient matrix into a palette and then
// quantizes every palette value through a 256-entry codebook.
func quantizeSHN(ctx context.Context, c cluster.Clusterer, set *splat.Set, iterations int) (*shnResult, error) {
	k := set.Coeffs()
	if k <= 0 {
		return nil, fmt.Errorf("no higher-order SH coefficients for degree %d", set.Degree)
	}
	n, dims := set.Len(), 3*k
	requested := PaletteSize(n)
	lfs.Infof("Running k-means clustering: dims=%d points=%d clusters=%d iterations=%d...\n", dims, n, requested, iterations)

	palette, err := c.Cluster(ctx, finite(set.FlattenSHN()), dims, requested, iterations)
	if err != nil {
		return nil, err
	}
	if err := palette.Check(n); err != nil {
		return nil, err
	}
	if palette.Dims != dims || palette.K > maxPalette {
		return nil, fmt.Errorf("clustering returned %d palette entries of %d values, expected at most %d of %d", palette.K, palette.Dims, maxPalette, dims)
	}

	lfs.Infof("Running k-means clustering: dims=1 points=%d clusters=%d iterations=%d...\n", len(palette.Centroids), CodebookSize, iterations)
	cb, err := quantizeScalars(ctx, c, palette.Centroids, iterations)
	if err != nil {
		return nil, err
	}
	return &shnResult{coeffs: k, palette: palette.K, labels: palette.Labels, codebook: cb, centers: palette}, nil
}

// centroidRaster lays out the byte-quantized palette with 64 entries per row and K pixels
// per entry; pixel j of entry i holds the labels of coefficient j for channels 0, 1 and 2.
func (r *shnResult) centroidRaster() (*raster.Raster, error) {
	width := paletteColumns * r.coeffs
	height := (r.palette + paletteColumns - 1) / paletteColumns
	dst, err := raster.New(width, height)
	if err != nil {
		return nil, err
	}
	dims := 3 * r.coeffs
	labels := r.codebook.Labels
	for i := 0; i < r.palette; i++ {
		for j := 0; j < r.coeffs; j++ {
			base := i * dims
			dst.Set(i*r.coeffs+j, [4]byte{
				labels[base+j],
				labels[base+r.coeffs+j],
				labels[base+2*r.coeffs+j],
				255,
			})
		}
	}
	return dst, nil
}

// encodeLabels writes the 16-bit palette index of each point to pixel k of dst.
func (r *shnResult) encodeLabels(ctx context.Context, order []int, dst *raster.Raster, workers int) error {
	return lfs.ParallelRange(ctx, len(order), workers, func(chunk, lo, hi int) error {
		for k := lo; k < hi; k++ {
			label := uint16(r.labels[order[k]])
			dst.Set(k, [4]byte{byte(label), byte(label >> 8), 0, 255})
		}
		return nil
	})
}
