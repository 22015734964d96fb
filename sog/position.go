package sog

import (
	"context"
	"math"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/raster"
)

// LogTransform is the sign-preserving log applied to positions before quantization.
func LogTransform(v float64) float64 {
	return math.Copysign(math.Log(math.Abs(v)+1), v)
}

// InverseLogTransform undoes LogTransform.
func InverseLogTransform(v float64) float64 {
	return math.Copysign(math.Exp(math.Abs(v))-1, v)
}

// PositionBounds are the per-axis extremes of log-transformed positions.
type PositionBounds struct {
	Mins [3]float64
	Maxs [3]float64
}

// positionBounds reduces per-chunk extremes in parallel and merges them afterwards.
// Non-finite values are ignored; an axis without finite values gets zero bounds.
func positionBounds(ctx context.Context, means []float32, workers int) (PositionBounds, error) {
	n := len(means) / 3
	chunks := lfs.Chunks(n, lfs.MinChunk)
	partial := make([]PositionBounds, len(chunks))
	err := lfs.ParallelRange(ctx, n, workers, func(chunk, lo, hi int) error {
		b := &partial[chunk]
		for d := 0; d < 3; d++ {
			b.Mins[d] = math.Inf(1)
			b.Maxs[d] = math.Inf(-1)
		}
		for i := lo; i < hi; i++ {
			for d := 0; d < 3; d++ {
				v := LogTransform(float64(means[i*3+d]))
				if math.IsNaN(v) || math.IsInf(v, 0) {
					continue
				}
				b.Mins[d] = math.Min(b.Mins[d], v)
				b.Maxs[d] = math.Max(b.Maxs[d], v)
			}
		}
		return nil
	})
	if err != nil {
		return PositionBounds{}, err
	}
	var bounds PositionBounds
	for d := 0; d < 3; d++ {
		bounds.Mins[d] = math.Inf(1)
		bounds.Maxs[d] = math.Inf(-1)
		for _, b := range partial {
			bounds.Mins[d] = math.Min(bounds.Mins[d], b.Mins[d])
			bounds.Maxs[d] = math.Max(bounds.Maxs[d], b.Maxs[d])
		}
		if bounds.Mins[d] > bounds.Maxs[d] {
			bounds.Mins[d], bounds.Maxs[d] = 0, 0
		}
	}
	return bounds, nil
}

// scales returns the factor mapping log-transformed values onto [0,65535] per axis, or 0
// for axes with no extent.
func (b PositionBounds) scales() (s [3]float64) {
	for d := 0; d < 3; d++ {
		if extent := b.Maxs[d] - b.Mins[d]; extent > 0 {
			s[d] = 65535 / extent
		}
	}
	return
}

// Degenerate returns the axes with zero extent.
func (b PositionBounds) Degenerate() (axes []int) {
	for d := 0; d < 3; d++ {
		if b.Maxs[d] == b.Mins[d] {
			axes = append(axes, d)
		}
	}
	return
}

// quantizePosition maps a coordinate to 16 bits given the axis minimum and scale.
func quantizePosition(v, min, scale float64) uint16 {
	t := math.Round((LogTransform(v) - min) * scale)
	if !(t > 0) {
		return 0
	}
	if t >= 65535 {
		return 65535
	}
	return uint16(t)
}

// DequantizePosition reconstructs a coordinate from its 16-bit value and the axis bounds.
func DequantizePosition(q uint16, min, max float64) float64 {
	return InverseLogTransform(min + float64(q)/65535*(max-min))
}

// encodePositions writes the low and high bytes of each quantized position to pixel k of
// lo and hi, where order[k] is the source point.
func encodePositions(ctx context.Context, means []float32, order []int, b PositionBounds, lo, hi *raster.Raster, workers int) error {
	scale := b.scales()
	return lfs.ParallelRange(ctx, len(order), workers, func(chunk, first, last int) error {
		for k := first; k < last; k++ {
			p := order[k] * 3
			var q [3]uint16
			for d := 0; d < 3; d++ {
				q[d] = quantizePosition(float64(means[p+d]), b.Mins[d], scale[d])
			}
			lo.Set(k, [4]byte{byte(q[0]), byte(q[1]), byte(q[2]), 255})
			hi.Set(k, [4]byte{byte(q[0] >> 8), byte(q[1] >> 8), byte(q[2] >> 8), 255})
		}
		return nil
	})
}
