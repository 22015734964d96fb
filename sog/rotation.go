package sog

import (
	"context"
	"math"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/raster"
)

// quatIndex lists the components kept when component i is the largest.
var quatIndex = [4][3]int{{1, 2, 3}, {0, 2, 3}, {0, 1, 3}, {0, 1, 2}}

func unitByte(x float64) byte {
	t := math.Round(255 * (x*0.5 + 0.5))
	if !(t > 0) {
		return 0
	}
	if t >= 255 {
		return 255
	}
	return byte(t)
}

// PackQuaternion encodes a quaternion with smallest-three packing.  The quaternion is
// normalized and its sign flipped so the largest-magnitude component is positive; the other
// three components, scaled by sqrt(2), are mapped from [-1,1] onto bytes and the fourth byte is
// 252 plus the index of the dropped component.  A zero-length or non-finite quaternion is
// replaced by the identity (component 0 = 1) and ok is false.
func PackQuaternion(q [4]float32) (px [4]byte, ok bool) {
	var v [4]float64
	var norm float64
	for i, c := range q {
		v[i] = float64(c)
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	ok = norm > 0 && !math.IsInf(norm, 0) && !math.IsNaN(norm)
	if !ok {
		v = [4]float64{1, 0, 0, 0}
		norm = 1
	}
	largest := 0
	for i := range v {
		v[i] /= norm
		if math.Abs(v[i]) > math.Abs(v[largest]) {
			largest = i
		}
	}
	sign := math.Sqrt2
	if v[largest] < 0 {
		sign = -math.Sqrt2
	}
	for j, i := range quatIndex[largest] {
		px[j] = unitByte(v[i] * sign)
	}
	px[3] = byte(252 + largest)
	return px, ok
}

// UnpackQuaternion decodes a smallest-three pixel back into a unit quaternion.
func UnpackQuaternion(px [4]byte) [4]float64 {
	largest := int(px[3]) - 252
	if largest < 0 || largest > 3 {
		return [4]float64{1, 0, 0, 0}
	}
	var q [4]float64
	var sum float64
	for j, i := range quatIndex[largest] {
		c := (float64(px[j])/255 - 0.5) * 2
		q[i] = c / math.Sqrt2
		sum += c * c
	}
	q[largest] = math.Sqrt(math.Max(0, 2-sum)) / math.Sqrt2
	return q
}

// encodeRotations packs each rotation into pixel k of dst and returns how many
// quaternions were degenerate.
func encodeRotations(ctx context.Context, rotations []float32, order []int, dst *raster.Raster, workers int) (int, error) {
	chunks := lfs.Chunks(len(order), lfs.MinChunk)
	bad := make([]int, len(chunks))
	err := lfs.ParallelRange(ctx, len(order), workers, func(chunk, lo, hi int) error {
		for k := lo; k < hi; k++ {
			p := order[k] * 4
			px, ok := PackQuaternion([4]float32{rotations[p], rotations[p+1], rotations[p+2], rotations[p+3]})
			if !ok {
				bad[chunk]++
			}
			dst.Set(k, px)
		}
		return nil
	})
	var total int
	for _, n := range bad {
		total += n
	}
	return total, err
}
