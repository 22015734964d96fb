package sog

import (
	"context"
	"math"
	"sort"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
)

const (
	mortonBits = 10
	mortonMax  = 1<<mortonBits - 1

	// splitThreshold is the largest run of equal Morton codes left unrefined.
	splitThreshold = 256
)

// part1By2 spreads the low 10 bits of x so there are two zero bits between each.
func part1By2(x uint32) uint32 {
	x &= 0x000003ff
	x = (x ^ (x << 16)) & 0xff0000ff
	x = (x ^ (x << 8)) & 0x0300f00f
	x = (x ^ (x << 4)) & 0x030c30c3
	x = (x ^ (x << 2)) & 0x09249249
	return x
}

// mortonCode interleaves 10-bit cell coordinates with x in the lowest bit.
func mortonCode(x, y, z uint32) uint32 {
	return part1By2(z)<<2 | part1By2(y)<<1 | part1By2(x)
}

// cell maps v into [0,1023] given the box minimum and per-axis scale.  NaN maps to 0.
func cell(v, min, scale float64) uint32 {
	t := math.Floor((v - min) * scale)
	if !(t > 0) {
		return 0
	}
	if t >= mortonMax {
		return mortonMax
	}
	return uint32(t)
}

type span struct{ lo, hi int }

type keyedIndex struct {
	code  uint32
	index int
}

type orderer struct {
	means   []float32
	indices []int
	codes   []uint32 // codes[k] is the Morton code of indices[k] within its sorted span
	scratch []keyedIndex
	workers int
}

// Order returns a permutation of the n = len(means)/3 points that groups spatially close
// points together.  Each range is sorted by the Morton code of its points within the range's
// bounding box, and runs of equal codes longer than 256 points are refined using their own
// smaller box.  A range whose box has zero extent on all axes keeps its order.  The result
// depends only on the positions, never on the number of workers.
func Order(ctx context.Context, means []float32, workers int) ([]int, error) {
	n := len(means) / 3
	o := &orderer{
		means:   means,
		indices: make([]int, n),
		codes:   make([]uint32, n),
		scratch: make([]keyedIndex, n),
		workers: workers,
	}
	for i := range o.indices {
		o.indices[i] = i
	}

	// spans on the worklist are disjoint, so the order they are refined in does not matter
	work := []span{{0, n}}
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := work[len(work)-1]
		work = work[:len(work)-1]
		if s.hi-s.lo <= 1 {
			continue
		}
		sorted, err := o.sortSpan(ctx, s)
		if err != nil {
			return nil, err
		}
		if !sorted {
			continue
		}
		for start := s.lo; start < s.hi; {
			end := start + 1
			for end < s.hi && o.codes[end] == o.codes[start] {
				end++
			}
			if end-start > splitThreshold {
				work = append(work, span{start, end})
			}
			start = end
		}
	}
	return o.indices, nil
}

// sortSpan stably sorts the span by Morton code within its bounding box.  It returns false
// without reordering if the box is degenerate.
func (o *orderer) sortSpan(ctx context.Context, s span) (bool, error) {
	var min, max [3]float64
	for d := 0; d < 3; d++ {
		min[d] = math.Inf(1)
		max[d] = math.Inf(-1)
	}
	for k := s.lo; k < s.hi; k++ {
		p := o.indices[k] * 3
		for d := 0; d < 3; d++ {
			v := float64(o.means[p+d])
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if v < min[d] {
				min[d] = v
			}
			if v > max[d] {
				max[d] = v
			}
		}
	}
	var scale [3]float64
	degenerate := true
	for d := 0; d < 3; d++ {
		if extent := max[d] - min[d]; extent > 0 {
			scale[d] = mortonMax / extent
			degenerate = false
		} else {
			min[d] = 0
		}
	}
	if degenerate {
		return false, nil
	}

	keyed := o.scratch[:s.hi-s.lo]
	err := lfs.ParallelRange(ctx, len(keyed), o.workers, func(chunk, lo, hi int) error {
		for k := lo; k < hi; k++ {
			i := o.indices[s.lo+k]
			p := i * 3
			keyed[k] = keyedIndex{
				code: mortonCode(
					cell(float64(o.means[p]), min[0], scale[0]),
					cell(float64(o.means[p+1]), min[1], scale[1]),
					cell(float64(o.means[p+2]), min[2], scale[2]),
				),
				index: i,
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	sort.SliceStable(keyed, func(a, b int) bool { return keyed[a].code < keyed[b].code })
	for k, ki := range keyed {
		o.indices[s.lo+k] = ki.index
		o.codes[s.lo+k] = ki.code
	}
	return true, nil
}
