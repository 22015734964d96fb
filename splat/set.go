/*
Package splat holds the per-Gaussian attribute buffers of a splat scene and reads them
from 3D Gaussian Splatting PLY files.
*/
package splat

import (
	"fmt"
	"math"
)

// MaxDegree is the highest supported spherical-harmonic band degree.
const MaxDegree = 3

// coeffsPerDegree is the number of higher-order SH coefficients per color channel.
var coeffsPerDegree = [MaxDegree + 1]int{0, 3, 8, 15}

// CoeffsForDegree returns the number of higher-order SH coefficients per color channel
// for a band degree, or -1 if the degree is unsupported.
func CoeffsForDegree(degree int) int {
	if degree < 0 || degree > MaxDegree {
		return -1
	}
	return coeffsPerDegree[degree]
}

// DegreeForCoeffs returns the band degree that has the given number of coefficients
// per channel.
func DegreeForCoeffs(coeffs int) (int, error) {
	for d, k := range coeffsPerDegree {
		if k == coeffs {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%d SH coefficients per channel does not correspond to any band degree", coeffs)
}

// Set is a collection of N Gaussian splats stored as flat attribute buffers.
// All values are raw, i.e., before activation: Scales are log-domain, Opacities are logits.
type Set struct {
	Means     []float32 // N*3 positions
	Rotations []float32 // N*4 quaternions in stored component order (w, x, y, z for PLY rot_0..3)
	Scales    []float32 // N*3 log scales
	Opacities []float32 // N opacity logits
	SH0       []float32 // N*3 DC color terms

	// SHN holds the higher-order SH coefficients laid out as [N][K][3], i.e., coefficient
	// j of channel c of point i is SHN[i*K*3 + j*3 + c].
	SHN []float32

	// Degree is the SH band degree (0-3).  K = CoeffsForDegree(Degree).
	Degree int
}

// ValidationError describes a splat set that cannot be encoded.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid splat set: " + e.Reason
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Len returns the number of splats.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Opacities)
}

// Coeffs returns the number of higher-order SH coefficients per channel.
func (s *Set) Coeffs() int {
	return CoeffsForDegree(s.Degree)
}

// Validate checks that the set is non-empty and all attribute buffers agree on N.
func (s *Set) Validate() error {
	n := s.Len()
	if n == 0 {
		return invalid("no splats to write")
	}
	k := CoeffsForDegree(s.Degree)
	if k < 0 {
		return invalid("unsupported SH degree %d", s.Degree)
	}
	checks := []struct {
		name  string
		got   int
		width int
	}{
		{"means", len(s.Means), 3},
		{"rotations", len(s.Rotations), 4},
		{"scales", len(s.Scales), 3},
		{"sh0", len(s.SH0), 3},
		{"shN", len(s.SHN), 3 * k},
	}
	for _, c := range checks {
		if c.got != n*c.width {
			return invalid("%s has %d values, expected %d for %d splats", c.name, c.got, n*c.width, n)
		}
	}
	return nil
}

// Mean returns the position of splat i.
func (s *Set) Mean(i int) [3]float32 {
	return [3]float32{s.Means[i*3], s.Means[i*3+1], s.Means[i*3+2]}
}

// Rotation returns the stored quaternion of splat i.
func (s *Set) Rotation(i int) [4]float32 {
	return [4]float32{s.Rotations[i*4], s.Rotations[i*4+1], s.Rotations[i*4+2], s.Rotations[i*4+3]}
}

// FlattenSHN returns the higher-order SH coefficients as an N x (3*K) row-major matrix with
// channel-major columns: all coefficients of channel 0, then channel 1, then channel 2.
func (s *Set) FlattenSHN() []float32 {
	n, k := s.Len(), s.Coeffs()
	if k <= 0 {
		return nil
	}
	dims := 3 * k
	flat := make([]float32, n*dims)
	for i := 0; i < n; i++ {
		src := s.SHN[i*dims : (i+1)*dims]
		dst := flat[i*dims : (i+1)*dims]
		for c := 0; c < 3; c++ {
			for j := 0; j < k; j++ {
				dst[c*k+j] = src[j*3+c]
			}
		}
	}
	return flat
}

// Bounds returns the axis-aligned bounding box of all finite positions.
func (s *Set) Bounds() (min, max [3]float64) {
	for d := 0; d < 3; d++ {
		min[d] = math.Inf(1)
		max[d] = math.Inf(-1)
	}
	for i := 0; i < len(s.Means); i += 3 {
		for d := 0; d < 3; d++ {
			v := float64(s.Means[i+d])
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
	return
}

// String returns a short description of the set.
func (s *Set) String() string {
	return fmt.Sprintf("%d splats, SH degree %d", s.Len(), s.Degree)
}
