package sog

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/archive"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/raster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/splat"

	"golang.org/x/image/webp"
)

// randomSet returns n splats with random attributes for the given SH degree.
func randomSet(n, degree int, seed int64) *splat.Set {
	r := rand.New(rand.NewSource(seed))
	k := splat.CoeffsForDegree(degree)
	s := &splat.Set{
		Means:     make([]float32, n*3),
		Rotations: make([]float32, n*4),
		Scales:    make([]float32, n*3),
		Opacities: make([]float32, n),
		SH0:       make([]float32, n*3),
		SHN:       make([]float32, n*k*3),
		Degree:    degree,
	}
	for i := range s.Means {
		s.Means[i] = float32(r.NormFloat64() * 20)
	}
	for i := range s.Rotations {
		s.Rotations[i] = float32(r.NormFloat64())
	}
	for i := range s.Scales {
		s.Scales[i] = float32(r.NormFloat64() - 4)
	}
	for i := range s.Opacities {
		s.Opacities[i] = float32(r.NormFloat64() * 3)
	}
	for i := range s.SH0 {
		s.SH0[i] = float32(r.NormFloat64())
	}
	for i := range s.SHN {
		s.SHN[i] = float32(r.NormFloat64() * 0.2)
	}
	return s
}

// memorySink records entries in memory.
type memorySink struct {
	mu      sync.Mutex
	entries map[string][]byte
	names   []string
	closed  int
	failPut string
}

func newMemorySink() *memorySink {
	return &memorySink{entries: make(map[string][]byte)}
}

func (s *memorySink) Put(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == s.failPut {
		return errors.New("disk full")
	}
	s.entries[name] = append([]byte(nil), data...)
	s.names = append(s.names, name)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

var _ archive.Sink = (*memorySink)(nil)

func decodeRaster(t *testing.T, data []byte) *raster.Raster {
	t.Helper()
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("can't decode webp: %v", err)
	}
	return raster.FromImage(img)
}

// quatError returns the per-component error of a against the normalized b, with b's sign
// flipped to match a since q and -q are the same rotation.
func quatError(a [4]float64, b [4]float32) [4]float64 {
	var norm, dot float64
	for i, c := range b {
		norm += float64(c) * float64(c)
		dot += a[i] * float64(c)
	}
	norm = math.Sqrt(norm)
	if dot < 0 {
		norm = -norm
	}
	var e [4]float64
	for i := range a {
		e[i] = math.Abs(a[i] - float64(b[i])/norm)
	}
	return e
}
