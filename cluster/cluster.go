/*
Package cluster provides vector quantization for the SOG codec: a Clusterer interface that
device-backed accelerators can implement, a CPU k-means engine used when no accelerator is
registered, and a cache that memoizes clustering results across exports.
*/
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
)

// ErrFallbackToCPU indicates a registered accelerator cannot handle a request.  The
// caller should transparently run the CPU engine instead.
var ErrFallbackToCPU = errors.New("cluster: falling back to CPU k-means")

// Result is the output of a clustering call.
type Result struct {
	// Centroids holds K centroids of Dims values each, row-major.
	Centroids []float32

	// Labels holds the centroid index assigned to each input point.
	Labels []int32

	K    int
	Dims int
}

// Centroid returns centroid i.
func (r *Result) Centroid(i int) []float32 {
	return r.Centroids[i*r.Dims : (i+1)*r.Dims]
}

// Check verifies the result is consistent with n input points.
func (r *Result) Check(n int) error {
	if r == nil || r.K <= 0 || len(r.Centroids) == 0 {
		return fmt.Errorf("clustering returned no centroids")
	}
	if len(r.Centroids) != r.K*r.Dims {
		return fmt.Errorf("clustering returned %d centroid values, expected %d x %d", len(r.Centroids), r.K, r.Dims)
	}
	if len(r.Labels) != n {
		return fmt.Errorf("clustering returned %d labels for %d points", len(r.Labels), n)
	}
	for i, label := range r.Labels {
		if label < 0 || int(label) >= r.K {
			return fmt.Errorf("clustering label %d of point %d is outside [0,%d)", label, i, r.K)
		}
	}
	return nil
}

// Clusterer partitions n points of the given dimensionality into at most k clusters.
// data holds the points row-major, so len(data) == n*dims.  Implementations may return
// fewer than k clusters when there are fewer points or distinct values than k.
type Clusterer interface {
	// Name identifies the engine, e.g., "cpu-kmeans".
	Name() string

	Cluster(ctx context.Context, data []float32, dims, k, iterations int) (*Result, error)
}

var (
	accelMu sync.RWMutex
	accel   Clusterer
)

// RegisterAccelerator registers a device-backed Clusterer.  Only one accelerator can be
// registered; a later call replaces the previous one and nil removes it.
//
// Accelerator packages typically register from init():
//
//	func init() {
//	    cluster.RegisterAccelerator(NewDeviceKMeans())
//	}
func RegisterAccelerator(c Clusterer) {
	accelMu.Lock()
	accel = c
	accelMu.Unlock()
	if c != nil {
		lfs.Infof("Registered clustering accelerator %q\n", c.Name())
	}
}

// Accelerator returns the registered accelerator or nil if none.
func Accelerator() Clusterer {
	accelMu.RLock()
	c := accel
	accelMu.RUnlock()
	return c
}

// Default returns the registered accelerator with CPU fallback, or the CPU engine if no
// accelerator has been registered.
func Default(workers int) Clusterer {
	cpu := &KMeans{Workers: workers}
	if a := Accelerator(); a != nil {
		return WithFallback(a, cpu)
	}
	return cpu
}

type fallback struct {
	primary, secondary Clusterer
}

// WithFallback returns a Clusterer that runs primary and switches to secondary whenever
// primary returns ErrFallbackToCPU.
func WithFallback(primary, secondary Clusterer) Clusterer {
	return fallback{primary, secondary}
}

func (f fallback) Name() string {
	return f.primary.Name()
}

func (f fallback) Cluster(ctx context.Context, data []float32, dims, k, iterations int) (*Result, error) {
	result, err := f.primary.Cluster(ctx, data, dims, k, iterations)
	if errors.Is(err, ErrFallbackToCPU) {
		lfs.Debugf("Accelerator %q declined %d x %d clustering, using %s\n", f.primary.Name(), len(data)/dims, dims, f.secondary.Name())
		return f.secondary.Cluster(ctx, data, dims, k, iterations)
	}
	return result, err
}

func checkArgs(data []float32, dims, k int) error {
	if dims <= 0 {
		return fmt.Errorf("bad dimensionality %d", dims)
	}
	if len(data) == 0 {
		return fmt.Errorf("no points to cluster")
	}
	if len(data)%dims != 0 {
		return fmt.Errorf("%d values is not a multiple of dimensionality %d", len(data), dims)
	}
	if k <= 0 {
		return fmt.Errorf("bad cluster count %d", k)
	}
	return nil
}
