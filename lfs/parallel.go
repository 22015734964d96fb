package lfs

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// MinChunk is the smallest index range handed to a single worker by ParallelRange.
const MinChunk = 4096

// Workers returns the number of workers to use given a requested count, where a
// non-positive request means one worker per available CPU.
func Workers(requested int) int {
	if requested <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return requested
}

// Chunks splits [0,n) into contiguous ranges of at most size elements.  The split only
// depends on n and size, never on the number of workers, so reductions merged in chunk
// order give identical results regardless of parallelism.
func Chunks(n, size int) [][2]int {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = MinChunk
	}
	ranges := make([][2]int, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		ranges = append(ranges, [2]int{lo, hi})
	}
	return ranges
}

// ParallelRange calls fn over disjoint chunks of [0,n) using at most workers goroutines.
// fn receives the chunk number along with its half-open range so callers can write
// per-chunk partial results without synchronization.  The first error cancels the
// remaining chunks and is returned.
func ParallelRange(ctx context.Context, n, workers int, fn func(chunk, lo, hi int) error) error {
	ranges := Chunks(n, MinChunk)
	if len(ranges) == 0 {
		return nil
	}
	workers = Workers(workers)
	if workers == 1 || len(ranges) == 1 {
		for i, r := range ranges {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(i, r[0], r[1]); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, r := range ranges {
		i, lo, hi := i, r[0], r[1]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(i, lo, hi)
		})
	}
	return g.Wait()
}
