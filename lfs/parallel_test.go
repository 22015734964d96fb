package lfs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestChunks(t *testing.T) {
	tests := []struct {
		n, size int
		want    [][2]int
	}{
		{0, 10, nil},
		{5, 10, [][2]int{{0, 5}}},
		{10, 10, [][2]int{{0, 10}}},
		{25, 10, [][2]int{{0, 10}, {10, 20}, {20, 25}}},
	}
	for _, tc := range tests {
		got := Chunks(tc.n, tc.size)
		if len(got) != len(tc.want) {
			t.Fatalf("Chunks(%d, %d) returned %d ranges, expected %d", tc.n, tc.size, len(got), len(tc.want))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("Chunks(%d, %d)[%d] = %v, expected %v", tc.n, tc.size, i, got[i], tc.want[i])
			}
		}
	}
}

func TestParallelRangeCoversAll(t *testing.T) {
	const n = 3*MinChunk + 17
	for _, workers := range []int{1, 2, 7, 0} {
		visits := make([]int32, n)
		err := ParallelRange(context.Background(), n, workers, func(chunk, lo, hi int) error {
			for i := lo; i < hi; i++ {
				atomic.AddInt32(&visits[i], 1)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("workers %d: unexpected error: %v", workers, err)
		}
		for i, v := range visits {
			if v != 1 {
				t.Fatalf("workers %d: index %d visited %d times", workers, i, v)
			}
		}
	}
}

func TestParallelRangeError(t *testing.T) {
	bad := errors.New("bad chunk")
	err := ParallelRange(context.Background(), 4*MinChunk, 4, func(chunk, lo, hi int) error {
		if chunk == 2 {
			return bad
		}
		return nil
	})
	if !errors.Is(err, bad) {
		t.Fatalf("expected chunk error, got %v", err)
	}
}
