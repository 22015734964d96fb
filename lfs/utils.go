package lfs

import (
	"fmt"
	"path/filepath"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// ConvertToAbsolute returns an absolute path for p, treating relative paths as relative
// to baseDir.
func ConvertToAbsolute(p, baseDir string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path cannot be made absolute")
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	return filepath.Abs(filepath.Join(baseDir, p))
}

// Bytes returns a human readable byte count, e.g., "83 MB".
func Bytes(n int64) string {
	if n < 0 {
		return "unknown"
	}
	return humanize.Bytes(uint64(n))
}

// Footprint returns a human readable estimate of the memory held by v.
func Footprint(v interface{}) string {
	return Bytes(int64(size.Of(v)))
}
