/*
Package archive provides the sinks a SOG bundle is written into: a zip file, a directory of
loose files, or objects in a cloud bucket.  A sink accepts named byte blobs and must be
closed exactly once to flush the bundle.
*/
package archive

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Sink receives the named entries of one bundle.
type Sink interface {
	// Put adds an entry.  Names are flat file names such as "means_l.webp".
	Put(name string, data []byte) error

	// Close finalizes the bundle.  It must be called on every exit path.
	Close() error
}

// Entry records one blob written to a sink.
type Entry struct {
	Name string
	Size int
}

// DefaultModTime is the modification time stamped on zip entries when none is given, so
// identical bundles are byte-identical.
var DefaultModTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Kind identifies how an output target is stored.
type Kind uint8

const (
	ZipFile Kind = iota
	Directory
	Bucket
)

func (k Kind) String() string {
	switch k {
	case ZipFile:
		return "zip"
	case Directory:
		return "directory"
	case Bucket:
		return "bucket"
	default:
		return fmt.Sprintf("kind %d", k)
	}
}

// IsZipName returns true if the target names a zip archive (.sog or .zip).
func IsZipName(target string) bool {
	ext := strings.ToLower(path.Ext(target))
	return ext == ".sog" || ext == ".zip"
}

// Classify returns the storage kind for an output target.  Targets with a URL scheme go to a
// bucket, local .sog or .zip paths become zip files, and anything else is a directory.
func Classify(target string) Kind {
	if u, err := url.Parse(target); err == nil && len(u.Scheme) > 1 && strings.Contains(target, "://") {
		return Bucket
	}
	if IsZipName(target) {
		return ZipFile
	}
	return Directory
}

// Options modify how sinks are created.
type Options struct {
	// ModTime is stamped on zip entries.  Zero uses DefaultModTime.
	ModTime time.Time
}

func (o Options) modTime() time.Time {
	if o.ModTime.IsZero() {
		return DefaultModTime
	}
	return o.ModTime
}

// Open returns a sink for the given target.
func Open(ctx context.Context, target string, opts Options) (Sink, error) {
	if target == "" {
		return nil, fmt.Errorf("no output path given")
	}
	switch Classify(target) {
	case Bucket:
		return OpenBlob(ctx, target, opts)
	case ZipFile:
		return CreateZip(target, opts)
	default:
		return CreateDir(target)
	}
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return fmt.Errorf("bad bundle entry name %q", name)
	}
	return nil
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".webp":
		return "image/webp"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	case ".sog", ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
