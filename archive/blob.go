package archive

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// BlobSink writes a bundle into a gocloud bucket, either as one zip object (when the key
// ends in .sog or .zip) or as loose objects under the key prefix.
type BlobSink struct {
	ctx        context.Context
	bucket     *blob.Bucket
	ownsBucket bool
	prefix     string
	zip        *ZipSink
	entries    []Entry
	closed     bool
}

// SplitBucketURL splits a target URL into a bucket URL that blob.OpenBucket understands and
// the object key.  For file:// targets the bucket is the parent directory.
//
//	gs://bucket/scenes/garden.sog  ->  gs://bucket, scenes/garden.sog
//	file:///data/out/garden        ->  file:///data/out, garden
//	mem://garden.sog               ->  mem://, garden.sog
func SplitBucketURL(target string) (bucketURL, key string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", fmt.Errorf("bad bucket reference %q: %v", target, err)
	}
	switch u.Scheme {
	case "file":
		dir, base := path.Split(u.Path)
		bucketURL = (&url.URL{Scheme: "file", Path: path.Clean(dir), RawQuery: u.RawQuery}).String()
		key = base
	case "mem":
		bucketURL = "mem://"
		key = strings.TrimPrefix(u.Host+u.Path, "/")
	default:
		bucketURL = (&url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}).String()
		key = strings.TrimPrefix(u.Path, "/")
	}
	if key == "" {
		return "", "", fmt.Errorf("bucket reference %q has no object key", target)
	}
	return bucketURL, key, nil
}

// OpenBlob opens the bucket named by target and returns a sink writing under its key.
func OpenBlob(ctx context.Context, target string, opts Options) (*BlobSink, error) {
	bucketURL, key, err := SplitBucketURL(target)
	if err != nil {
		return nil, err
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		lfs.Errorf("Can't open bucket reference @ %q: %v\n", bucketURL, err)
		return nil, err
	}
	s, err := NewBlob(ctx, bucket, key, opts)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	s.ownsBucket = true
	return s, nil
}

// NewBlob returns a sink writing into an already opened bucket.  The bucket is not closed
// with the sink.
func NewBlob(ctx context.Context, bucket *blob.Bucket, key string, opts Options) (*BlobSink, error) {
	s := &BlobSink{ctx: ctx, bucket: bucket, prefix: strings.TrimSuffix(key, "/")}
	if IsZipName(key) {
		w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType(key)})
		if err != nil {
			return nil, fmt.Errorf("failed to open archive object %q: %v", key, err)
		}
		s.zip = NewZip(w, opts) // closing the zip sink closes the object writer
	}
	return s, nil
}

func (s *BlobSink) Put(name string, data []byte) error {
	if s.closed {
		return fmt.Errorf("can't add %q to closed bucket sink", name)
	}
	if s.zip != nil {
		if err := s.zip.Put(name, data); err != nil {
			return err
		}
	} else {
		if err := checkName(name); err != nil {
			return err
		}
		key := path.Join(s.prefix, name)
		if err := s.bucket.WriteAll(s.ctx, key, data, &blob.WriterOptions{ContentType: contentType(name)}); err != nil {
			return fmt.Errorf("failed to write object %q: %v", key, err)
		}
	}
	s.entries = append(s.entries, Entry{Name: name, Size: len(data)})
	return nil
}

// Entries returns the entries written so far.
func (s *BlobSink) Entries() []Entry {
	return s.entries
}

func (s *BlobSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.zip != nil {
		err = s.zip.Close()
	}
	if s.ownsBucket {
		if cerr := s.bucket.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
