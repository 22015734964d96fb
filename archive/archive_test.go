package archive

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"gocloud.dev/blob/memblob"
)

var testEntries = []struct {
	name string
	data []byte
}{
	{"means_l.webp", []byte("RIFF fake webp payload")},
	{"meta.json", []byte(`{"version":2,"count":1}`)},
}

func writeAll(t *testing.T, s Sink) {
	t.Helper()
	for _, e := range testEntries {
		if err := s.Put(e.name, e.data); err != nil {
			t.Fatalf("put %s: %v", e.name, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func readZip(t *testing.T, data []byte) map[string]*zip.File {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("bad zip: %v", err)
	}
	files := make(map[string]*zip.File)
	for _, f := range zr.File {
		files[f.Name] = f
	}
	for _, e := range testEntries {
		f, found := files[e.name]
		if !found {
			t.Fatalf("zip missing %s", e.name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, e.data) {
			t.Errorf("%s: got %q", e.name, got)
		}
	}
	return files
}

func TestClassify(t *testing.T) {
	tests := map[string]Kind{
		"scene.sog":             ZipFile,
		"out/scene.ZIP":         ZipFile,
		"out/bundle":            Directory,
		"out/bundle.d":          Directory,
		"gs://bucket/scene.sog": Bucket,
		"file:///tmp/out":       Bucket,
	}
	for target, expected := range tests {
		if got := Classify(target); got != expected {
			t.Errorf("%s: expected %s, got %s", target, expected, got)
		}
	}
}

func TestZipDeterministic(t *testing.T) {
	var first, second bytes.Buffer
	writeAll(t, NewZip(&first, Options{}))
	writeAll(t, NewZip(&second, Options{}))
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Errorf("identical entries produced different archives")
	}
	files := readZip(t, first.Bytes())
	if files["means_l.webp"].Method != zip.Store {
		t.Errorf("expected webp entry to be stored")
	}
	if files["meta.json"].Method != zip.Deflate {
		t.Errorf("expected json entry to be deflated")
	}
	if !files["meta.json"].Modified.Equal(DefaultModTime) {
		t.Errorf("expected fixed modification time, got %v", files["meta.json"].Modified)
	}
}

func TestZipFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "scene.sog")
	s, err := Open(context.Background(), filename, Options{})
	if err != nil {
		t.Fatal(err)
	}
	writeAll(t, s)
	if err := s.Close(); err != nil {
		t.Errorf("second close should be a no-op: %v", err)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}
	readZip(t, data)
	if err := s.Put("late.json", nil); err == nil {
		t.Errorf("expected put after close to fail")
	}
}

func TestDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	s, err := Open(context.Background(), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("../escape.json", []byte("x")); err == nil {
		t.Errorf("expected bad entry name to be rejected")
	}
	writeAll(t, s)
	for _, e := range testEntries {
		got, err := os.ReadFile(filepath.Join(dir, e.name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, e.data) {
			t.Errorf("%s: got %q", e.name, got)
		}
	}
	if n := len(s.(*DirSink).Entries()); n != len(testEntries) {
		t.Errorf("expected %d entries, got %d", len(testEntries), n)
	}
}

func TestSplitBucketURL(t *testing.T) {
	tests := []struct {
		target, bucket, key string
	}{
		{"gs://bucket/scenes/garden.sog", "gs://bucket", "scenes/garden.sog"},
		{"s3://bucket/garden?region=us-east-2", "s3://bucket?region=us-east-2", "garden"},
		{"file:///data/out/garden", "file:///data/out", "garden"},
		{"mem://scenes/garden.sog", "mem://", "scenes/garden.sog"},
	}
	for _, tc := range tests {
		bucket, key, err := SplitBucketURL(tc.target)
		if err != nil {
			t.Errorf("%s: %v", tc.target, err)
			continue
		}
		if bucket != tc.bucket || key != tc.key {
			t.Errorf("%s: expected (%s, %s), got (%s, %s)", tc.target, tc.bucket, tc.key, bucket, key)
		}
	}
	if _, _, err := SplitBucketURL("gs://bucket"); err == nil {
		t.Errorf("expected error for missing key")
	}
}

func TestBlobZip(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	s, err := NewBlob(ctx, bucket, "scenes/garden.sog", Options{})
	if err != nil {
		t.Fatal(err)
	}
	writeAll(t, s)
	data, err := bucket.ReadAll(ctx, "scenes/garden.sog")
	if err != nil {
		t.Fatal(err)
	}
	readZip(t, data)
	attrs, err := bucket.Attributes(ctx, "scenes/garden.sog")
	if err != nil {
		t.Fatal(err)
	}
	if attrs.ContentType != "application/zip" {
		t.Errorf("unexpected content type %q", attrs.ContentType)
	}
}

func TestBlobLoose(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	s, err := NewBlob(ctx, bucket, "scenes/garden/", Options{})
	if err != nil {
		t.Fatal(err)
	}
	writeAll(t, s)
	for _, e := range testEntries {
		got, err := bucket.ReadAll(ctx, "scenes/garden/"+e.name)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, e.data) {
			t.Errorf("%s: got %q", e.name, got)
		}
	}
}

func TestOpenFileBucket(t *testing.T) {
	dir := t.TempDir()
	target := "file://" + filepath.ToSlash(dir) + "/garden.sog"
	s, err := Open(context.Background(), target, Options{})
	if err != nil {
		t.Fatal(err)
	}
	writeAll(t, s)
	data, err := os.ReadFile(filepath.Join(dir, "garden.sog"))
	if err != nil {
		t.Fatal(err)
	}
	readZip(t, data)
}
