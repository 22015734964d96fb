package sog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/cluster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/raster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/splat"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/klauspost/compress/zip"
)

func readBundle(t *testing.T, filename string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(filename)
	if err != nil {
		t.Fatalf("can't open bundle: %v", err)
	}
	defer zr.Close()
	files := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		files[f.Name] = data
	}
	return files
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestWriteSinglePoint(t *testing.T) {
	s := randomSet(1, 0, 1)
	filename := filepath.Join(t.TempDir(), "one.sog")
	res, err := Write(context.Background(), s, Options{OutputPath: filename, Iterations: 3})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if res.State != StateDone || res.Width != 4 || res.Height != 4 {
		t.Errorf("unexpected result %+v", res)
	}
	files := readBundle(t, filename)
	expected := []string{"means_l.webp", "means_u.webp", "meta.json", "quats.webp", "scales.webp", "sh0.webp"}
	if got := sortedKeys(files); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected entries %v, got %v", expected, got)
	}
	for _, name := range []string{"means_l.webp", "means_u.webp", "quats.webp", "scales.webp", "sh0.webp"} {
		r := decodeRaster(t, files[name])
		if r.Width != 4 || r.Height != 4 {
			t.Errorf("%s: expected 4 x 4, got %d x %d", name, r.Width, r.Height)
		}
		if r.At(0)[3] == 0 {
			t.Errorf("%s: real pixel has zero alpha", name)
		}
		for k := 1; k < r.Len(); k++ {
			if r.At(k) != [4]byte{} {
				t.Errorf("%s: trailing pixel %d is %v", name, k, r.At(k))
				break
			}
		}
	}

	var meta Meta
	if err := json.Unmarshal(files["meta.json"], &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Version != 2 || meta.Count != 1 || meta.SHN != nil {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Asset.Generator != "LichtFeld Studio" {
		t.Errorf("unexpected generator %q", meta.Asset.Generator)
	}
	if len(meta.Scales.Codebook) != 256 || len(meta.SH0.Codebook) != 256 {
		t.Errorf("expected 256-entry codebooks")
	}
	// the single scale value round-trips exactly through a one-value codebook
	scales := decodeRaster(t, files["scales.webp"]).At(0)
	for d := 0; d < 3; d++ {
		if got := meta.Scales.Codebook[scales[d]]; got != s.Scales[d] {
			t.Errorf("scale %d decoded as %f, expected %f", d, got, s.Scales[d])
		}
	}
}

func TestWriteWithSH(t *testing.T) {
	s := randomSet(10000, 2, 2)
	filename := filepath.Join(t.TempDir(), "garden.sog")
	res, err := Write(context.Background(), s, Options{OutputPath: filename, Iterations: 1})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if res.PaletteSize != 8192 {
		t.Errorf("expected palette of 8192, got %d", res.PaletteSize)
	}
	files := readBundle(t, filename)
	if len(files) != 8 {
		t.Errorf("expected 8 entries, got %v", sortedKeys(files))
	}
	centroids := decodeRaster(t, files["shN_centroids.webp"])
	if centroids.Width != 512 || centroids.Height != 128 {
		t.Errorf("expected 512 x 128 centroid raster, got %d x %d", centroids.Width, centroids.Height)
	}
	var meta Meta
	if err := json.Unmarshal(files["meta.json"], &meta); err != nil {
		t.Fatal(err)
	}
	if meta.SHN == nil || meta.SHN.Bands != 2 || meta.SHN.Coeffs != 8 || meta.SHN.PaletteSize != 8192 {
		t.Fatalf("unexpected shN metadata %+v", meta.SHN)
	}
	labels := decodeRaster(t, files["shN_labels.webp"])
	for k := 0; k < s.Len(); k++ {
		px := labels.At(k)
		if idx := int(px[0]) | int(px[1])<<8; idx >= 8192 {
			t.Fatalf("palette index %d out of range", idx)
		}
	}
}

func TestWriteSmallSH(t *testing.T) {
	s := randomSet(200, 3, 4)
	sink := newMemorySink()
	res, err := Write(context.Background(), s, Options{Sink: sink, Iterations: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.PaletteSize != 200 || res.Meta.SHN.Coeffs != 15 {
		t.Errorf("expected palette of 200 entries with 15 coeffs, got %d / %d", res.PaletteSize, res.Meta.SHN.Coeffs)
	}
	centroids := decodeRaster(t, sink.entries["shN_centroids.webp"])
	if centroids.Width != 64*15 || centroids.Height != 4 {
		t.Errorf("bad centroid raster %d x %d", centroids.Width, centroids.Height)
	}
	if sink.closed != 1 {
		t.Errorf("expected sink closed once, got %d", sink.closed)
	}
}

func TestWriteDegeneratePositions(t *testing.T) {
	s := randomSet(50, 0, 5)
	for i := 0; i < s.Len(); i++ {
		s.Means[i*3], s.Means[i*3+1], s.Means[i*3+2] = 1.5, -2, 7
	}
	sink := newMemorySink()
	res, err := Write(context.Background(), s, Options{Sink: sink, Iterations: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.DegenerateAxes) != 3 {
		t.Errorf("expected 3 degenerate axes, got %v", res.DegenerateAxes)
	}
	for _, name := range []string{"means_l.webp", "means_u.webp"} {
		r := decodeRaster(t, sink.entries[name])
		for k := 0; k < s.Len(); k++ {
			if px := r.At(k); px[0] != 0 || px[1] != 0 || px[2] != 0 {
				t.Fatalf("%s pixel %d should encode zero, got %v", name, k, px)
			}
		}
	}
}

func TestWriteCancelled(t *testing.T) {
	s := randomSet(100, 1, 6)
	sink := newMemorySink()
	calls := 0
	progress := func(fraction float32, stage string) bool {
		calls++
		return calls < 2
	}
	res, err := Write(context.Background(), s, Options{Sink: sink, Progress: progress})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if !IsCancelled(err) || KindOf(err) != Cancelled {
		t.Errorf("expected cancellation, got %v", err)
	}
	if err.Error() != "export cancelled" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if res.State != StateCancelled || calls != 2 {
		t.Errorf("expected cancelled state after 2 calls, got %s after %d", res.State, calls)
	}
	if sink.closed != 1 {
		t.Errorf("sink must be closed on cancellation")
	}
	if len(sink.names) != 0 {
		t.Errorf("no entries expected before ordering, got %v", sink.names)
	}
}

func TestWriteContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := newMemorySink()
	_, err := Write(ctx, randomSet(10, 0, 1), Options{Sink: sink})
	if !IsCancelled(err) {
		t.Errorf("expected cancellation from context, got %v", err)
	}
	if sink.closed != 1 {
		t.Errorf("sink must be closed")
	}
}

func TestWriteProgress(t *testing.T) {
	var fractions []float32
	var names []string
	progress := func(fraction float32, stage string) bool {
		fractions = append(fractions, fraction)
		names = append(names, stage)
		return true
	}
	if _, err := Write(context.Background(), randomSet(20, 0, 2), Options{Sink: newMemorySink(), Progress: progress}); err != nil {
		t.Fatal(err)
	}
	expected := []string{"Initializing", "Ordering", "Positions", "Rotations", "Scales k-means", "Colors k-means", "Writing meta", "Complete"}
	if !reflect.DeepEqual(names, expected) {
		t.Errorf("expected stages %v, got %v", expected, names)
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Errorf("progress decreased: %v", fractions)
		}
	}
	if fractions[len(fractions)-1] != 1 {
		t.Errorf("expected final progress 1, got %v", fractions)
	}
}

func TestWriteValidation(t *testing.T) {
	sink := newMemorySink()
	res, err := Write(context.Background(), &splat.Set{}, Options{Sink: sink})
	if KindOf(err) != ValidationError {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no splats to write") {
		t.Errorf("unexpected message %q", err.Error())
	}
	var verr *splat.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected wrapped *splat.ValidationError")
	}
	if res.State != StateFailed || len(sink.names) != 0 {
		t.Errorf("expected failure without output")
	}

	filename := filepath.Join(t.TempDir(), "empty.sog")
	if _, err := Write(context.Background(), nil, Options{OutputPath: filename}); err == nil {
		t.Errorf("expected error for nil set")
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) {
		t.Errorf("no archive should be created for invalid input")
	}
}

type failingEncoder struct{ raster.WebP }

func (failingEncoder) Encode(w io.Writer, r *raster.Raster) error {
	return errors.New("encoder rejected buffer")
}

type panickingClusterer struct{}

func (panickingClusterer) Name() string { return "panic" }
func (panickingClusterer) Cluster(ctx context.Context, data []float32, dims, k, iterations int) (*cluster.Result, error) {
	panic("device lost")
}

type emptyClusterer struct{}

func (emptyClusterer) Name() string { return "empty" }
func (emptyClusterer) Cluster(ctx context.Context, data []float32, dims, k, iterations int) (*cluster.Result, error) {
	return &cluster.Result{Dims: dims}, nil
}

func TestWriteFailures(t *testing.T) {
	s := randomSet(30, 0, 7)

	sink := newMemorySink()
	_, err := Write(context.Background(), s, Options{Sink: sink, Encoder: failingEncoder{}})
	if KindOf(err) != CodecError || !strings.Contains(err.Error(), "Failed to write means_l.webp") {
		t.Errorf("expected codec error, got %v", err)
	}
	if sink.closed != 1 {
		t.Errorf("sink not closed after codec error")
	}

	sink = newMemorySink()
	sink.failPut = "quats.webp"
	res, err := Write(context.Background(), s, Options{Sink: sink})
	if KindOf(err) != IOError {
		t.Errorf("expected I/O error, got %v", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.State != StateRotations || res.State != StateFailed {
		t.Errorf("expected failure in rotations stage, got %v", err)
	}

	sink = newMemorySink()
	_, err = Write(context.Background(), s, Options{Sink: sink, Clusterer: panickingClusterer{}})
	if KindOf(err) != InternalError || !strings.Contains(err.Error(), "device lost") {
		t.Errorf("expected recovered panic, got %v", err)
	}
	if sink.closed != 1 {
		t.Errorf("sink not closed after panic")
	}

	_, err = Write(context.Background(), s, Options{Sink: newMemorySink(), Clusterer: emptyClusterer{}})
	if err == nil || !strings.Contains(err.Error(), "no centroids") {
		t.Errorf("expected empty clustering error, got %v", err)
	}
}

func TestWriteDeterministic(t *testing.T) {
	s := randomSet(3000, 1, 8)
	dir := t.TempDir()
	var archives [][]byte
	for i, workers := range []int{1, 4} {
		filename := filepath.Join(dir, "run"+string(rune('a'+i))+".sog")
		if _, err := Write(context.Background(), s, Options{OutputPath: filename, Workers: workers, Iterations: 2}); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(filename)
		if err != nil {
			t.Fatal(err)
		}
		archives = append(archives, data)
	}
	if !bytes.Equal(archives[0], archives[1]) {
		t.Errorf("bundles differ between worker counts")
	}
}

func TestWriteDirectoryAndPNG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	enc, err := raster.Lookup("png")
	if err != nil {
		t.Fatal(err)
	}
	res, err := Write(context.Background(), randomSet(40, 0, 3), Options{OutputPath: dir, Encoder: enc})
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range res.Files {
		if _, err := os.Stat(filepath.Join(dir, f.Name)); err != nil {
			t.Errorf("missing %s: %v", f.Name, err)
		}
	}
	if res.Meta.Quats.Files[0] != "quats.png" {
		t.Errorf("expected png file names in metadata, got %v", res.Meta.Quats.Files)
	}
}

func TestWriteArrowTable(t *testing.T) {
	s := randomSet(500, 1, 12)
	res, err := Write(context.Background(), s, Options{Sink: newMemorySink(), Iterations: 1, KeepRasters: true})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteArrowTable(&buf, res); err != nil {
		t.Fatal(err)
	}
	rdr, err := ipc.NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer rdr.Release()
	if n := len(rdr.Schema().Fields()); n != 7 {
		t.Errorf("expected source_index plus 6 raster columns, got %d", n)
	}
	var rows int
	seen := make([]bool, s.Len())
	for rdr.Next() {
		rec := rdr.Record()
		idx := rec.Column(0).(*array.Int64)
		for i := 0; i < idx.Len(); i++ {
			seen[idx.Value(i)] = true
		}
		rows += int(rec.NumRows())
	}
	if rows != s.Len() {
		t.Errorf("expected %d rows, got %d", s.Len(), rows)
	}
	for i, ok := range seen {
		if !ok {
			t.Fatalf("source index %d missing", i)
		}
	}
	if err := WriteArrowTable(&buf, &Result{}); err == nil {
		t.Errorf("expected error without retained rasters")
	}
}

func TestValidateMeta(t *testing.T) {
	if err := ValidateMeta([]byte(`{"version": 2, "count": 0}`)); err == nil {
		t.Errorf("expected incomplete metadata to fail validation")
	}
}
