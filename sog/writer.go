/*
Package sog encodes Gaussian splat scenes into SOG bundles: spatially ordered, quantized
attribute rasters plus a meta.json document, written as a zip archive, a directory of loose
files, or bucket objects.

Write runs the pipeline stages strictly in sequence.  Within a stage, per-point transforms
run over disjoint index ranges in parallel; clustering calls block until done.  Every field
encoder consumes the same Morton permutation, so pixel k of every N-sized raster describes
the same source splat.
*/
package sog

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/archive"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/cluster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/raster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/splat"

	"github.com/twinj/uuid"
)

// DefaultIterations is the number of clustering iterations used when none is given.
const DefaultIterations = 10

// ProgressFunc receives a non-decreasing completion fraction in [0,1] and a stage name at
// every stage boundary.  Returning false cancels the export.
type ProgressFunc func(fraction float32, stage string) bool

// Options control an export.
type Options struct {
	// OutputPath is a .sog/.zip file, a directory, or a bucket URL.  Ignored if Sink is set.
	OutputPath string

	// Sink receives the bundle instead of OutputPath.  Write closes it.
	Sink archive.Sink

	// Iterations is the clustering iteration count.  Non-positive uses DefaultIterations.
	Iterations int

	Progress ProgressFunc

	// Workers bounds per-stage parallelism.  Non-positive uses GOMAXPROCS.
	Workers int

	// Clusterer defaults to cluster.Default(Workers).
	Clusterer cluster.Clusterer

	// Encoder defaults to lossless webp.
	Encoder raster.Encoder

	// Generator is written to meta.json; empty uses lfs.Generator.
	Generator string

	// ModTime is stamped on zip entries; zero uses archive.DefaultModTime.
	ModTime time.Time

	// KeepRasters retains the N-sized rasters in the result, e.g., for WriteArrowTable.
	KeepRasters bool
}

// Result describes a finished (or failed) export.
type Result struct {
	ID    string
	State State

	Count       int
	Width       int
	Height      int
	PaletteSize int // 0 when the input has no higher-order SH

	Meta  *Meta
	Files []archive.Entry
	Bytes int64

	// DegenerateRotations counts quaternions replaced by the identity.
	DegenerateRotations int

	// DegenerateAxes lists position axes with zero extent.
	DegenerateAxes []int

	// Rasters holds N-sized rasters by file stem and Order the source index of every pixel
	// when Options.KeepRasters is set.
	Rasters map[string]*raster.Raster
	Order   []int

	Elapsed time.Duration
}

// Warnings returns the number of recovered numerical degeneracies.
func (r *Result) Warnings() int {
	return r.DegenerateRotations + len(r.DegenerateAxes)
}

type writer struct {
	ctx      context.Context
	set      *splat.Set
	opts     Options
	sink     archive.Sink
	enc      raster.Encoder
	clusters cluster.Clusterer
	result   *Result
	timer    lfs.TimeLog
	last     float32

	order  []int
	meta   Meta
	width  int
	height int
}

// Write encodes set as a SOG bundle.  The sink is closed on every path once opened.  On
// failure the returned error is an *Error and any partially written output should be
// treated as unusable.
func Write(ctx context.Context, set *splat.Set, opts Options) (result *Result, err error) {
	w := &writer{
		ctx:    ctx,
		set:    set,
		opts:   opts,
		result: &Result{ID: uuid.NewV4().String(), State: StateInit},
		timer:  lfs.NewTimeLog(),
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			lfs.Criticalf("Panic during SOG export %s: %v\n%s", w.result.ID, r, debug.Stack())
			err = w.fail(InternalError, fmt.Errorf("%v", r))
		}
		w.result.Elapsed = time.Since(start)
		result = w.result
	}()

	if err := set.Validate(); err != nil {
		if opts.Sink != nil {
			opts.Sink.Close()
		}
		return w.result, w.fail(ValidationError, err)
	}
	if err := w.setup(); err != nil {
		return w.result, err
	}
	defer func() {
		if cerr := w.sink.Close(); cerr != nil && err == nil {
			err = w.fail(IOError, cerr)
		}
	}()
	return w.result, w.run()
}

// fail records a terminal failure and returns the matching *Error.
func (w *writer) fail(kind Kind, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	state := w.result.State
	if kind == Cancelled {
		w.result.State = StateCancelled
		lfs.Infof("SOG export %s cancelled during %s\n", w.result.ID, state)
		return &Error{Kind: Cancelled, State: state, Err: ErrCancelled}
	}
	w.result.State = StateFailed
	lfs.Errorf("SOG export %s failed during %s: %v\n", w.result.ID, state, err)
	return &Error{Kind: kind, State: state, Err: err}
}

// stageError classifies an error from within a stage, treating context cancellation as a
// cancelled export.
func (w *writer) stageError(kind Kind, err error) error {
	if w.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return w.fail(Cancelled, err)
	}
	return w.fail(kind, err)
}

func (w *writer) setup() error {
	w.enc = w.opts.Encoder
	if w.enc == nil {
		w.enc = raster.WebP{}
	}
	w.clusters = w.opts.Clusterer
	if w.clusters == nil {
		w.clusters = cluster.Default(w.opts.Workers)
	}
	if w.opts.Iterations <= 0 {
		w.opts.Iterations = DefaultIterations
	}
	if w.opts.KeepRasters {
		w.result.Rasters = make(map[string]*raster.Raster)
	}
	w.result.Count = w.set.Len()
	w.width, w.height = raster.Dimensions(w.set.Len())
	w.result.Width, w.result.Height = w.width, w.height

	w.sink = w.opts.Sink
	if w.sink == nil {
		var err error
		w.sink, err = archive.Open(w.ctx, w.opts.OutputPath, archive.Options{ModTime: w.opts.ModTime})
		if err != nil {
			return w.fail(IOError, err)
		}
	}
	lfs.Infof("SOG export %s: %s (%s in memory) -> %q, %d x %d textures\n", w.result.ID, w.set,
		lfs.Footprint(w.set), w.opts.OutputPath, w.width, w.height)
	return nil
}

// enter reports progress for a stage and transitions into it.
func (w *writer) enter(s State) error {
	if err := w.ctx.Err(); err != nil {
		return w.fail(Cancelled, err)
	}
	st := stageFor(s)
	if st.fraction < w.last {
		st.fraction = w.last
	}
	w.last = st.fraction
	if w.opts.Progress != nil && !w.opts.Progress(st.fraction, st.name) {
		return w.fail(Cancelled, ErrCancelled)
	}
	w.result.State = s
	return nil
}

func (w *writer) run() error {
	steps := []struct {
		state State
		fn    func() error
	}{
		{StateInit, func() error { return nil }},
		{StateOrdering, w.writeOrder},
		{StatePositions, w.writePositions},
		{StateRotations, w.writeRotations},
		{StateScales, w.writeScales},
		{StateColors, w.writeColors},
		{StateSH, w.writeSHN},
		{StateMetadata, w.writeMeta},
	}
	for _, step := range steps {
		if step.state == StateSH && w.set.Degree == 0 {
			continue
		}
		if err := w.enter(step.state); err != nil {
			return err
		}
		if err := step.fn(); err != nil {
			return err
		}
		w.timer.Lap(step.state.String())
	}
	w.result.State = StateDone
	if w.opts.Progress != nil {
		st := stageFor(StateDone)
		w.opts.Progress(st.fraction, st.name)
	}
	lfs.Infof("SOG export %s wrote %d files, %s\n", w.result.ID, len(w.result.Files), lfs.Bytes(w.result.Bytes))
	return nil
}

func (w *writer) newRaster() (*raster.Raster, error) {
	r, err := raster.New(w.width, w.height)
	if err != nil {
		return nil, w.fail(CodecError, err)
	}
	return r, nil
}

// put encodes a raster and adds it to the bundle, returning the entry name.
func (w *writer) put(stem string, r *raster.Raster, fixedN bool) (string, error) {
	name := stem + w.enc.Extension()
	data, err := raster.EncodeBytes(w.enc, r)
	if err != nil {
		return "", w.fail(CodecError, fmt.Errorf("Failed to write %s: %v", name, err))
	}
	if err := w.putBytes(name, data); err != nil {
		return "", err
	}
	if fixedN && w.result.Rasters != nil {
		w.result.Rasters[stem] = r
	}
	return name, nil
}

func (w *writer) putBytes(name string, data []byte) error {
	if err := w.sink.Put(name, data); err != nil {
		return w.fail(IOError, fmt.Errorf("Failed to write %s: %v", name, err))
	}
	w.result.Files = append(w.result.Files, archive.Entry{Name: name, Size: len(data)})
	w.result.Bytes += int64(len(data))
	return nil
}

func (w *writer) writeOrder() error {
	order, err := Order(w.ctx, w.set.Means, w.opts.Workers)
	if err != nil {
		return w.stageError(InternalError, err)
	}
	w.order = order
	if w.opts.KeepRasters {
		w.result.Order = order
	}
	return nil
}

func (w *writer) writePositions() error {
	bounds, err := positionBounds(w.ctx, w.set.Means, w.opts.Workers)
	if err != nil {
		return w.stageError(InternalError, err)
	}
	if axes := bounds.Degenerate(); len(axes) > 0 {
		w.result.DegenerateAxes = axes
		lfs.Warningf("SOG export %s: position axes %v have zero extent and encode as 0\n", w.result.ID, axes)
	}
	lo, err := w.newRaster()
	if err != nil {
		return err
	}
	hi, err := w.newRaster()
	if err != nil {
		return err
	}
	if err := encodePositions(w.ctx, w.set.Means, w.order, bounds, lo, hi, w.opts.Workers); err != nil {
		return w.stageError(InternalError, err)
	}
	loName, err := w.put("means_l", lo, true)
	if err != nil {
		return err
	}
	hiName, err := w.put("means_u", hi, true)
	if err != nil {
		return err
	}
	w.meta.Means = MeansMeta{Mins: bounds.Mins, Maxs: bounds.Maxs, Files: []string{loName, hiName}}
	return nil
}

func (w *writer) writeRotations() error {
	quats, err := w.newRaster()
	if err != nil {
		return err
	}
	bad, err := encodeRotations(w.ctx, w.set.Rotations, w.order, quats, w.opts.Workers)
	if err != nil {
		return w.stageError(InternalError, err)
	}
	if bad > 0 {
		w.result.DegenerateRotations = bad
		lfs.Warningf("SOG export %s: %d zero-length or non-finite rotations replaced by identity\n", w.result.ID, bad)
	}
	name, err := w.put("quats", quats, true)
	if err != nil {
		return err
	}
	w.meta.Quats = FilesMeta{Files: []string{name}}
	return nil
}

// writeField quantizes a 3-channel field and writes its label raster.
func (w *writer) writeField(stem string, values []float32, alpha func(int) byte) (*FieldMeta, error) {
	lfs.Infof("Running k-means clustering: dims=1 points=%d clusters=%d iterations=%d...\n", len(values), CodebookSize, w.opts.Iterations)
	cb, err := quantizeScalars(w.ctx, w.clusters, values, w.opts.Iterations)
	if err != nil {
		return nil, w.stageError(InternalError, err)
	}
	dst, err := w.newRaster()
	if err != nil {
		return nil, err
	}
	if err := encodeField(w.ctx, cb, w.order, dst, alpha, w.opts.Workers); err != nil {
		return nil, w.stageError(InternalError, err)
	}
	name, err := w.put(stem, dst, true)
	if err != nil {
		return nil, err
	}
	return &FieldMeta{Codebook: cb.Values, Files: []string{name}}, nil
}

func (w *writer) writeScales() error {
	field, err := w.writeField("scales", w.set.Scales, opaque)
	if err != nil {
		return err
	}
	w.meta.Scales = *field
	return nil
}

func (w *writer) writeColors() error {
	opacities := w.set.Opacities
	field, err := w.writeField("sh0", w.set.SH0, func(i int) byte { return OpacityByte(opacities[i]) })
	if err != nil {
		return err
	}
	w.meta.SH0 = *field
	return nil
}

func (w *writer) writeSHN() error {
	shn, err := quantizeSHN(w.ctx, w.clusters, w.set, w.opts.Iterations)
	if err != nil {
		return w.stageError(InternalError, err)
	}
	centroids, err := shn.centroidRaster()
	if err != nil {
		return w.fail(CodecError, err)
	}
	labels, err := w.newRaster()
	if err != nil {
		return err
	}
	if err := shn.encodeLabels(w.ctx, w.order, labels, w.opts.Workers); err != nil {
		return w.stageError(InternalError, err)
	}
	centroidsName, err := w.put("shN_centroids", centroids, false)
	if err != nil {
		return err
	}
	labelsName, err := w.put("shN_labels", labels, true)
	if err != nil {
		return err
	}
	w.result.PaletteSize = shn.palette
	w.meta.SHN = &SHNMeta{
		Count:       shn.palette,
		PaletteSize: shn.palette,
		Bands:       w.set.Degree,
		Coeffs:      shn.coeffs,
		Codebook:    shn.codebook.Values,
		Files:       []string{centroidsName, labelsName},
	}
	return nil
}

func (w *writer) writeMeta() error {
	w.meta.Version = MetaVersion
	w.meta.Asset.Generator = w.opts.Generator
	if w.meta.Asset.Generator == "" {
		w.meta.Asset.Generator = lfs.Generator
	}
	w.meta.Count = w.set.Len()
	data, err := w.meta.Marshal()
	if err != nil {
		return w.fail(CodecError, err)
	}
	if err := w.putBytes("meta.json", data); err != nil {
		return err
	}
	meta := w.meta
	w.result.Meta = &meta
	return nil
}
