package raster

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/gen2brain/webp"
)

// Encoder is a lossless image codec for rasters.
type Encoder interface {
	// Name is the codec name used in configuration, e.g., "webp".
	Name() string

	// Extension is the file suffix including the dot, e.g., ".webp".
	Extension() string

	Encode(w io.Writer, r *Raster) error
}

var (
	encodersMu sync.RWMutex
	encoders   = make(map[string]Encoder)
)

// RegisterEncoder makes an encoder available by name.
func RegisterEncoder(e Encoder) {
	encodersMu.Lock()
	encoders[e.Name()] = e
	encodersMu.Unlock()
}

// Lookup returns the encoder registered under name.  An empty name selects webp.
func Lookup(name string) (Encoder, error) {
	if name == "" {
		name = "webp"
	}
	encodersMu.RLock()
	e, found := encoders[strings.ToLower(name)]
	encodersMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("unknown raster codec %q, available: %s", name, strings.Join(EncoderNames(), ", "))
	}
	return e, nil
}

// EncoderNames returns the sorted names of registered encoders.
func EncoderNames() []string {
	encodersMu.RLock()
	defer encodersMu.RUnlock()
	names := make([]string, 0, len(encoders))
	for name := range encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EncodeBytes encodes a raster into memory.
func EncodeBytes(e Encoder, r *Raster) ([]byte, error) {
	if r == nil || r.Width <= 0 || r.Height <= 0 || len(r.Pix) != r.Width*r.Height*4 {
		return nil, fmt.Errorf("can't encode malformed raster")
	}
	var buf bytes.Buffer
	if err := e.Encode(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func init() {
	RegisterEncoder(WebP{})
	RegisterEncoder(PNG{})
}

// WebP encodes rasters as lossless (VP8L) WebP.
type WebP struct{}

func (WebP) Name() string      { return "webp" }
func (WebP) Extension() string { return ".webp" }

// Encode writes r losslessly.  Exact keeps the RGB of fully transparent pixels,
// which the padding of every raster relies on.
func (WebP) Encode(w io.Writer, r *Raster) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("lossless webp encoding of %d x %d raster failed: %v", r.Width, r.Height, p)
		}
	}()
	opts := webp.Options{Lossless: true, Exact: true}
	if err = webp.Encode(w, r.Image(), opts); err != nil {
		return fmt.Errorf("lossless webp encoding of %d x %d raster failed: %v", r.Width, r.Height, err)
	}
	return nil
}

// PNG encodes rasters as PNG, useful when inspecting bundles with ordinary image tools.
type PNG struct{}

func (PNG) Name() string      { return "png" }
func (PNG) Extension() string { return ".png" }

func (PNG) Encode(w io.Writer, r *Raster) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, r.Image()); err != nil {
		return fmt.Errorf("png encoding of %d x %d raster failed: %v", r.Width, r.Height, err)
	}
	return nil
}
