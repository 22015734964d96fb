/*
Package raster holds the fixed-layout RGBA8 images that carry per-splat attributes in a
SOG bundle and the lossless codecs used to encode them.
*/
package raster

import (
	"fmt"
	"image"
	"math"
)

// Dimensions returns the texture size used for N-sized rasters: both sides are multiples of
// 4 with width = ceil(sqrt(n)/4)*4 and height = ceil(n/width/4)*4.
func Dimensions(n int) (width, height int) {
	if n <= 0 {
		return 0, 0
	}
	width = int(math.Ceil(math.Sqrt(float64(n))/4)) * 4
	height = int(math.Ceil(float64(n)/float64(width)/4)) * 4
	return
}

// Raster is a row-major RGBA8 pixel buffer.  Pixels that are never set stay (0,0,0,0).
type Raster struct {
	Width  int
	Height int
	Pix    []byte
}

// New returns a zero-filled raster.
func New(width, height int) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("bad raster dimensions %d x %d", width, height)
	}
	return &Raster{Width: width, Height: height, Pix: make([]byte, width*height*4)}, nil
}

// ForCount returns a zero-filled raster sized by Dimensions(n).
func ForCount(n int) (*Raster, error) {
	w, h := Dimensions(n)
	return New(w, h)
}

// Len returns the number of pixels.
func (r *Raster) Len() int {
	return r.Width * r.Height
}

// Set writes pixel i in row-major order and reports whether i is inside the raster.
func (r *Raster) Set(i int, px [4]byte) bool {
	if i < 0 || i*4+4 > len(r.Pix) {
		return false
	}
	copy(r.Pix[i*4:i*4+4], px[:])
	return true
}

// At returns pixel i in row-major order, or a zero pixel if i is outside the raster.
func (r *Raster) At(i int) [4]byte {
	var px [4]byte
	if i < 0 || i*4+4 > len(r.Pix) {
		return px
	}
	copy(px[:], r.Pix[i*4:i*4+4])
	return px
}

// Image returns an image sharing the raster's pixel buffer.  Values are not premultiplied.
func (r *Raster) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    r.Pix,
		Stride: r.Width * 4,
		Rect:   image.Rect(0, 0, r.Width, r.Height),
	}
}

// FromImage copies any image into a raster.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	r := &Raster{Width: b.Dx(), Height: b.Dy(), Pix: make([]byte, b.Dx()*b.Dy()*4)}
	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := 0; y < r.Height; y++ {
			src := nrgba.Pix[(y)*nrgba.Stride : y*nrgba.Stride+r.Width*4]
			copy(r.Pix[y*r.Width*4:], src)
		}
		return r
	}
	dst := r.Image()
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			dst.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return r
}
