package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/zclconf/go-cty/cty"
)

// Image is a raw, row-major pixel buffer.
type Image struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Channels int `json:"channels"`
	// BytesPerSample is 1 for 8-bit images, 2 for 16-bit depth, 4 for float.
	BytesPerSample int    `json:"bytes_per_sample"`
	Data           []byte `json:"-"`
}

// Validate checks that the buffer size matches the declared geometry.
func (img *Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 || img.Channels <= 0 || img.BytesPerSample <= 0 {
		return fmt.Errorf("invalid image geometry %dx%dx%d (%d bytes per sample)", img.Width, img.Height, img.Channels, img.BytesPerSample)
	}
	if want := img.Width * img.Height * img.Channels * img.BytesPerSample; len(img.Data) != want {
		return fmt.Errorf("image data has %d bytes, want %d", len(img.Data), want)
	}
	return nil
}

// At returns the sample of channel c at pixel (x, y). 16-bit samples are
// little-endian unsigned integers, 32-bit samples little-endian floats.
// Out-of-range coordinates return 0.
func (img *Image) At(x, y, c int) float64 {
	if x < 0 || y < 0 || c < 0 || x >= img.Width || y >= img.Height || c >= img.Channels {
		return 0
	}
	off := ((y*img.Width+x)*img.Channels + c) * img.BytesPerSample
	if off+img.BytesPerSample > len(img.Data) {
		return 0
	}
	switch img.BytesPerSample {
	case 1:
		return float64(img.Data[off])
	case 2:
		return float64(binary.LittleEndian.Uint16(img.Data[off:]))
	case 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(img.Data[off:])))
	default:
		return 0
	}
}

// MaxSample is the full-scale value of an integer sample, or 1 for floats.
func (img *Image) MaxSample() float64 {
	switch img.BytesPerSample {
	case 1:
		return math.MaxUint8
	case 2:
		return math.MaxUint16
	default:
		return 1
	}
}

// ImageType is the cty type of image ports.
var ImageType = cty.Capsule("image", reflect.TypeOf(Image{}))

// ImageVal wraps an image for transport on a port. A nil image is a null.
func ImageVal(img *Image) cty.Value {
	if img == nil {
		return cty.NullVal(ImageType)
	}
	return cty.CapsuleVal(ImageType, img)
}

// ImageFromVal unwraps an image port value.
func ImageFromVal(v cty.Value) (*Image, bool) {
	if v == cty.NilVal || v.IsNull() || !v.Type().Equals(ImageType) {
		return nil, false
	}
	return v.EncapsulatedValue().(*Image), true
}
