package observation

import (
	"fmt"
	"math"

	"github.com/specialistvlad/ortrain/internal/port"
	"github.com/specialistvlad/ortrain/internal/store"
	"github.com/zclconf/go-cty/cty"
)

// Port names emitted by the Dealer. Builders declare the subset they need.
const (
	PortImage         = "image"
	PortMask          = "mask"
	PortDepth         = "depth"
	PortK             = "K"
	PortR             = "R"
	PortT             = "T"
	PortObservationID = "observation_id"
	PortSessionID     = "session_id"
	PortFrameNumber   = "frame_number"
)

// MatrixType carries calibration matrices in row-major order.
var MatrixType = cty.List(cty.Number)

// Ports lists every output of the Dealer, in emission order.
var Ports = port.Specs{
	{Name: PortImage, Type: store.ImageType, Doc: "Color image."},
	{Name: PortMask, Type: store.ImageType, Doc: "Object mask, non-zero inside the object."},
	{Name: PortDepth, Type: store.ImageType, Doc: "Depth image."},
	{Name: PortK, Type: MatrixType, Doc: "3x3 camera intrinsics."},
	{Name: PortR, Type: MatrixType, Doc: "3x3 rotation of the object in the camera frame."},
	{Name: PortT, Type: MatrixType, Doc: "Translation of the object in the camera frame."},
	{Name: PortObservationID, Type: cty.String},
	{Name: PortSessionID, Type: cty.String},
	{Name: PortFrameNumber, Type: cty.Number},
}

// Specs returns the Dealer port declarations with the given names, in the
// order requested. Unknown names are skipped.
func Specs(names ...string) port.Specs {
	out := make(port.Specs, 0, len(names))
	for _, n := range names {
		if s, ok := Ports.Lookup(n); ok {
			out = append(out, s)
		}
	}
	return out
}

// Values encodes an observation on the Dealer's ports. Calibration entries
// must be finite.
func Values(obs *store.Observation) (port.Values, error) {
	k, err := matrixVal(PortK, obs.K[:])
	if err != nil {
		return nil, err
	}
	r, err := matrixVal(PortR, obs.R[:])
	if err != nil {
		return nil, err
	}
	t, err := matrixVal(PortT, obs.T[:])
	if err != nil {
		return nil, err
	}
	return port.Values{
		PortImage:         store.ImageVal(obs.Image),
		PortMask:          store.ImageVal(obs.Mask),
		PortDepth:         store.ImageVal(obs.Depth),
		PortK:             k,
		PortR:             r,
		PortT:             t,
		PortObservationID: cty.StringVal(obs.ID),
		PortSessionID:     cty.StringVal(obs.SessionID),
		PortFrameNumber:   cty.NumberIntVal(int64(obs.FrameNumber)),
	}, nil
}

func matrixVal(name string, m []float64) (cty.Value, error) {
	vals := make([]cty.Value, len(m))
	for i, f := range m {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return cty.NilVal, fmt.Errorf("%s[%d] is not a finite number: %v", name, i, f)
		}
		vals[i] = cty.NumberFloatVal(f)
	}
	return cty.ListVal(vals), nil
}

// Matrix decodes a calibration port value. Null values yield nil.
func Matrix(v cty.Value) []float64 {
	if v == cty.NilVal || v.IsNull() || !v.CanIterateElements() {
		return nil
	}
	out := make([]float64, 0, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		_, el := it.Element()
		if el.IsNull() {
			out = append(out, 0)
			continue
		}
		f, _ := el.AsBigFloat().Float64()
		out = append(out, f)
	}
	return out
}

// String decodes a string port value. Null values yield "".
func String(v cty.Value) string {
	if v == cty.NilVal || v.IsNull() {
		return ""
	}
	return v.AsString()
}
