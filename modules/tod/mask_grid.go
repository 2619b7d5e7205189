package tod

import (
	"context"
	"fmt"
	"math"

	"github.com/specialistvlad/ortrain/internal/params"
	"github.com/specialistvlad/ortrain/internal/store"
)

// maskGrid samples the masked pixels on a regular grid and back-projects
// them with the depth image and the intrinsics. The descriptor of a point is
// its normalised color.
type maskGrid struct {
	step       int
	depthScale float64
	minDepth   float64
	maxDepth   float64
}

func newMaskGrid(p params.Params) (Extractor, error) {
	m := &maskGrid{}
	var err error
	if m.step, err = p.Int("step", 4); err != nil {
		return nil, err
	}
	if m.step < 1 {
		return nil, fmt.Errorf("step must be at least 1, got %d", m.step)
	}
	if m.depthScale, err = p.Float("depth_scale", 0.001); err != nil {
		return nil, err
	}
	if m.minDepth, err = p.Float("min_depth", 0); err != nil {
		return nil, err
	}
	if m.maxDepth, err = p.Float("max_depth", 0); err != nil {
		return nil, err
	}
	if m.depthScale <= 0 {
		return nil, fmt.Errorf("depth_scale must be positive")
	}
	return m, nil
}

func (m *maskGrid) Extract(ctx context.Context, f Frame) (*Features, error) {
	if f.Image == nil || f.Mask == nil || f.Depth == nil {
		return nil, fmt.Errorf("mask_grid needs an image, a mask and a depth image")
	}
	if len(f.K) != 9 {
		return nil, fmt.Errorf("intrinsics must have 9 entries, got %d", len(f.K))
	}
	for name, img := range map[string]*store.Image{"image": f.Image, "mask": f.Mask, "depth": f.Depth} {
		if err := img.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	w, h := f.Depth.Width, f.Depth.Height
	if f.Mask.Width != w || f.Mask.Height != h || f.Image.Width != w || f.Image.Height != h {
		return nil, fmt.Errorf("image, mask and depth sizes differ")
	}
	fx, fy, cx, cy := f.K[0], f.K[4], f.K[2], f.K[5]
	if fx == 0 || fy == 0 {
		return nil, fmt.Errorf("intrinsics have a zero focal length")
	}

	out := &Features{}
	full := f.Image.MaxSample()
	for v := 0; v < h; v += m.step {
		for u := 0; u < w; u += m.step {
			if f.Mask.At(u, v, 0) == 0 {
				continue
			}
			z := f.Depth.At(u, v, 0)
			if f.Depth.BytesPerSample != 4 {
				z *= m.depthScale
			}
			// Float depth maps mark missing depth as NaN.
			if math.IsNaN(z) || math.IsInf(z, 0) || z <= 0 || z < m.minDepth || (m.maxDepth > 0 && z > m.maxDepth) {
				continue
			}
			out.Points = append(out.Points, Point{
				(float64(u) - cx) * z / fx,
				(float64(v) - cy) * z / fy,
				z,
			})
			desc := make([]float64, f.Image.Channels)
			for c := range desc {
				desc[c] = f.Image.At(u, v, c) / full
			}
			out.Descriptors = append(out.Descriptors, desc)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
