package tod

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/specialistvlad/ortrain/internal/params"
	"github.com/specialistvlad/ortrain/internal/store"
	"github.com/zclconf/go-cty/cty"
)

// Point is a 3D point in metres.
type Point [3]float64

// Features are the keypoints of one observation, in the camera frame, with
// one descriptor row per point.
type Features struct {
	Points      []Point
	Descriptors [][]float64
}

// FeaturesType is the cty type of the extractor output.
var FeaturesType = cty.Capsule("tod_features", reflect.TypeOf(Features{}))

// Frame is what an extractor sees of an observation.
type Frame struct {
	Image *store.Image
	Mask  *store.Image
	Depth *store.Image
	// K is the row-major 3x3 intrinsics matrix.
	K []float64
}

// Extractor computes features and descriptors from a frame.
type Extractor interface {
	Extract(ctx context.Context, f Frame) (*Features, error)
}

// ExtractorFactory builds an extractor from the feature_descriptor
// parameters.
type ExtractorFactory func(p params.Params) (Extractor, error)

// Extractors maps extractor names to their factories.
type Extractors map[string]ExtractorFactory

// DefaultExtractor is used when feature_descriptor names none.
const DefaultExtractor = "mask_grid"

// DefaultExtractors returns the extractors compiled into the module.
func DefaultExtractors() Extractors {
	return Extractors{DefaultExtractor: newMaskGrid}
}

// Names returns the extractor names, sorted.
func (e Extractors) Names() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// extractorName reads the extractor from feature_descriptor.combination,
// falling back to feature_descriptor.feature.
func extractorName(fd params.Params) (string, error) {
	for _, key := range []string{"combination", "feature"} {
		name, err := fd.String(key, "")
		if err != nil {
			return "", err
		}
		if name != "" {
			return name, nil
		}
	}
	return DefaultExtractor, nil
}

func (e Extractors) build(p params.Params) (string, Extractor, error) {
	fd, _, err := p.Object(featureDescriptorKey)
	if err != nil {
		return "", nil, err
	}
	name, err := extractorName(fd)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", featureDescriptorKey, err)
	}
	factory, ok := e[name]
	if !ok {
		return "", nil, fmt.Errorf("unknown feature extractor %q, available: %v", name, e.Names())
	}
	ext, err := factory(fd)
	if err != nil {
		return "", nil, fmt.Errorf("feature extractor %s: %w", name, err)
	}
	return name, ext, nil
}
