package tod

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/observation"
	"github.com/specialistvlad/ortrain/internal/pipeline"
	"github.com/specialistvlad/ortrain/internal/port"
	"github.com/specialistvlad/ortrain/internal/store"
	"github.com/zclconf/go-cty/cty"
)

// Port names of the TOD cells.
const (
	PortFeatures     = "features"
	PortPoints       = "points"
	PortObservations = "observations"
)

// Cloud is the accumulated model: object-frame points and their descriptors.
type Cloud struct {
	Points      []Point
	Descriptors [][]float64
}

// CloudType carries the accumulated model between the trainer and the
// post-processor.
var CloudType = cty.Capsule("tod_cloud", reflect.TypeOf(Cloud{}))

func cloudFromVal(v cty.Value) *Cloud {
	if v == cty.NilVal || v.IsNull() || !v.Type().Equals(CloudType) {
		return &Cloud{}
	}
	return v.EncapsulatedValue().(*Cloud)
}

// extractCell runs an Extractor on each observation.
type extractCell struct {
	ext Extractor
}

func (c *extractCell) Name() string { return "TODExtractor" }

func (c *extractCell) Inputs() port.Specs {
	return observation.Specs(observation.PortImage, observation.PortMask, observation.PortDepth, observation.PortK)
}

func (c *extractCell) Outputs() port.Specs {
	return port.Specs{{Name: PortFeatures, Type: FeaturesType, Doc: "Camera-frame keypoints with descriptors."}}
}

func (c *extractCell) Process(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
	frame := Frame{K: observation.Matrix(in[observation.PortK])}
	frame.Image, _ = store.ImageFromVal(in[observation.PortImage])
	frame.Mask, _ = store.ImageFromVal(in[observation.PortMask])
	frame.Depth, _ = store.ImageFromVal(in[observation.PortDepth])

	f, err := c.ext.Extract(ctx, frame)
	if err != nil {
		return nil, cell.OK, err
	}
	if len(f.Points) != len(f.Descriptors) {
		return nil, cell.OK, fmt.Errorf("extractor returned %d points and %d descriptors", len(f.Points), len(f.Descriptors))
	}
	return port.Values{PortFeatures: cty.CapsuleVal(FeaturesType, f)}, cell.OK, nil
}

// trainer moves each observation's features into the object frame and
// appends them to the cloud.
type trainer struct {
	cloud        Cloud
	observations int64
}

var _ cell.Defaulter = (*trainer)(nil)

func (t *trainer) Name() string { return "TODTrainer" }

func (t *trainer) Inputs() port.Specs {
	return append(port.Specs{{Name: PortFeatures, Type: FeaturesType}},
		observation.Specs(observation.PortR, observation.PortT)...)
}

func (t *trainer) Outputs() port.Specs {
	return port.Specs{
		{Name: PortPoints, Type: CloudType, Doc: "Accumulated object-frame points and descriptors."},
		{Name: PortObservations, Type: cty.Number},
	}
}

func (t *trainer) Defaults() port.Values {
	return t.values()
}

func (t *trainer) values() port.Values {
	snapshot := t.cloud
	return port.Values{
		PortPoints:       cty.CapsuleVal(CloudType, &snapshot),
		PortObservations: cty.NumberIntVal(t.observations),
	}
}

func (t *trainer) Process(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
	fv := in[PortFeatures]
	if fv.IsNull() {
		return nil, cell.OK, fmt.Errorf("trainer received no features")
	}
	f := fv.EncapsulatedValue().(*Features)
	r := observation.Matrix(in[observation.PortR])
	tr := observation.Matrix(in[observation.PortT])
	if len(r) != 9 || len(tr) != 3 {
		return nil, cell.OK, fmt.Errorf("pose needs a 3x3 R and a 3-vector T, got %d and %d entries", len(r), len(tr))
	}

	for i, p := range f.Points {
		t.cloud.Points = append(t.cloud.Points, toObject(p, r, tr))
		t.cloud.Descriptors = append(t.cloud.Descriptors, f.Descriptors[i])
	}
	t.observations++

	ctxlog.FromContext(ctx).Debug("Observation accumulated.", "new_points", len(f.Points), "total_points", len(t.cloud.Points))
	return t.values(), cell.OK, nil
}

// toObject inverts p = R*o + T.
func toObject(p Point, r, t []float64) Point {
	d := [3]float64{p[0] - t[0], p[1] - t[1], p[2] - t[2]}
	var o Point
	for i := 0; i < 3; i++ {
		o[i] = r[i]*d[0] + r[3+i]*d[1] + r[6+i]*d[2]
	}
	return o
}

// Document is the stored TOD model.
type Document struct {
	Extractor    string      `json:"extractor"`
	Observations int         `json:"observations"`
	Points       []Point     `json:"points"`
	Descriptors  [][]float64 `json:"descriptors"`
}

// postProcessor turns the cloud into a Document.
type postProcessor struct {
	extractor string
	minPoints int
}

func (p *postProcessor) Name() string { return "TODPostProcessor" }

func (p *postProcessor) Inputs() port.Specs {
	return port.Specs{
		{Name: PortPoints, Type: CloudType},
		{Name: PortObservations, Type: cty.Number},
	}
}

func (p *postProcessor) Outputs() port.Specs {
	return port.Specs{{Name: pipeline.DocumentPort, Type: cty.String, Doc: "JSON model document."}}
}

func (p *postProcessor) Process(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
	cloud := cloudFromVal(in[PortPoints])
	if len(cloud.Points) < p.minPoints {
		return nil, cell.OK, fmt.Errorf("model has %d points, want at least %d", len(cloud.Points), p.minPoints)
	}

	doc := Document{
		Extractor:   p.extractor,
		Points:      append([]Point{}, cloud.Points...),
		Descriptors: append([][]float64{}, cloud.Descriptors...),
	}
	if n := in[PortObservations]; !n.IsNull() {
		count, _ := n.AsBigFloat().Int64()
		doc.Observations = int(count)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, cell.OK, fmt.Errorf("failed to encode model document: %w", err)
	}
	return port.Values{pipeline.DocumentPort: cty.StringVal(string(data))}, cell.OK, nil
}
