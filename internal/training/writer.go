package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/pipeline"
	"github.com/specialistvlad/ortrain/internal/port"
	"github.com/specialistvlad/ortrain/internal/store"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// ModelIDPort is the writer output carrying the stored model's id.
const ModelIDPort = "model_id"

// ErrNoDocument is returned when the writer is activated without a document.
var ErrNoDocument = errors.New("post processor produced no db_document")

// modelWriter persists the post-processor's document as a model record.
type modelWriter struct {
	w    store.ModelWriter
	meta store.Model

	lastID   string
	lastDoc  json.RawMessage
	activity int
}

var _ cell.Cell = (*modelWriter)(nil)

func (m *modelWriter) Name() string { return "ModelWriter" }

func (m *modelWriter) Inputs() port.Specs {
	return port.Specs{{Name: pipeline.DocumentPort, Type: cty.DynamicPseudoType, Doc: "Model document to persist."}}
}

func (m *modelWriter) Outputs() port.Specs {
	return port.Specs{{Name: ModelIDPort, Type: cty.String}}
}

func (m *modelWriter) Process(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
	doc, err := DocumentJSON(in[pipeline.DocumentPort])
	if err != nil {
		return nil, cell.OK, err
	}

	model := m.meta
	model.Document = doc
	id, err := m.w.WriteModel(ctx, &model)
	if err != nil {
		return nil, cell.OK, fmt.Errorf("failed to persist model: %w", err)
	}
	m.activity++
	m.lastID = id
	m.lastDoc = doc

	ctxlog.FromContext(ctx).Debug("Model document persisted.", "model_id", id, "model_type", model.ModelType, "bytes", len(doc))
	return port.Values{ModelIDPort: cty.StringVal(id)}, cell.OK, nil
}

// DocumentJSON encodes a db_document value. Strings holding valid JSON are
// stored verbatim; any other value is encoded with its cty type.
func DocumentJSON(v cty.Value) (json.RawMessage, error) {
	if v == cty.NilVal || v.IsNull() {
		return nil, ErrNoDocument
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("db_document is not fully known")
	}
	if v.Type() == cty.String && json.Valid([]byte(v.AsString())) {
		return json.RawMessage(v.AsString()), nil
	}
	data, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to encode db_document: %w", err)
	}
	return data, nil
}
