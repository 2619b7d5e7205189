package config

import (
	"sort"
	"strings"
	"time"

	"github.com/specialistvlad/ortrain/internal/params"
	"github.com/specialistvlad/ortrain/internal/store"
)

// Reserved top-level keys. Every other object-valued key is a pipeline
// parameter block.
const (
	KeyDB                = "db"
	KeyObjectIDs         = "object_ids"
	KeyPipelines         = "pipelines"
	KeyNamespaces        = "namespaces"
	KeyFeatureDescriptor = "feature_descriptor"
	KeyMonitor           = "monitor"
)

// DefaultNamespace is searched for pipelines when the configuration names
// none.
const DefaultNamespace = "object_recognition"

// Model is a loaded configuration.
type Model struct {
	Path       string
	DB         store.Params
	ObjectIDs  []string
	Pipelines  []string
	Namespaces []string
	// FeatureDescriptor is shared by every pipeline block that does not
	// set its own.
	FeatureDescriptor params.Params
	Monitor           *Monitor
	// Blocks are keyed by lower-cased pipeline type name.
	Blocks map[string]params.Params
}

// Monitor configures the socket.io progress reporter.
type Monitor struct {
	URL                string
	Namespace          string
	Event              string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// BlockName returns the configuration key of a pipeline type.
func BlockName(typeName string) string {
	return strings.ToLower(typeName)
}

// PipelineParams returns the parameters of a pipeline type and whether the
// configuration has a block for it. Without a block the parameters hold only
// the shared feature_descriptor, if any.
func (m *Model) PipelineParams(typeName string) (params.Params, bool) {
	p, ok := m.Blocks[BlockName(typeName)]
	if !ok {
		p = params.Empty()
	}
	if m.FeatureDescriptor.Len() > 0 && !p.Has(KeyFeatureDescriptor) {
		p = p.With(KeyFeatureDescriptor, m.FeatureDescriptor.Value())
	}
	return p, ok
}

// BlockNames returns the parameter block keys, sorted.
func (m *Model) BlockNames() []string {
	names := make([]string, 0, len(m.Blocks))
	for name := range m.Blocks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
