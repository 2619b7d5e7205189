package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/params"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"gopkg.in/yaml.v3"
)

// FileLoader is the Loader for .json, .hcl, .yaml and .yml files.
type FileLoader struct {
	environ func() []string
}

var _ Loader = (*FileLoader)(nil)

// LoaderOption customises a FileLoader.
type LoaderOption func(*FileLoader)

// WithEnviron replaces os.Environ as the source of ${env.NAME} values.
func WithEnviron(fn func() []string) LoaderOption {
	return func(l *FileLoader) { l.environ = fn }
}

// NewLoader creates a file loader.
func NewLoader(opts ...LoaderOption) *FileLoader {
	l := &FileLoader{environ: os.Environ}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load parses and validates the file at path.
func (l *FileLoader) Load(ctx context.Context, path string) (*Model, error) {
	logger := ctxlog.FromContext(ctx).With("path", path)
	logger.Debug("Loading configuration.")

	if path == "" {
		return nil, &Error{Err: fmt.Errorf("no configuration file given")}
	}
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Path: path, Err: ErrMissingFile}
		}
		return nil, &Error{Path: path, Err: err}
	}

	body, jsonSyntax, err := parse(path, src)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, &Error{Path: path, Err: diags}
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": envObject(l.environ())},
	}
	values := make(map[string]cty.Value, len(attrs))
	for name, attr := range attrs {
		v, diags := attr.Expr.Value(evalCtx)
		if diags.HasErrors() && jsonSyntax && !referencesEnv(attr.Expr) {
			// Without an EvalContext JSON strings are literals, so opaque
			// values such as "${id}" load as written.
			logger.Debug("Reading attribute literally.", "key", name)
			v, diags = attr.Expr.Value(nil)
		}
		if diags.HasErrors() {
			return nil, &Error{Path: path, Key: name, Err: diags}
		}
		values[name] = v
	}

	m, err := decode(ctx, values)
	if err != nil {
		var cfgErr *Error
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
			return nil, cfgErr
		}
		return nil, &Error{Path: path, Err: err}
	}
	m.Path = path

	logger.Debug("Configuration loaded.", "objects", len(m.ObjectIDs), "blocks", m.BlockNames(), "db_url", m.DB.URL)
	return m, nil
}

// parse reports whether the file uses the HCL JSON syntax (.json and YAML).
func parse(path string, src []byte) (hcl.Body, bool, error) {
	parser := hclparse.NewParser()
	var (
		file       *hcl.File
		diags      hcl.Diagnostics
		jsonSyntax = true
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		file, diags = parser.ParseJSON(src, path)
	case ".hcl":
		file, diags = parser.ParseHCL(src, path)
		jsonSyntax = false
	case ".yaml", ".yml":
		data, err := yamlToJSON(src)
		if err != nil {
			return nil, false, err
		}
		file, diags = parser.ParseJSON(data, path)
	default:
		return nil, false, fmt.Errorf("unsupported file extension %q, want .json, .hcl, .yaml or .yml", ext)
	}
	if diags.HasErrors() {
		return nil, false, diags
	}
	return file.Body, jsonSyntax, nil
}

func referencesEnv(expr hcl.Expression) bool {
	for _, tr := range expr.Variables() {
		if tr.RootName() == "env" {
			return true
		}
	}
	return false
}

// yamlToJSON re-encodes a YAML mapping as JSON so it can be evaluated with
// the HCL JSON syntax.
func yamlToJSON(src []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	norm := normalizeYAML(doc)
	if _, ok := norm.(map[string]any); !ok {
		return nil, fmt.Errorf("YAML document must be a mapping")
	}
	return json.Marshal(norm)
}

func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = normalizeYAML(el)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[fmt.Sprint(k)] = normalizeYAML(el)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = normalizeYAML(el)
		}
		return out
	default:
		return v
	}
}

func envObject(environ []string) cty.Value {
	vals := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vals[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(vals)
}

func decode(ctx context.Context, values map[string]cty.Value) (*Model, error) {
	m := &Model{Blocks: make(map[string]params.Params)}

	dbVal, ok := values[KeyDB]
	if !ok || dbVal.IsNull() {
		return nil, &Error{Key: KeyDB, Err: fmt.Errorf("is required")}
	}
	db, err := params.New(dbVal)
	if err != nil {
		return nil, &Error{Key: KeyDB, Err: err}
	}
	if m.DB.URL, err = db.String("url", ""); err != nil {
		return nil, &Error{Key: KeyDB, Err: err}
	}
	if m.DB.URL == "" {
		return nil, &Error{Key: KeyDB, Err: fmt.Errorf("url is required")}
	}
	if m.DB.Type, err = db.String("type", ""); err != nil {
		return nil, &Error{Key: KeyDB, Err: err}
	}
	if m.DB.Name, err = db.String("name", ""); err != nil {
		return nil, &Error{Key: KeyDB, Err: err}
	}

	if m.ObjectIDs, err = stringList(values, KeyObjectIDs); err != nil {
		return nil, err
	}
	if len(m.ObjectIDs) == 0 {
		return nil, &Error{Key: KeyObjectIDs, Err: fmt.Errorf("must list at least one object id")}
	}
	if m.Pipelines, err = stringList(values, KeyPipelines); err != nil {
		return nil, err
	}
	if m.Namespaces, err = stringList(values, KeyNamespaces); err != nil {
		return nil, err
	}
	if len(m.Namespaces) == 0 {
		m.Namespaces = []string{DefaultNamespace}
	}

	if v, ok := values[KeyFeatureDescriptor]; ok {
		if m.FeatureDescriptor, err = params.New(v); err != nil {
			return nil, &Error{Key: KeyFeatureDescriptor, Err: err}
		}
	}
	if v, ok := values[KeyMonitor]; ok && !v.IsNull() {
		if m.Monitor, err = decodeMonitor(v); err != nil {
			return nil, &Error{Key: KeyMonitor, Err: err}
		}
	}

	logger := ctxlog.FromContext(ctx)
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch name {
		case KeyDB, KeyObjectIDs, KeyPipelines, KeyNamespaces, KeyFeatureDescriptor, KeyMonitor:
			continue
		}
		v := values[name]
		if ty := v.Type(); v.IsNull() || !(ty.IsObjectType() || ty.IsMapType()) {
			logger.Warn("Ignoring configuration key that is not a parameter block.", "key", name)
			continue
		}
		p, err := params.New(v)
		if err != nil {
			return nil, &Error{Key: name, Err: err}
		}
		block := BlockName(name)
		if _, dup := m.Blocks[block]; dup {
			return nil, &Error{Key: name, Err: fmt.Errorf("duplicate parameter block %q", block)}
		}
		m.Blocks[block] = p
	}
	return m, nil
}

func stringList(values map[string]cty.Value, key string) ([]string, error) {
	v, ok := values[key]
	if !ok || v.IsNull() {
		return nil, nil
	}
	list, err := convert.Convert(v, cty.List(cty.String))
	if err != nil {
		return nil, &Error{Key: key, Err: fmt.Errorf("must be a list of strings: %w", err)}
	}
	out := make([]string, 0, list.LengthInt())
	for it := list.ElementIterator(); it.Next(); {
		_, el := it.Element()
		if el.IsNull() {
			return nil, &Error{Key: key, Err: fmt.Errorf("must not contain null")}
		}
		out = append(out, el.AsString())
	}
	return out, nil
}

func decodeMonitor(v cty.Value) (*Monitor, error) {
	p, err := params.New(v)
	if err != nil {
		return nil, err
	}
	mon := &Monitor{}
	if mon.URL, err = p.String("url", ""); err != nil {
		return nil, err
	}
	if mon.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if mon.Namespace, err = p.String("namespace", ""); err != nil {
		return nil, err
	}
	if mon.Event, err = p.String("event", ""); err != nil {
		return nil, err
	}
	if mon.InsecureSkipVerify, err = p.Bool("insecure_skip_verify", false); err != nil {
		return nil, err
	}
	timeout, err := p.String("timeout", "")
	if err != nil {
		return nil, err
	}
	if timeout != "" {
		if mon.Timeout, err = time.ParseDuration(timeout); err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
	}
	return mon, nil
}
