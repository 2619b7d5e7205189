package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func env(vars ...string) LoaderOption {
	return WithEnviron(func() []string { return vars })
}

const jsonConfig = `{
  "db": {"type": "CouchDB", "url": "${env.DB_URL}"},
  "object_ids": ["amys_country_cheddar_bowl", "band_aid_plastic_strips"],
  "feature_descriptor": {"combination": "mask_grid", "step": 4},
  "TOD": {"min_points": 10},
  "stats": {},
  "monitor": {"url": "http://localhost:3000/socket.io/", "timeout": "3s"},
  "comment": "ignored"
}`

func TestLoad_Formats(t *testing.T) {
	hclConfig := `
db = { url = "${env.DB_URL}", type = "CouchDB" }
object_ids = ["amys_country_cheddar_bowl", "band_aid_plastic_strips"]
feature_descriptor = { combination = "mask_grid", step = 4 }
TOD = { min_points = 10 }
stats = {}
monitor = { url = "http://localhost:3000/socket.io/", timeout = "3s" }
comment = "ignored"
`
	yamlConfig := `
db:
  type: CouchDB
  url: ${env.DB_URL}
object_ids:
  - amys_country_cheddar_bowl
  - band_aid_plastic_strips
feature_descriptor:
  combination: mask_grid
  step: 4
TOD:
  min_points: 10
stats: {}
monitor:
  url: http://localhost:3000/socket.io/
  timeout: 3s
comment: ignored
`
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "json", file: "training.json", content: jsonConfig},
		{name: "hcl", file: "training.hcl", content: hclConfig},
		{name: "yaml", file: "training.yaml", content: yamlConfig},
		{name: "yml", file: "training.yml", content: yamlConfig},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, tc.file, tc.content)
			m, err := NewLoader(env("DB_URL=http://couch:5984")).Load(context.Background(), path)
			require.NoError(t, err)

			assert.Equal(t, path, m.Path)
			assert.Equal(t, "http://couch:5984", m.DB.URL)
			assert.Equal(t, "CouchDB", m.DB.Type)
			assert.Equal(t, []string{"amys_country_cheddar_bowl", "band_aid_plastic_strips"}, m.ObjectIDs)
			assert.Equal(t, []string{DefaultNamespace}, m.Namespaces)
			assert.Empty(t, m.Pipelines)
			assert.Equal(t, []string{"stats", "tod"}, m.BlockNames())

			require.NotNil(t, m.Monitor)
			assert.Equal(t, "http://localhost:3000/socket.io/", m.Monitor.URL)
			assert.Equal(t, 3*time.Second, m.Monitor.Timeout)

			tod, ok := m.PipelineParams("TOD")
			require.True(t, ok)
			n, err := tod.Int("min_points", 0)
			require.NoError(t, err)
			assert.Equal(t, 10, n)
			fd, ok, err := tod.Object(KeyFeatureDescriptor)
			require.NoError(t, err)
			require.True(t, ok, "feature_descriptor is shared with pipeline blocks")
			combination, err := fd.String("combination", "")
			require.NoError(t, err)
			assert.Equal(t, "mask_grid", combination)

			_, ok = m.PipelineParams("missing")
			assert.False(t, ok)
		})
	}
}

func TestLoad_BlockOverridesFeatureDescriptor(t *testing.T) {
	path := writeFile(t, "c.json", `{
		"db": {"url": "memory://x"},
		"object_ids": ["a"],
		"feature_descriptor": {"combination": "global"},
		"tod": {"feature_descriptor": {"combination": "local"}}
	}`)
	m, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)

	tod, ok := m.PipelineParams("TOD")
	require.True(t, ok)
	fd, _, err := tod.Object(KeyFeatureDescriptor)
	require.NoError(t, err)
	got, err := fd.String("combination", "")
	require.NoError(t, err)
	assert.Equal(t, "local", got)
}

func TestLoad_ExplicitLists(t *testing.T) {
	path := writeFile(t, "c.json", `{
		"db": {"url": "memory://x", "name": "objects"},
		"object_ids": ["a"],
		"pipelines": ["stats"],
		"namespaces": ["object_recognition", "extra"]
	}`)
	m, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "objects", m.DB.Name)
	assert.Equal(t, []string{"stats"}, m.Pipelines)
	assert.Equal(t, []string{"object_recognition", "extra"}, m.Namespaces)
	assert.Nil(t, m.Monitor)
}

func TestLoad_OpaqueTemplateSequences(t *testing.T) {
	testCases := map[string]string{
		"c.json": `{
			"db": {"url": "${env.DB_URL}"},
			"object_ids": ["${mug}", "cup%{x}", "plain"],
			"stats": {"label": "${not_env}"}
		}`,
		"c.yaml": `
db:
  url: ${env.DB_URL}
object_ids: ["${mug}", "cup%{x}", "plain"]
stats:
  label: ${not_env}
`,
	}
	for file, content := range testCases {
		t.Run(file, func(t *testing.T) {
			path := writeFile(t, file, content)
			m, err := NewLoader(env("DB_URL=memory://opaque")).Load(context.Background(), path)
			require.NoError(t, err)

			assert.Equal(t, "memory://opaque", m.DB.URL)
			assert.Equal(t, []string{"${mug}", "cup%{x}", "plain"}, m.ObjectIDs)
			p, ok := m.PipelineParams("stats")
			require.True(t, ok)
			label, err := p.String("label", "")
			require.NoError(t, err)
			assert.Equal(t, "${not_env}", label)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		key     string
		want    string
	}{
		{name: "missing db", file: "c.json", content: `{"object_ids": ["a"]}`, key: KeyDB, want: "is required"},
		{name: "db without url", file: "c.json", content: `{"db": {"type": "CouchDB"}, "object_ids": ["a"]}`, key: KeyDB, want: "url is required"},
		{name: "db not an object", file: "c.json", content: `{"db": "memory://x", "object_ids": ["a"]}`, key: KeyDB, want: "must be an object"},
		{name: "missing object ids", file: "c.json", content: `{"db": {"url": "memory://x"}}`, key: KeyObjectIDs, want: "at least one"},
		{name: "object ids not a list", file: "c.json", content: `{"db": {"url": "memory://x"}, "object_ids": {"a": 1}}`, key: KeyObjectIDs, want: "list of strings"},
		{name: "monitor without url", file: "c.json", content: `{"db": {"url": "memory://x"}, "object_ids": ["a"], "monitor": {}}`, key: KeyMonitor, want: "url is required"},
		{name: "bad monitor timeout", file: "c.json", content: `{"db": {"url": "memory://x"}, "object_ids": ["a"], "monitor": {"url": "http://x", "timeout": "soon"}}`, key: KeyMonitor, want: "invalid timeout"},
		{name: "duplicate block", file: "c.json", content: `{"db": {"url": "memory://x"}, "object_ids": ["a"], "tod": {}, "TOD": {}}`, want: "duplicate parameter block"},
		{name: "unknown env", file: "c.json", content: `{"db": {"url": "${env.NOPE}"}, "object_ids": ["a"]}`, key: KeyDB},
		{name: "invalid json", file: "c.json", content: `{"db": `},
		{name: "invalid hcl", file: "c.hcl", content: `db = {`},
		{name: "invalid yaml", file: "c.yaml", content: "db: [unclosed"},
		{name: "yaml sequence", file: "c.yaml", content: "- a\n- b\n", want: "must be a mapping"},
		{name: "unsupported extension", file: "c.toml", content: `db = 1`, want: "unsupported file extension"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, tc.file, tc.content)
			_, err := NewLoader(env()).Load(context.Background(), path)
			require.Error(t, err)

			var cfgErr *Error
			require.True(t, errors.As(err, &cfgErr), "got %T: %v", err, err)
			assert.Equal(t, path, cfgErr.Path)
			if tc.key != "" {
				assert.Equal(t, tc.key, cfgErr.Key)
			}
			if tc.want != "" {
				assert.ErrorContains(t, err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrMissingFile)

	_, err = NewLoader().Load(context.Background(), "")
	var cfgErr *Error
	assert.True(t, errors.As(err, &cfgErr))
}

func TestEnvObject(t *testing.T) {
	v := envObject([]string{"A=1", "B=x=y", "=skipped", "NOVALUE"})
	assert.Equal(t, cty.StringVal("1"), v.GetAttr("A"))
	assert.Equal(t, cty.StringVal("x=y"), v.GetAttr("B"))
	assert.False(t, v.Type().HasAttribute("NOVALUE"))
}
