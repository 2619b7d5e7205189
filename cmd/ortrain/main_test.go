package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/specialistvlad/ortrain/internal/cli"
	"github.com/specialistvlad/ortrain/internal/store/memory"
	"github.com/specialistvlad/ortrain/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Train(t *testing.T) {
	s := memory.Open("main-test-train")
	testutil.Seed(t, s, "mug", 3, "s1", "s2")
	path := testutil.WriteFile(t, "training.yaml", `
db:
  url: memory://main-test-train
object_ids: [mug]
stats: {}
`)

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"train", "-c", path, "--log-level", "debug"})
	require.NoError(t, err, out.String())

	models, err := s.ListModels(context.Background(), "mug")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "stats", models[0].ModelType)
	assert.JSONEq(t, `{"observations": 3, "sessions": {"s1": 2, "s2": 1}}`, string(models[0].Document))
	assert.Contains(t, out.String(), "1 models")
}

func TestRun_TrainReportsFailures(t *testing.T) {
	path := testutil.WriteFile(t, "training.json", `{
		"db": {"url": "memory://main-test-failures"},
		"object_ids": ["mug"],
		"pipelines": ["stats", "NOPE"]
	}`)

	err := run(context.Background(), &bytes.Buffer{}, []string{"train", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown pipeline type "NOPE"`)
}

func TestRun_Pipelines(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, run(context.Background(), out, []string{"pipelines"}))
	assert.Contains(t, out.String(), "TOD")
	assert.Contains(t, out.String(), "stats")
}

func TestRun_PipelinesFromConfig(t *testing.T) {
	path := testutil.WriteFile(t, "training.json", `{
		"db": {"url": "memory://unused"},
		"object_ids": ["mug"],
		"namespaces": ["missing"]
	}`)

	err := run(context.Background(), &bytes.Buffer{}, []string{"pipelines", "-c", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown pipeline namespace "missing"`)
}

func TestRun_ShouldExit(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-h"})
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	assert.Contains(t, out.String(), "Usage:")
}

func TestRun_ParseError(t *testing.T) {
	err := run(context.Background(), &bytes.Buffer{}, []string{"train", "--this-is-not-a-valid-flag"})
	require.Error(t, err)

	exitErr, ok := err.(*cli.ExitError)
	require.True(t, ok)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, exitErr.Message, "unknown flag: --this-is-not-a-valid-flag")
}
