// Package testutil holds helpers shared by package tests: a log buffer safe
// for concurrent writers, a seeded in-memory store, and a counting pipeline.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/specialistvlad/ortrain/internal/store"
	"github.com/specialistvlad/ortrain/internal/store/memory"
	"github.com/stretchr/testify/require"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// LogOnFailure prints the captured output when the test fails or when
// ORTRAIN_TEST_LOGS=true.
func LogOnFailure(t *testing.T, b *SafeBuffer) {
	t.Helper()
	t.Cleanup(func() {
		if t.Failed() || os.Getenv("ORTRAIN_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), b.String())
		}
	})
}

// Seed writes n observations of objectID into s, spread over the given
// sessions in round-robin order, and returns their ids. Ids are
// "<objectID>-<i>".
func Seed(t *testing.T, s store.ObservationWriter, objectID string, n int, sessions ...string) []string {
	t.Helper()
	if len(sessions) == 0 {
		sessions = []string{"session-1"}
	}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%d", objectID, i)
		require.NoError(t, s.WriteObservation(context.Background(), &store.Observation{
			ID:          id,
			ObjectID:    objectID,
			SessionID:   sessions[i%len(sessions)],
			FrameNumber: i,
			K:           [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
			R:           [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		}))
		ids = append(ids, id)
	}
	return ids
}

// SeededStore returns a private memory store holding n observations for each
// object id.
func SeededStore(t *testing.T, n int, objectIDs ...string) *memory.Store {
	t.Helper()
	s := memory.New()
	for _, id := range objectIDs {
		Seed(t, s, id, n)
	}
	return s
}

// WriteFile writes content to name inside a fresh temporary directory and
// returns the full path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
