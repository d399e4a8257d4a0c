package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_Classify(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, 0)

	tests := []struct {
		path         string
		wantCategory string
		wantName     string
	}{
		{filepath.Join(dir, "config.yaml"), "config", "config"},
		{filepath.Join(dir, UpstreamsDir, "github.yaml"), UpstreamsDir, "github"},
		{filepath.Join(dir, GroupsDir, "ops.yml"), GroupsDir, "ops"},
		{filepath.Join(dir, "random.yaml"), "", ""},
		{filepath.Join(dir, "other", "x.yaml"), "", ""},
		{filepath.Join(dir, UpstreamsDir, "nested", "x.yaml"), "", ""},
	}

	for _, tt := range tests {
		category, name := w.classify(tt.path)
		assert.Equal(t, tt.wantCategory, category, "path %s", tt.path)
		assert.Equal(t, tt.wantName, name, "path %s", tt.path)
	}
}

func TestWatcher_EmitsDebouncedEvents(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan ChangeEvent, 10)
	require.NoError(t, w.Start(ctx, changes))
	defer w.Stop()

	// Start creates the entity directories, so writes are observable.
	path := filepath.Join(dir, UpstreamsDir, "new.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kind: stdio\ncommand: echo\n"), 0644))

	select {
	case ev := <-changes:
		assert.Equal(t, UpstreamsDir, ev.Category)
		assert.Equal(t, "new", ev.Name)
		assert.Equal(t, OperationCreate, ev.Operation)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestWatcher_StartStopIdempotent(t *testing.T) {
	w := NewWatcher(t.TempDir(), 0)
	changes := make(chan ChangeEvent, 1)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx, changes))
	require.NoError(t, w.Start(ctx, changes))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
