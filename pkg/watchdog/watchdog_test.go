package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatchDogReportsCreatedFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notify := make(chan string, 8)
	dog, err := NewWatchDogFactory(zap.NewNop()).New(ctx, notify, func(path string) bool {
		return strings.HasPrefix(filepath.Base(path), "crash-")
	})
	require.NoError(t, err)
	require.NoError(t, dog.AddDir(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".lock"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crash-abc"), []byte("x"), 0644))

	select {
	case got := <-notify:
		assert.Equal(t, filepath.Join(dir, "crash-abc"), got)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification for crash-abc")
	}

	cancel()
	select {
	case <-dog.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog did not stop")
	}
	_, open := <-notify
	assert.False(t, open)
}

func TestWatchDogMissingDir(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dog, err := NewWatchDogFactory(zap.NewNop()).New(ctx, make(chan string), nil)
	require.NoError(t, err)
	assert.Error(t, dog.AddDir(filepath.Join(t.TempDir(), "missing")))
}
