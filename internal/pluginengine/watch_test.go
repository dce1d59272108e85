package pluginengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchDirIgnoresNonSoFiles(t *testing.T) {
	dir := t.TempDir()
	e := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.WatchDir(ctx, dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644))

	// Give the watcher goroutine a moment; nothing should be loaded since
	// the file isn't a .so and isn't a real plugin either way.
	time.Sleep(50 * time.Millisecond)

	require.Empty(t, e.entries)
}
