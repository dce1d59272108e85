package pluginengine

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"crispy/internal/crispyerr"
)

// WatchDir is a supplement beyond the distilled pipeline: it watches dir
// for newly created "*.so" files and Loads each one as it appears, so an
// operator can drop a plugin into a well-known directory without
// restarting the orchestrator. It never touches plugins already loaded,
// and it never changes load/dispatch order for them. The watch runs until
// ctx is canceled.
func (e *Engine) WatchDir(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return crispyerr.Wrap(crispyerr.Plugin, "start plugin directory watcher", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return crispyerr.Wrap(crispyerr.Plugin, "watch plugin directory "+dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) || !strings.HasSuffix(ev.Name, ".so") {
					continue
				}
				if loadErr := e.Load(ev.Name); loadErr != nil {
					e.log.Warn("auto-load of dropped plugin failed",
						zap.String("path", ev.Name), zap.Error(loadErr))
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.log.Warn("plugin directory watch error", zap.Error(werr))
			}
		}
	}()

	return nil
}
