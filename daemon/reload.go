package daemon

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/thenaterhood/spudproxy/app"
)

// ConfigWatcher reloads the record table from the config file, either on
// request or when the config or hosts file changes on disk.
type ConfigWatcher struct {
	path     string
	interval time.Duration
	state    *app.AppState

	mu           sync.Mutex
	hostsFile    string
	lastModified time.Time
}

func NewConfigWatcher(path string, config app.AppConfig, state *app.AppState) *ConfigWatcher {
	watcher := &ConfigWatcher{
		path:     path,
		interval: config.GetWatchInterval(),
		state:    state,
	}
	if watcher.interval <= 0 {
		watcher.interval = 5 * time.Second
	}
	watcher.hostsFile = config.HostsFile
	watcher.lastModified = watcher.modified()
	return watcher
}

// Reload re-reads the config and swaps in its records. Only the records
// change; everything else needs a restart.
func (w *ConfigWatcher) Reload() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.reload()
}

func (w *ConfigWatcher) reload() error {
	w.lastModified = w.modified()

	config, err := app.GetConfig(w.path)
	if err != nil {
		w.state.Log.Warn("failed to reload config - keeping current records", "path", w.path, "error", err)
		return err
	}

	if err := w.state.ReloadRecords(config); err != nil {
		w.state.Log.Warn("failed to reload records - keeping current records", "path", w.path, "error", err)
		return err
	}

	w.hostsFile = config.HostsFile
	w.lastModified = w.modified()
	return nil
}

// Check reloads if a watched file changed since the last reload attempt.
// A file that fails to load is reported once and then left alone until it
// changes again.
func (w *ConfigWatcher) Check() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.modified().After(w.lastModified) {
		return false, nil
	}

	w.state.Log.Info("config changed on disk - reloading records", "path", w.path)
	return true, w.reload()
}

func (w *ConfigWatcher) Start() context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		w.state.Log.Debug("config watcher started", "path", w.path, "interval", w.interval)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.state.Log.Debug("config watcher stopped")
				return
			case <-ticker.C:
				w.Check()
			}
		}
	}()
	return cancel
}

// Latest modification time across the config file and its hosts file.
func (w *ConfigWatcher) modified() time.Time {
	latest := time.Time{}
	for _, path := range []string{w.path, w.hostsFile} {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}
