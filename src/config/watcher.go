package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches server.yml for changes and triggers reload
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	reloadFunc func(*Config) error
	stopChan   chan bool
}

// NewWatcher creates a new config file watcher
func NewWatcher(configPath string, reloadFunc func(*Config) error) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:    watcher,
		configPath: configPath,
		reloadFunc: reloadFunc,
		stopChan:   make(chan bool),
	}, nil
}

// Start begins watching the config file for changes
func (w *Watcher) Start() error {
	configDir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(configDir); err != nil {
		return err
	}

	log.Printf("👁️  Watching for config file changes: %s", w.configPath)

	go func() {
		// Debounce timer to avoid multiple reloads for rapid changes
		var debounceTimer *time.Timer
		debounceDuration := 500 * time.Millisecond

		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}

				if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
					continue
				}

				// Editors often write temp files, so react to create too
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					if debounceTimer != nil {
						debounceTimer.Stop()
					}

					debounceTimer = time.AfterFunc(debounceDuration, func() {
						log.Println("🔄 Config file changed, reloading...")

						newCfg, err := LoadConfig()
						if err != nil {
							log.Printf("❌ Failed to load new config: %v", err)
							return
						}

						if err := w.reloadFunc(newCfg); err != nil {
							log.Printf("❌ Failed to apply new config: %v", err)
							return
						}

						log.Println("✅ Configuration reloaded")
					})
				}

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  Config watcher error: %v", err)

			case <-w.stopChan:
				return
			}
		}
	}()

	return nil
}

// Stop stops the config file watcher
func (w *Watcher) Stop() error {
	close(w.stopChan)
	return w.watcher.Close()
}
