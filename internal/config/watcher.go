package config

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher monitors the config file and invokes onReload with the new
// tunables whenever the file changes and still parses. Instance and server
// sections are ignored on reload; those need a restart.
// Falls back to a 60s polling loop when fsnotify cannot watch the file.
func StartWatcher(ctx context.Context, path string, onReload func(Tunables)) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("Config Watcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else {
		if err := watcher.Add(path); err != nil {
			log.Printf("Config Watcher: Failed to watch file %s (%v), falling back to polling", path, err)
			usePolling = true
			watcher.Close()
		}
	}

	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Printf("[WARN] Config Watcher: reload of %s failed, keeping current tunables: %v", path, err)
			return
		}
		onReload(cfg.Tunables)
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
						log.Println("Config Watcher: File changed, reloading tunables...")
						// Editors often write in two steps; let the file settle.
						time.Sleep(100 * time.Millisecond)
						reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("Config Watcher Error: %v", err)
				}
			}
		}()
		return
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reload()
			}
		}
	}()
}
