package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/pganalyze/sqlserver-collector/util"
)

// Watch calls onChange whenever the config file is written or replaced, until ctx is done
func Watch(ctx context.Context, logger *util.Logger, filename string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, since editors commonly replace the file instead of writing it in place
	err = watcher.Add(filepath.Dir(filename))
	if err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(filename) {
					continue
				}
				if event.Op&fsnotify.Create == fsnotify.Create || event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Rename == fsnotify.Rename {
					logger.PrintVerbose("Config file %s changed (%s)", filename, event.Op.String())
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.PrintError("ERROR - fsnotify watcher failure: %s", err)
			case <-ctx.Done():
				logger.PrintVerbose("Config file watcher received stop signal")
				return
			}
		}
	}()

	return nil
}
