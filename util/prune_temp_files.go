package util

import (
	"os"
	"path/filepath"
	"strings"
)

// TempFileSuffix marks event files that are still being written
const TempFileSuffix = ".tmp"

// PruneTempFiles deletes partially written files we may have left behind in dir on an unclean shutdown
func PruneTempFiles(logger *Logger, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.PrintWarning("Could not open directory %s to prune temp files: %s", dir, err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, TempFileSuffix) {
			continue
		}
		err = os.Remove(filepath.Join(dir, name))
		if err != nil {
			logger.PrintWarning("Could not remove stray temp file %s in %s: %s", name, dir, err)
			continue
		}
		logger.PrintVerbose("Removed stray temp file %s in %s", name, dir)
	}
}
