package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pganalyze/sqlserver-collector/util"
)

var stdout io.Writer = os.Stdout

// Writes each event to its own file, named by collection time and a unique ID
type localDirSink struct {
	dir    string
	logger *util.Logger
}

func newLocalDirSink(dir string, logger *util.Logger) (*localDirSink, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}
	util.PruneTempFiles(logger, dir)
	return &localDirSink{dir: dir, logger: logger}, nil
}

func (s *localDirSink) Send(ctx context.Context, payload []byte, collectedAt time.Time) error {
	eventID, err := uuid.NewV7()
	if err != nil {
		return err
	}
	filename := filepath.Join(s.dir, fmt.Sprintf("activity-%s-%s.json", collectedAt.UTC().Format("20060102T150405"), eventID))

	// Write to a temporary file first, so readers never see partial events
	tmpFilename := filename + util.TempFileSuffix
	err = os.WriteFile(tmpFilename, payload, 0644)
	if err != nil {
		return err
	}
	err = os.Rename(tmpFilename, filename)
	if err != nil {
		os.Remove(tmpFilename)
		return err
	}

	s.logger.PrintVerbose("Wrote activity event to %s", filename)
	return nil
}

func (s *localDirSink) Close() error {
	return nil
}

// Writes one event per line
type writerSink struct {
	w     io.Writer
	mutex sync.Mutex
}

func newWriterSink(w io.Writer) *writerSink {
	return &writerSink{w: w}
}

func (s *writerSink) Send(ctx context.Context, payload []byte, collectedAt time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := fmt.Fprintf(s.w, "%s\n", payload)
	return err
}

func (s *writerSink) Close() error {
	return nil
}
