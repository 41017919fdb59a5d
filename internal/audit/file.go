package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"basegraph.app/courier/internal/queue"
)

// FileSink writes one JSON file per entry under the queue's audit directory.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Write(_ context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("audit entry for %s has no id", e.EventID)
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}

	err = queue.WriteOnce(filepath.Join(s.dir, e.ID+".json"), append(data, '\n'))
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}
