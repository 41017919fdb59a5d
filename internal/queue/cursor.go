package queue

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"basegraph.app/courier/internal/domain"
)

func (s *Store) cursorPath(platform domain.Platform) string {
	return filepath.Join(s.dir, stateDir, "cursor."+string(platform))
}

// LoadCursor returns the persisted fetch cursor for platform, or "" when none
// has been saved yet.
func (s *Store) LoadCursor(platform domain.Platform) (string, error) {
	data, err := os.ReadFile(s.cursorPath(platform))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", storageErr("reading cursor", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveCursor atomically replaces the fetch cursor for platform.
func (s *Store) SaveCursor(platform domain.Platform, cursor string) error {
	if err := writeFileAtomic(s.cursorPath(platform), []byte(cursor+"\n")); err != nil {
		return storageErr(fmt.Sprintf("saving cursor for %s", platform), err)
	}
	return nil
}
