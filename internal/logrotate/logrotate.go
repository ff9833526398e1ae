// Package logrotate archives oversized log files with a UTC timestamp suffix.
package logrotate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxSize is the rotation threshold in bytes.
const DefaultMaxSize int64 = 2_000_000

// TimestampFormat is the UTC suffix appended to archived logs.
const TimestampFormat = "20060102-150405"

// Rotate renames path to <base>-<YYYYMMDD-HHMMSS>.<ext> when the file exceeds
// maxSize, leaving the active path absent for the next writer to recreate.
// It is a no-op when the file is absent or under the threshold.
//
// Callers must only rotate at supervisor-loop boundaries: renaming a log that
// a child still holds open for append would detach the archive from the
// active stream.
func Rotate(path string, maxSize int64) (archived string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("unable to stat log %s: %w", path, err)
	}
	if info.Size() <= maxSize {
		return "", nil
	}

	archived = archiveName(path, time.Now().UTC())
	if err := os.Rename(path, archived); err != nil {
		return "", fmt.Errorf("unable to archive log %s: %w", path, err)
	}
	return archived, nil
}

func archiveName(path string, now time.Time) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s-%s%s", base, now.Format(TimestampFormat), ext)
}
