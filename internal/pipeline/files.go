package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// fileStamp renders t as 2006-01-02_15-04-05_000000.
func fileStamp(t time.Time) string {
	return t.Format("2006-01-02_15-04-05") + fmt.Sprintf("_%06d", t.Nanosecond()/int(time.Microsecond))
}

// nextFileName returns an unused path for prefix.<stamp><ext> in dir,
// appending -1, -2 and so on when the name is taken.
func nextFileName(dir, prefix, ext string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	base := prefix + "." + fileStamp(now)
	for i := 0; i < 1000; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
	}
	return "", fmt.Errorf("no free file name for %s in %s", base, dir)
}
