package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// FileLocker implements Locker with advisory file locks in one directory,
// excluding processes on the same host. Used when Redis is not configured.
type FileLocker struct {
	dir string
}

// NewFileLocker returns a FileLocker keeping its lock files in dir.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{dir: dir}
}

// Path returns the lock file used for name.
func (l *FileLocker) Path(name string) string {
	return filepath.Join(l.dir, strings.ReplaceAll(name, ":", "-")+".lock")
}

func (l *FileLocker) TryLock(_ context.Context, name string) (func(), error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}
	fl := flock.New(l.Path(name))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() { _ = fl.Unlock() }, nil
}
