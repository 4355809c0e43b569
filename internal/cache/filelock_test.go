package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileLocker_exclusive(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "locks")
	a := NewFileLocker(dir)
	b := NewFileLocker(dir)

	unlock, err := a.TryLock(ctx, LockCheck)
	if err != nil {
		t.Fatalf("first TryLock: %v", err)
	}
	if _, err := os.Stat(a.Path(LockCheck)); err != nil {
		t.Errorf("lock file: %v", err)
	}
	if _, err := b.TryLock(ctx, LockCheck); !errors.Is(err, ErrLocked) {
		t.Errorf("second TryLock err = %v; want ErrLocked", err)
	}

	// Different names do not contend.
	unlockPrune, err := b.TryLock(ctx, LockPrune)
	if err != nil {
		t.Fatalf("prune TryLock: %v", err)
	}
	unlockPrune()

	unlock()
	unlock2, err := b.TryLock(ctx, LockCheck)
	if err != nil {
		t.Fatalf("TryLock after unlock: %v", err)
	}
	unlock2()
}

func TestFileLocker_path(t *testing.T) {
	l := NewFileLocker("/var/lock/iptvwatch")
	if got, want := l.Path(LockCheck), "/var/lock/iptvwatch/iptvwatch-lock-check.lock"; got != want {
		t.Errorf("Path = %q; want %q", got, want)
	}
}
