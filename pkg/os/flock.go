package os

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Flock is an inter-process file lock.
type Flock struct {
	f *flock.Flock
}

// NewFileLock makes a lock for the file at path.
// The lock lives in a separate <path>.lock file.
func NewFileLock(path string) (*Flock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "cloud_meet")
	}
	if err := CheckCreateDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &Flock{f: flock.New(path + ".lock")}, nil
}

func (f *Flock) Lock() error   { return f.f.Lock() }
func (f *Flock) Unlock() error { return f.f.Unlock() }

// TryLock takes the lock if it's free.
func (f *Flock) TryLock() (bool, error) { return f.f.TryLock() }

// With runs fn while holding the lock.
func (f *Flock) With(fn func() error) error {
	if err := f.Lock(); err != nil {
		return err
	}
	defer func() { _ = f.Unlock() }()
	return fn()
}
