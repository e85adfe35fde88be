package phototag

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

var (
	scratchName  = ".phototag-tmp"
	lockFileName = ".phototag.lock"
)

// NewScratch creates an empty scratch directory inside dir. The name is a
// dotfile so it is never selected as input.
func NewScratch(dir string) (string, error) {
	p := filepath.Join(dir, scratchName)
	if _, err := os.Stat(p); err == nil {
		p = fmt.Sprintf("%s-%s", p, uuid.NewString()[:8])
	}
	if err := os.Mkdir(p, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	klog.V(1).Infof("created scratch directory %s", p)
	return p, nil
}

// RemoveScratch removes a scratch directory. It fails rather than deleting
// anything a task left behind.
func RemoveScratch(dir string) error {
	if err := os.Remove(dir); err != nil {
		return fmt.Errorf("remove scratch directory: %w", err)
	}
	klog.V(1).Infof("removed scratch directory %s", dir)
	return nil
}

// LockDir takes an exclusive lock on dir so that two batches never tag the
// same files at once. Unlock the returned lock when done.
func LockDir(dir string) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(dir, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: another phototag run is using %s", ErrLocked, dir)
	}
	return fl, nil
}
