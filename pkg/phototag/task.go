package phototag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"
)

// Task is a single image to be labeled.
type Task struct {
	Path     string
	Size     int64
	Category Category
	// Sidecar is the XMP file labels are written to. Empty means in place.
	Sidecar string
}

// NewTask reads the size of path and resolves its sidecar.
func NewTask(path string) (*Task, error) {
	t := &Task{Path: path, Category: CategoryOf(path)}
	if t.Category == Unsupported {
		return nil, fmt.Errorf("%w: %s is not a supported image", ErrInvalidSelection, path)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidSelection, path)
	}
	t.Size = fi.Size()

	if t.Category == Raw {
		t.Sidecar, err = findSidecar(path)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// findSidecar looks for a same-stem .xmp file next to path.
func findSidecar(path string) (string, error) {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range []string{".xmp", ".XMP", ".Xmp"} {
		p := stem + ext
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s.xmp does not exist", ErrMissingSidecar, filepath.Base(stem))
}

// Name is the path the task was created with.
func (t *Task) Name() string {
	return t.Path
}

// Rejected is a file that could not become a Task.
type Rejected struct {
	Path string
	Err  error
}

// Collect builds a task for each path. Files that fail, such as RAW files
// without a sidecar, are returned separately and do not stop the others.
func Collect(paths []string) ([]*Task, []Rejected) {
	var ts []*Task
	var rs []Rejected
	for _, p := range paths {
		t, err := NewTask(p)
		if err != nil {
			klog.Warningf("skipping %s: %v", p, err)
			rs = append(rs, Rejected{Path: p, Err: err})
			continue
		}
		klog.V(1).Infof("task: %+v", *t)
		ts = append(ts, t)
	}
	return ts, rs
}
