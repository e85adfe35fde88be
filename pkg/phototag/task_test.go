package phototag

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskLossy(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "photo.jpg")
	writeFile(t, p, "0123456789")

	task, err := NewTask(p)
	require.NoError(t, err)
	assert.Equal(t, int64(10), task.Size)
	assert.Equal(t, Lossy, task.Category)
	assert.Empty(t, task.Sidecar)
	assert.Equal(t, p, task.Name())
}

func TestNewTaskRawWithSidecar(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "DSC_0001.NEF")
	writeFile(t, p, "raw")
	writeFile(t, filepath.Join(dir, "DSC_0001.xmp"), taggedXMP)

	task, err := NewTask(p)
	require.NoError(t, err)
	assert.Equal(t, Raw, task.Category)
	assert.Equal(t, filepath.Join(dir, "DSC_0001.xmp"), task.Sidecar)
}

func TestNewTaskRawUppercaseSidecar(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "IMG_2.CR2")
	writeFile(t, p, "raw")
	writeFile(t, filepath.Join(dir, "IMG_2.XMP"), taggedXMP)

	task, err := NewTask(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "IMG_2.XMP"), task.Sidecar)
}

func TestNewTaskMissingSidecar(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "DSC_0002.NEF")
	writeFile(t, p, "raw")

	_, err := NewTask(p)
	require.ErrorIs(t, err, ErrMissingSidecar)
	assert.Contains(t, err.Error(), "DSC_0002.xmp")
}

func TestNewTaskErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := NewTask(filepath.Join(dir, "notes.txt"))
	assert.ErrorIs(t, err, ErrInvalidSelection)

	_, err = NewTask(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)
}

func TestCollectIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "a.jpg")
	raw := filepath.Join(dir, "b.nef")
	writeFile(t, good, "jpeg")
	writeFile(t, raw, "raw")

	ts, rs := Collect([]string{good, raw})
	require.Len(t, ts, 1)
	assert.Equal(t, good, ts[0].Path)
	require.Len(t, rs, 1)
	assert.Equal(t, raw, rs[0].Path)
	assert.ErrorIs(t, rs[0].Err, ErrMissingSidecar)
}
