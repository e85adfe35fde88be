package phototag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tstromberg/phototag/pkg/schedule"
)

func newTestPipeline(t *testing.T, l Labeler) (*Pipeline, *fakeKeywords) {
	t.Helper()
	kw := &fakeKeywords{}
	return &Pipeline{
		Labeler:  l,
		Keywords: kw,
		Previews: fakePreviewer{data: jpegBytes(t, 80, 60)},
		Scratch:  t.TempDir(),
		Thumb:    DefaultThumbOpts,
	}, kw
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "leftover files in %s", dir)
}

func TestProcessLossy(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "dog.jpg")
	writeJPEG(t, p, 1200, 800)

	l := &fakeLabeler{labels: []string{"dog", " big \n cat ", ""}}
	pipe, kw := newTestPipeline(t, l)
	task, err := NewTask(p)
	require.NoError(t, err)

	require.NoError(t, pipe.Process(context.Background(), task))
	assert.Equal(t, map[string][]string{p: {"dog", "big cat"}}, kw.got)
	require.Len(t, l.sizes, 1)
	assert.Less(t, int64(l.sizes[0]), task.Size)
	assertEmptyDir(t, pipe.Scratch)
}

func TestProcessRawWritesSidecar(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "DSC_0001.NEF")
	writeFile(t, p, "raw bytes")
	xmp := filepath.Join(dir, "DSC_0001.xmp")
	writeFile(t, xmp, lightroomXMP)

	pipe, kw := newTestPipeline(t, &fakeLabeler{labels: []string{"a", "b"}})
	task, err := NewTask(p)
	require.NoError(t, err)

	require.NoError(t, pipe.Process(context.Background(), task))
	bs, err := os.ReadFile(xmp)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, SidecarLabels(string(bs)))
	assert.Empty(t, kw.got)
	assertEmptyDir(t, pipe.Scratch)

	bs, err = os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "raw bytes", string(bs))
}

func TestProcessServiceError(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "dog.jpg")
	writeJPEG(t, p, 100, 100)

	pipe, kw := newTestPipeline(t, &fakeLabeler{err: errors.New("quota exceeded")})
	task, err := NewTask(p)
	require.NoError(t, err)

	err = pipe.Process(context.Background(), task)
	require.ErrorIs(t, err, ErrService)
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Empty(t, kw.got)
	assertEmptyDir(t, pipe.Scratch)
}

func TestProcessMergeError(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "dog.jpg")
	writeJPEG(t, p, 100, 100)

	pipe, kw := newTestPipeline(t, &fakeLabeler{labels: []string{"dog"}})
	kw.err = errors.New("read-only file system")
	task, err := NewTask(p)
	require.NoError(t, err)

	err = pipe.Process(context.Background(), task)
	require.ErrorIs(t, err, ErrMerge)
	assertEmptyDir(t, pipe.Scratch)
}

func TestProcessDecodeError(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "broken.jpg")
	writeFile(t, p, "not a jpeg")

	l := &fakeLabeler{labels: []string{"dog"}}
	pipe, _ := newTestPipeline(t, l)
	task, err := NewTask(p)
	require.NoError(t, err)

	err = pipe.Process(context.Background(), task)
	require.ErrorIs(t, err, ErrProcessing)
	assert.Zero(t, l.calls)
	assertEmptyDir(t, pipe.Scratch)
}

func TestProcessDryRun(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "DSC_0001.NEF")
	writeFile(t, p, "raw bytes")
	xmp := filepath.Join(dir, "DSC_0001.xmp")
	writeFile(t, xmp, lightroomXMP)

	l := &fakeLabeler{labels: []string{"a"}}
	pipe, _ := newTestPipeline(t, l)
	pipe.DryRun = true
	task, err := NewTask(p)
	require.NoError(t, err)

	require.NoError(t, pipe.Process(context.Background(), task))
	assert.Equal(t, 1, l.calls)
	bs, err := os.ReadFile(xmp)
	require.NoError(t, err)
	assert.Equal(t, lightroomXMP, string(bs))
}

func TestProcessCopiesToOutDir(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "DSC_0001.NEF")
	writeFile(t, p, "raw bytes")
	writeFile(t, filepath.Join(dir, "DSC_0001.xmp"), lightroomXMP)

	pipe, _ := newTestPipeline(t, &fakeLabeler{labels: []string{"a"}})
	pipe.OutDir = t.TempDir()
	task, err := NewTask(p)
	require.NoError(t, err)

	require.NoError(t, pipe.Process(context.Background(), task))
	bs, err := os.ReadFile(filepath.Join(pipe.OutDir, "DSC_0001.xmp"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, SidecarLabels(string(bs)))
	assert.FileExists(t, filepath.Join(pipe.OutDir, "DSC_0001.NEF"))
}

func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := &fakeLabeler{}
	pipe, _ := newTestPipeline(t, l)
	err := pipe.Process(ctx, &Task{Path: "x.jpg", Category: Lossy})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, l.calls)
}

func TestPipelineWithScheduler(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 6; i++ {
		p := filepath.Join(dir, fmt.Sprintf("img%d.jpg", i))
		writeJPEG(t, p, 100+40*i, 100)
		paths = append(paths, p)
	}
	bad := filepath.Join(dir, "broken.jpg")
	writeFile(t, bad, "x")
	paths = append(paths, bad)

	ts, rejected := Collect(paths)
	require.Empty(t, rejected)

	pipe, kw := newTestPipeline(t, &fakeLabeler{labels: []string{"test"}})
	s, err := schedule.New(pipe.Jobs(ts), schedule.Limits{MaxConcurrent: 3, MaxBytes: 1 << 20})
	require.NoError(t, err)
	rs := s.Run(context.Background())

	require.Len(t, rs, len(paths))
	for _, r := range rs {
		if r.Name == bad {
			assert.ErrorIs(t, r.Err, ErrProcessing)
			continue
		}
		assert.NoError(t, r.Err, r.Name)
		assert.Equal(t, []string{"test"}, kw.got[r.Name])
	}
	assertEmptyDir(t, pipe.Scratch)
}
