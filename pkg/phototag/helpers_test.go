package phototag

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testImage(w int, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, w int, h int) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, jpeg.Encode(&b, testImage(w, h), &jpeg.Options{Quality: 90}))
	return b.Bytes()
}

func writeJPEG(t *testing.T, path string, w int, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, jpegBytes(t, w, h), 0o644))
}

func writePNG(t *testing.T, path string, w int, h int) {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, png.Encode(&b, testImage(w, h)))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
}

type fakeLabeler struct {
	mu     sync.Mutex
	labels []string
	err    error
	calls  int
	sizes  []int
}

func (f *fakeLabeler) DetectLabels(_ context.Context, jpeg []byte) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sizes = append(f.sizes, len(jpeg))
	return f.labels, f.err
}

type fakeKeywords struct {
	mu  sync.Mutex
	got map[string][]string
	err error
}

func (f *fakeKeywords) AppendKeywords(path string, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.got == nil {
		f.got = map[string][]string{}
	}
	f.got[path] = append(f.got[path], labels...)
	return nil
}

type fakePreviewer struct {
	data []byte
	err  error
}

func (f fakePreviewer) Preview(string) ([]byte, error) {
	return f.data, f.err
}
