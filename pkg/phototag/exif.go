package phototag

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/barasher/go-exiftool"
	"k8s.io/klog/v2"
)

// previewTags are embedded RAW previews, largest first.
var previewTags = []string{"JpgFromRaw", "PreviewImage", "OtherImage", "ThumbnailImage"}

// backupSuffix is appended by exiftool to the copy of a file it rewrites.
const backupSuffix = "_original"

// Exif reads and writes image metadata through a long-running exiftool.
type Exif struct {
	et  *exiftool.Exiftool
	bin *exiftool.Exiftool
}

// NewExif starts exiftool. Close must be called to stop it.
func NewExif() (*Exif, error) {
	et, err := exiftool.NewExiftool(exiftool.BackupOriginal())
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}

	bin, err := exiftool.NewExiftool(exiftool.ExtractAllBinaryMetadata())
	if err != nil {
		_ = et.Close()
		return nil, fmt.Errorf("exiftool (binary): %w", err)
	}
	return &Exif{et: et, bin: bin}, nil
}

// Close stops exiftool.
func (e *Exif) Close() error {
	return errors.Join(e.et.Close(), e.bin.Close())
}

// keywordTag is the list tag used for labels in a lossy image.
func keywordTag(path string) string {
	if Ext(path) == "png" {
		return "Subject"
	}
	return "Keywords"
}

// Keywords returns the labels already recorded in path.
func (e *Exif) Keywords(path string) ([]string, error) {
	fms := e.et.ExtractMetadata(path)
	if len(fms) == 0 {
		return nil, fmt.Errorf("extract %s: no metadata returned", path)
	}
	fm := fms[0]
	if fm.Err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, fm.Err)
	}

	ks, err := fm.GetStrings(keywordTag(path))
	if errors.Is(err, exiftool.ErrKeyNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", keywordTag(path), err)
	}
	return ks, nil
}

// AppendKeywords adds labels after the existing keywords of path. Existing
// entries are kept as they are, including duplicates. The backup exiftool
// leaves beside path is removed once the write has been read back, and used
// to restore path if it was not.
func (e *Exif) AppendKeywords(path string, labels []string) error {
	existing, err := e.Keywords(path)
	if err != nil {
		return err
	}

	backup := path + backupSuffix
	if _, err := os.Stat(backup); err == nil {
		return fmt.Errorf("%s already exists, remove it to continue", backup)
	}

	want := append(append([]string{}, existing...), labels...)
	fm := exiftool.FileMetadata{File: path, Fields: map[string]interface{}{}}
	fm.SetStrings(keywordTag(path), want)

	fms := []exiftool.FileMetadata{fm}
	e.et.WriteMetadata(fms)
	if fms[0].Err != nil {
		restore(path, backup)
		return fmt.Errorf("write %s: %w", path, fms[0].Err)
	}

	got, err := e.Keywords(path)
	if err != nil || len(got) != len(want) {
		restore(path, backup)
		if err == nil {
			err = fmt.Errorf("read back %d keywords, wrote %d", len(got), len(want))
		}
		return fmt.Errorf("verify %s: %w", path, err)
	}

	if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove backup: %w", err)
	}
	klog.V(1).Infof("%s now has %d keywords", path, len(got))
	return nil
}

// restore moves an exiftool backup back over path, if one exists.
func restore(path string, backup string) {
	if _, err := os.Stat(backup); err != nil {
		return
	}
	if err := os.Rename(backup, path); err != nil {
		klog.Errorf("unable to restore %s from %s: %v", path, backup, err)
	}
}

// Preview returns the largest JPEG preview embedded in a RAW file.
func (e *Exif) Preview(path string) ([]byte, error) {
	fms := e.bin.ExtractMetadata(path)
	if len(fms) == 0 {
		return nil, fmt.Errorf("extract %s: no metadata returned", path)
	}
	fm := fms[0]
	if fm.Err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, fm.Err)
	}

	for _, tag := range previewTags {
		v, err := fm.GetString(tag)
		if err != nil {
			continue
		}
		v, ok := strings.CutPrefix(v, "base64:")
		if !ok {
			continue
		}
		bs, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			klog.Warningf("%s in %s: %v", tag, path, err)
			continue
		}
		klog.V(1).Infof("using %s from %s (%d bytes)", tag, path, len(bs))
		return bs, nil
	}
	return nil, fmt.Errorf("no embedded preview in %s", path)
}
