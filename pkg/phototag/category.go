package phototag

import (
	"path/filepath"
	"strings"
)

// Category decides how an image is optimized and where its labels go.
type Category int

const (
	// Unsupported files are never selected.
	Unsupported Category = iota
	// Raw files are demosaiced for labeling and tagged through an XMP sidecar.
	Raw
	// Lossy files are tagged in place.
	Lossy
)

func (c Category) String() string {
	switch c {
	case Raw:
		return "raw"
	case Lossy:
		return "lossy"
	}
	return "unsupported"
}

var rawExts = map[string]bool{
	"3fr": true, "ari": true, "arw": true, "bay": true, "braw": true, "crw": true, "cr2": true,
	"cr3": true, "cap": true, "data": true, "dcs": true, "dcr": true, "dng": true, "drf": true,
	"eip": true, "erf": true, "fff": true, "gpr": true, "iiq": true, "k25": true, "kdc": true,
	"mdc": true, "mef": true, "mos": true, "mrw": true, "nef": true, "nrw": true, "obm": true,
	"orf": true, "pef": true, "ptx": true, "pxn": true, "r3d": true, "raf": true, "raw": true,
	"rwl": true, "rw2": true, "rwz": true, "sr2": true, "srf": true, "srw": true, "tif": true,
	"x3f": true,
}

var lossyExts = map[string]bool{
	"jpeg": true, "jpg": true, "jpe": true, "png": true,
}

// Ext returns the lowercase extension of path without the leading dot.
func Ext(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// CategoryOf classifies path by its extension.
func CategoryOf(path string) Category {
	ext := Ext(path)
	switch {
	case rawExts[ext]:
		return Raw
	case lossyExts[ext]:
		return Lossy
	}
	return Unsupported
}

// Supported reports whether path has an extension phototag can tag.
func Supported(path string) bool {
	return CategoryOf(path) != Unsupported
}
