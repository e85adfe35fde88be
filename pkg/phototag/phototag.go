// Package phototag tags image files with labels from an image labeling
// service, writing them to XMP sidecars for camera RAW files and to the
// embedded keyword list for JPEG and PNG files.
package phototag

import (
	"errors"

	"github.com/tstromberg/phototag/pkg/schedule"
)

var (
	// ErrConfig marks settings that make a batch impossible to run.
	ErrConfig = schedule.ErrConfig
	// ErrInvalidSelection is returned when no usable image was selected.
	ErrInvalidSelection = errors.New("invalid selection")
	// ErrMissingSidecar is returned for RAW files without an XMP sidecar.
	ErrMissingSidecar = errors.New("missing sidecar")
	// ErrProcessing wraps decode and re-encode failures.
	ErrProcessing = errors.New("processing failed")
	// ErrService wraps label service failures.
	ErrService = errors.New("label service failed")
	// ErrMerge wraps failures to commit labels to metadata.
	ErrMerge = errors.New("metadata merge failed")
	// ErrLocked is returned when another batch holds the input directory.
	ErrLocked = errors.New("directory locked")
)
