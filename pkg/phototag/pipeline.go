package phototag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"

	"github.com/tstromberg/phototag/pkg/schedule"
)

// KeywordStore appends labels to the metadata embedded in an image.
type KeywordStore interface {
	AppendKeywords(path string, labels []string) error
}

// Pipeline holds everything a task needs to run.
type Pipeline struct {
	Labeler  Labeler
	Keywords KeywordStore
	Previews Previewer
	// Scratch holds optimized images while they are being labeled.
	Scratch string
	Thumb   ThumbOpts
	// OutDir, if set, receives a copy of every tagged image and sidecar.
	OutDir string
	DryRun bool
}

// Process optimizes, labels and tags a single image. The optimized copy in
// the scratch directory is removed on every path out.
func (p *Pipeline) Process(ctx context.Context, t *Task) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	img, err := decode(t, p.Previews)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProcessing, t.Path, err)
	}

	tmp := scratchPath(p.Scratch, t)
	defer func() {
		if rerr := os.Remove(tmp); rerr != nil && !os.IsNotExist(rerr) {
			klog.Errorf("unable to remove %s: %v", tmp, rerr)
			if err == nil {
				err = fmt.Errorf("cleanup: %w", rerr)
			}
		}
	}()

	thumb, err := createThumb(img, tmp, p.Thumb)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProcessing, t.Path, err)
	}

	bs, err := os.ReadFile(thumb.Path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProcessing, t.Path, err)
	}
	klog.V(1).Infof("%s: optimized %d -> %d bytes (%dx%d)", t.Path, t.Size, len(bs), thumb.X, thumb.Y)

	labels, err := p.Labeler.DetectLabels(ctx, bs)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrService, t.Path, err)
	}
	labels = cleanLabels(labels)
	klog.Infof("%s: %s", t.Path, strings.Join(labels, ", "))

	if len(labels) == 0 || p.DryRun {
		return nil
	}

	if t.Sidecar != "" {
		klog.V(1).Infof("writing %d tags to %s", len(labels), t.Sidecar)
		err = MergeSidecar(t.Sidecar, labels)
	} else {
		klog.V(1).Infof("writing %d tags to %s", len(labels), t.Path)
		err = p.Keywords.AppendKeywords(t.Path, labels)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMerge, t.Path, err)
	}

	return p.finalize(t)
}

// finalize copies the tagged files into OutDir.
func (p *Pipeline) finalize(t *Task) error {
	if p.OutDir == "" {
		return nil
	}
	for _, src := range []string{t.Path, t.Sidecar} {
		if src == "" {
			continue
		}
		dst := filepath.Join(p.OutDir, filepath.Base(src))
		if err := copy.Copy(src, dst, copy.Options{PreserveTimes: true}); err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
	}
	return nil
}

// cleanLabels drops empty labels and flattens whitespace, which would
// otherwise break the exiftool argument stream.
func cleanLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

type job struct {
	t *Task
	p *Pipeline
}

func (j job) Name() string                  { return j.t.Path }
func (j job) Size() int64                   { return j.t.Size }
func (j job) Run(ctx context.Context) error { return j.p.Process(ctx, j.t) }

// Jobs adapts tasks for the scheduler.
func (p *Pipeline) Jobs(ts []*Task) []schedule.Job {
	js := make([]schedule.Job, 0, len(ts))
	for _, t := range ts {
		js = append(js, job{t: t, p: p})
	}
	return js
}
