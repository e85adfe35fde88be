package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"

	"github.com/tstromberg/phototag/pkg/phototag"
	"github.com/tstromberg/phototag/pkg/schedule"
)

// settle is how long a new file must go unmodified before it is tagged.
var settle = 2 * time.Second

// batcher runs batches against one input directory, sharing a labeler and
// exiftool between them.
type batcher struct {
	limits schedule.Limits
	exif   *phototag.Exif
	pipe   *phototag.Pipeline
	root   string
	// tagged holds every path seen this session, so that rewrites of
	// tagged files are not mistaken for new images.
	tagged map[string]bool
}

func newBatcher(ctx context.Context, c *phototag.Config, root string, outDir string, dryRun bool) (*batcher, error) {
	limits, err := c.ScheduleLimits()
	if err != nil {
		return nil, err
	}

	l, err := phototag.NewLabeler(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("labeler: %w", err)
	}

	ex, err := phototag.NewExif()
	if err != nil {
		return nil, err
	}

	return &batcher{
		limits: limits,
		exif:   ex,
		root:   root,
		tagged: map[string]bool{},
		pipe: &phototag.Pipeline{
			Labeler:  l,
			Keywords: ex,
			Previews: ex,
			Thumb:    c.ThumbOpts(),
			OutDir:   outDir,
			DryRun:   dryRun,
		},
	}, nil
}

func (b *batcher) Close() {
	if err := b.exif.Close(); err != nil {
		klog.Errorf("failed to close exiftool: %v", err)
	}
}

// run tags paths and returns how many could not be tagged. An error means the
// batch as a whole could not run.
func (b *batcher) run(ctx context.Context, paths []string) (int, error) {
	for _, p := range paths {
		b.tagged[filepath.Clean(p)] = true
	}

	ts, rejected := phototag.Collect(paths)
	var rs []schedule.Result
	if len(ts) > 0 {
		var err error
		rs, err = b.schedule(ctx, ts)
		if err != nil {
			if len(rs) > 0 {
				fmt.Println(summary(rs, rejected))
			}
			return 0, err
		}
	}

	fmt.Println(summary(rs, rejected))

	failed := len(rejected)
	for _, r := range rs {
		if r.Err != nil {
			failed++
		}
	}
	klog.Infof("tagged %d of %d images", len(paths)-failed, len(paths))
	return failed, nil
}

func (b *batcher) schedule(ctx context.Context, ts []*phototag.Task) ([]schedule.Result, error) {
	sink := phototag.NewProgress(os.Stderr, len(ts))
	s, err := schedule.New(b.pipe.Jobs(ts), b.limits, schedule.WithProgress(sink))
	if err != nil {
		return nil, err
	}

	scratch, err := phototag.NewScratch(b.root)
	if err != nil {
		return nil, err
	}
	b.pipe.Scratch = scratch

	rs := s.Run(ctx)
	if err := sink.Close(); err != nil {
		klog.V(1).Infof("progress: %v", err)
	}
	if err := phototag.RemoveScratch(scratch); err != nil {
		return rs, err
	}
	return rs, nil
}

// watch tags images created in dir until ctx is cancelled.
func (b *batcher) watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	klog.Infof("watching %s for new images ...", dir)

	pending := map[string]bool{}
	timer := time.NewTimer(settle)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			klog.V(1).Infof("event: %s", event)
			p := filepath.Clean(event.Name)
			if b.tagged[p] || filepath.Base(p)[0] == '.' || !phototag.Supported(p) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || (event.Has(fsnotify.Write) && pending[p]) {
				pending[p] = true
				timer.Reset(settle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("watch error: %v", err)
		case <-timer.C:
			var paths []string
			for p := range pending {
				if _, err := os.Stat(p); err == nil {
					paths = append(paths, p)
				}
			}
			pending = map[string]bool{}
			if len(paths) == 0 {
				continue
			}
			sort.Strings(paths)
			klog.Infof("tagging %d new images", len(paths))
			if _, err := b.run(ctx, paths); err != nil {
				return err
			}
		}
	}
}
