package phototag

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/tstromberg/phototag/pkg/schedule"
)

// Bar draws scheduler progress on a terminal.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar returns a progress bar for total tasks written to w.
func NewBar(w io.Writer, total int) *Bar {
	return &Bar{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("tagging"),
		progressbar.OptionShowCount(),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetPredictTime(true),
	)}
}

// Update implements schedule.Progress.
func (b *Bar) Update(c schedule.Counts) {
	b.bar.Describe(fmt.Sprintf("%d running, %d waiting", c.Running, c.Waiting))
	if err := b.bar.Set(c.Finished); err != nil {
		klog.V(1).Infof("progress: %v", err)
	}
}

// Close finishes the bar.
func (b *Bar) Close() error {
	return b.bar.Finish()
}

// LogProgress logs counts whenever they change.
type LogProgress struct {
	last schedule.Counts
}

// Update implements schedule.Progress.
func (l *LogProgress) Update(c schedule.Counts) {
	if c == l.last {
		return
	}
	l.last = c
	klog.Infof("%d waiting, %d running, %d finished", c.Waiting, c.Running, c.Finished)
}

// Close implements io.Closer.
func (l *LogProgress) Close() error {
	return nil
}

// ProgressSink is a schedule.Progress that must be closed after the batch.
type ProgressSink interface {
	schedule.Progress
	io.Closer
}

// NewProgress draws a bar when f is a terminal and logs otherwise.
func NewProgress(f *os.File, total int) ProgressSink {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return NewBar(f, total)
	}
	return &LogProgress{}
}
