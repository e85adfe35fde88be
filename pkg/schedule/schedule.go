// Package schedule runs a batch of sized jobs concurrently under a task count
// ceiling and an aggregate byte budget.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"k8s.io/klog/v2"
)

// ErrConfig is returned when limits make a batch impossible to complete.
var ErrConfig = errors.New("invalid configuration")

// Job is one unit of work. Size is read once, when the scheduler is built.
type Job interface {
	Name() string
	Size() int64
	Run(ctx context.Context) error
}

// Limits bound what may run at the same time.
type Limits struct {
	MaxConcurrent int
	MaxBytes      int64
	// SingletonOverride admits one job alone when nothing else is running,
	// even if it is larger than MaxBytes.
	SingletonOverride bool
}

// State is where a job is in its lifecycle. It only moves forward.
type State int

const (
	Waiting State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Counts is a snapshot of how many jobs are in each state.
type Counts struct {
	Waiting  int
	Running  int
	Finished int
}

// Progress receives counts after every admission pass and every completion.
// It is called from the scheduling goroutine and must not block for long.
type Progress interface {
	Update(Counts)
}

// Result describes a finished job.
type Result struct {
	Name string
	Size int64
	// Seq is the admission order, starting at 1. Zero means never admitted.
	Seq int
	// Forced is set when the job was admitted by the singleton override.
	Forced  bool
	Err     error
	Started time.Time
	Elapsed time.Duration
}

type entry struct {
	job   Job
	size  int64
	state State
	res   Result
}

type completion struct {
	key int
	err error
	end time.Time
}

// Scheduler admits jobs smallest-first. All bookkeeping is owned by a single
// goroutine that reacts to completion messages, so admission never races.
type Scheduler struct {
	limits   Limits
	progress Progress

	entries  []*entry
	next     int // entries[next:] are Waiting
	running  int
	resident int64
	finished int
	seq      int

	done    chan completion
	stopped chan struct{}
	started bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithProgress attaches a progress sink.
func WithProgress(p Progress) Option {
	return func(s *Scheduler) {
		s.progress = p
	}
}

// New sorts jobs by size and checks that the batch can complete under l.
func New(jobs []Job, l Limits, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		limits:  l,
		entries: make([]*entry, 0, len(jobs)),
		done:    make(chan completion, len(jobs)),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	for _, j := range jobs {
		s.entries = append(s.entries, &entry{
			job:  j,
			size: j.Size(),
			res:  Result{Name: j.Name()},
		})
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		if s.entries[i].size != s.entries[j].size {
			return s.entries[i].size < s.entries[j].size
		}
		return s.entries[i].res.Name < s.entries[j].res.Name
	})
	for _, e := range s.entries {
		e.res.Size = e.size
	}

	if err := s.precheck(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) precheck() error {
	if s.limits.SingletonOverride {
		return nil
	}
	if s.limits.MaxConcurrent < 1 {
		return fmt.Errorf("%w: max concurrent tasks is %d, must be at least 1 (or enable the singleton override)",
			ErrConfig, s.limits.MaxConcurrent)
	}
	for _, e := range s.entries {
		if e.size > s.limits.MaxBytes {
			return fmt.Errorf("%w: %s is %d bytes, larger than the %d byte buffer (raise it or enable the singleton override)",
				ErrConfig, e.res.Name, e.size, s.limits.MaxBytes)
		}
	}
	return nil
}

// Start launches the scheduling loop. ctx is handed to every job; once it is
// cancelled no more jobs are admitted and waiting jobs finish with ctx.Err().
func (s *Scheduler) Start(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true
	go s.loop(ctx)
}

// Wait blocks until every job is finished and returns their results in
// admission order. Jobs that were never admitted come last.
func (s *Scheduler) Wait() []Result {
	<-s.stopped
	rs := make([]Result, 0, len(s.entries))
	for _, e := range s.entries {
		rs = append(rs, e.res)
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Seq == 0 || rs[j].Seq == 0 {
			return rs[j].Seq == 0 && rs[i].Seq != 0
		}
		return rs[i].Seq < rs[j].Seq
	})
	return rs
}

// Run starts the batch and waits for it to finish.
func (s *Scheduler) Run(ctx context.Context) []Result {
	s.Start(ctx)
	return s.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stopped)

	cancelled := ctx.Done()
	s.admit(ctx)
	for s.running > 0 {
		select {
		case c := <-s.done:
			s.complete(c)
			s.admit(ctx)
		case <-cancelled:
			cancelled = nil
			s.abandon(ctx.Err())
		}
	}

	// Only reachable with waiting entries if nothing could ever be admitted.
	if s.next < len(s.entries) {
		s.abandon(fmt.Errorf("%w: no job could be admitted", ErrConfig))
	}
}

// admit starts as many waiting jobs as the limits allow.
func (s *Scheduler) admit(ctx context.Context) {
	if ctx.Err() != nil {
		s.abandon(ctx.Err())
		return
	}

	admitted := 0
	for s.running < s.limits.MaxConcurrent && s.next < len(s.entries) {
		e := s.entries[s.next]
		// Everything behind e is at least as large, so none of it fits either.
		if s.resident+e.size > s.limits.MaxBytes {
			break
		}
		s.start(ctx, s.next, false)
		admitted++
	}

	if s.limits.SingletonOverride && s.running == 0 && s.next < len(s.entries) {
		e := s.entries[s.next]
		klog.Infof("admitting %s (%d bytes) alone: exceeds limits of %d tasks / %d bytes",
			e.res.Name, e.size, s.limits.MaxConcurrent, s.limits.MaxBytes)
		s.start(ctx, s.next, true)
		admitted++
	}

	if admitted > 0 {
		klog.V(1).Infof("admitted %d: %d running (%d bytes), %d waiting",
			admitted, s.running, s.resident, len(s.entries)-s.next)
	}
	s.report()
}

func (s *Scheduler) start(ctx context.Context, key int, forced bool) {
	e := s.entries[key]
	s.next = key + 1
	s.seq++
	s.running++
	s.resident += e.size

	e.state = Running
	e.res.Seq = s.seq
	e.res.Forced = forced
	e.res.Started = time.Now()

	go func() {
		err := run(ctx, e.job)
		s.done <- completion{key: key, err: err, end: time.Now()}
	}()
}

// run converts a panicking job into a failed one.
func run(ctx context.Context, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", j.Name(), r)
		}
	}()
	return j.Run(ctx)
}

func (s *Scheduler) complete(c completion) {
	e := s.entries[c.key]
	if e.state != Running {
		klog.Errorf("completion for %s in state %s", e.res.Name, e.state)
		return
	}
	e.state = Finished
	e.res.Err = c.err
	e.res.Elapsed = c.end.Sub(e.res.Started)

	s.running--
	s.resident -= e.size
	s.finished++

	if c.err != nil {
		klog.Errorf("%s failed after %s: %v", e.res.Name, e.res.Elapsed.Round(time.Millisecond), c.err)
	} else {
		klog.V(1).Infof("%s finished in %s", e.res.Name, e.res.Elapsed.Round(time.Millisecond))
	}
	s.report()
}

// abandon finishes every waiting entry with err.
func (s *Scheduler) abandon(err error) {
	if s.next >= len(s.entries) {
		return
	}
	klog.Warningf("skipping %d waiting tasks: %v", len(s.entries)-s.next, err)
	for ; s.next < len(s.entries); s.next++ {
		e := s.entries[s.next]
		e.state = Finished
		e.res.Err = err
		s.finished++
	}
	s.report()
}

func (s *Scheduler) report() {
	if s.progress == nil {
		return
	}
	s.progress.Update(Counts{
		Waiting:  len(s.entries) - s.next,
		Running:  s.running,
		Finished: s.finished,
	})
}
