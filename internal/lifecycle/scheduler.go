// Package lifecycle implements §4.13's single scheduled task: flush,
// then transition, then recycle-pool GC, then (optionally, inside an
// off-hours window) compaction of archived buckets. Cadence is driven
// by go-co-op/gocron/v2, the same scheduler the teacher's
// internal/taskManager uses for its own background services
// (compressionService.go's gocron.DailyJob/gocron.NewTask idiom),
// generalized here from one-task-per-service to the four ordered
// steps of one task.
package lifecycle

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/nova-ts/tsdb/internal/compactor"
	"github.com/nova-ts/tsdb/pkg/cclog"
)

// Bucket is the minimal view of a Tsdb the scheduler needs, kept as an
// interface so this package does not import internal/tsdb's State type
// concretely; engine supplies a thin adapter around *tsdb.Tsdb.
type Bucket interface {
	Flush() error
	MaybeTransition(now time.Time)
	MarkCompacted()
	IsArchived() bool
	CompactSource() compactor.Source
}

// Registry enumerates the buckets under management. internal/engine's
// Tsdb registry implements this.
type Registry interface {
	Buckets() []Bucket
}

// Pool is the minimal view of a RecyclePool the scheduler GCs. Each
// concrete recyclepool.Pool[T] satisfies this trivially.
type Pool interface {
	GC()
}

// Options configures the scheduler's cadence and off-hours compaction
// window (§6 "gc_interval", §4.13's "configured off-hours window").
type Options struct {
	Interval          time.Duration
	CompactionHour    int
	CompactionMinute  int
	CompactionWorkers int
	EnableCompaction  bool
}

// Scheduler runs the four-step lifecycle task.
type Scheduler struct {
	registry Registry
	pools    []Pool
	opt      Options
	sched    gocron.Scheduler
}

func New(registry Registry, pools []Pool, opt Options) (*Scheduler, error) {
	if opt.Interval <= 0 {
		opt.Interval = time.Minute
	}
	if opt.CompactionWorkers <= 0 {
		opt.CompactionWorkers = 4
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{registry: registry, pools: pools, opt: opt, sched: s}, nil
}

// Start registers the recurring lifecycle task and, if enabled, the
// daily off-hours compaction job, then starts the scheduler. It
// returns immediately; jobs run on the scheduler's own goroutines.
func (s *Scheduler) Start() error {
	if _, err := s.sched.NewJob(
		gocron.DurationJob(s.opt.Interval),
		gocron.NewTask(s.runTick),
	); err != nil {
		return err
	}

	if s.opt.EnableCompaction {
		if _, err := s.sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(s.opt.CompactionHour), uint(s.opt.CompactionMinute), 0))),
			gocron.NewTask(s.runCompaction),
		); err != nil {
			return err
		}
	}

	s.sched.Start()
	return nil
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// runTick performs steps (a)-(c) of §4.13: flush, transition, GC.
// Compaction (step d) is its own job so it only ever runs inside the
// configured off-hours window.
func (s *Scheduler) runTick() {
	now := time.Now()
	for _, b := range s.registry.Buckets() {
		if err := b.Flush(); err != nil {
			cclog.Errorf("lifecycle: flush failed: %v", err)
		}
		b.MaybeTransition(now)
	}
	for _, p := range s.pools {
		p.GC()
	}
}

func (s *Scheduler) runCompaction() {
	for _, b := range s.registry.Buckets() {
		if !b.IsArchived() {
			continue
		}
		src := b.CompactSource()
		res, err := compactor.Compact(src, s.opt.CompactionWorkers)
		if err != nil {
			cclog.Errorf("lifecycle: compaction failed for %s: %v", src.Dir(), err)
			continue
		}
		b.MarkCompacted()
		cclog.Infof("lifecycle: compacted %s (%d series)", src.Dir(), res.TSIDsCompacted)
	}
}
