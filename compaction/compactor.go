package compaction

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/willzeng274/MidDB/version"
)

// pollInterval is how often the background loop checks whether any level
// needs compaction when no explicit trigger fired.
const pollInterval = 500 * time.Millisecond

// Compactor drives the background leveled-compaction loop. At most
// MaxConcurrent compactions run at once, bounded by a semaphore rather than
// an unbounded goroutine fan-out.
type Compactor struct {
	versions *version.Set
	picker   *Picker
	params   Params
	logger   *logrus.Logger

	sem *semaphore.Weighted

	l0Trigger int

	// MinSnapshotSequence reports the oldest sequence number any open
	// transaction might still need visible; it is owned by the database
	// façade, which tracks open snapshots.
	MinSnapshotSequence func() uint64

	trigger chan struct{}
	wg      sync.WaitGroup
}

// New creates a Compactor. Call Start to begin the background loop.
func New(vs *version.Set, params Params, l0Trigger, maxConcurrent int, logger *logrus.Logger) *Compactor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Compactor{
		versions:            vs,
		picker:              NewPicker(),
		params:              params,
		logger:              logger,
		sem:                 semaphore.NewWeighted(int64(maxConcurrent)),
		l0Trigger:           l0Trigger,
		MinSnapshotSequence: func() uint64 { return 0 },
		trigger:             make(chan struct{}, 1),
	}
}

// Trigger asks the background loop to check for compaction work soon,
// without waiting for the next poll tick. Non-blocking.
func (c *Compactor) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Start launches the background loop; it exits when ctx is canceled.
func (c *Compactor) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.maybeCompact(ctx)
			case <-c.trigger:
				c.maybeCompact(ctx)
			}
		}
	}()
}

// Wait blocks until the background loop has exited after ctx cancellation.
func (c *Compactor) Wait() {
	c.wg.Wait()
}

func (c *Compactor) maybeCompact(ctx context.Context) {
	v := c.versions.Current()
	task := c.picker.Pick(v, Config{L0CompactionTrigger: c.l0Trigger})
	c.versions.ReleaseVersion(v)
	if task == nil {
		return
	}
	if !c.sem.TryAcquire(1) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.sem.Release(1)
		if err := c.runOne(task); err != nil && c.logger != nil {
			c.logger.WithError(err).Error("compaction: run failed")
		}
	}()
	// Immediately check whether more work is waiting, so a burst of L0
	// flushes drains without waiting for the next poll tick.
	select {
	case c.trigger <- struct{}{}:
	default:
	}
	_ = ctx
}

func (c *Compactor) runOne(task *Task) error {
	isBottom := task.OutputLevel == version.NumLevels-1
	outputs, err := Run(task, c.params, isBottom, c.MinSnapshotSequence(), c.versions.NextFileNumber)
	if err != nil {
		return err
	}

	edit := &version.Edit{}
	for _, group := range task.Inputs {
		for _, meta := range group {
			edit.DeletedFiles = append(edit.DeletedFiles, version.DeletedFileEntry{
				Level:   meta.Level,
				FileNum: meta.FileNum,
			})
		}
	}
	for _, out := range outputs {
		edit.NewFiles = append(edit.NewFiles, version.NewFileEntry{Level: task.OutputLevel, Meta: out})
	}

	_, err = c.versions.LogAndApply(edit)
	if err != nil {
		return err
	}

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"source_level": task.SourceLevel,
			"output_level": task.OutputLevel,
			"outputs":      len(outputs),
		}).Info("compaction: completed")
	}
	return nil
}
