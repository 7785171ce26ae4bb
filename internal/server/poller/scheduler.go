// Package poller runs the per-category poll loops that keep the cache fresh.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/watchtower-noc/watchtower/internal/config"
	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/server/cache"
	"github.com/watchtower-noc/watchtower/internal/sources"
)

const lastPollTTL = 24 * time.Hour

// ErrStopped is returned by PollNow once the scheduler has been stopped.
var ErrStopped = errors.New("scheduler stopped")

// Job polls one category and writes its cache keys.
type Job func(ctx context.Context) error

// Closer is closed when the scheduler stops, e.g. the websocket hub.
type Closer interface {
	Close()
}

// Observer receives every finished and every skipped run.
type Observer interface {
	ObservePoll(rec model.PollRecord)
	ObserveSkip(category string)
	Current() []model.PollStats
}

type category struct {
	name     string
	cfg      config.CategoryConfig
	job      Job
	inFlight atomic.Bool
	skipped  atomic.Int64
}

// Scheduler owns one loop per enabled category. Runs of the same category
// never overlap: a tick that finds the previous run still going is skipped.
type Scheduler struct {
	categories []*category
	cache      *cache.Client
	closer     Closer
	observer   Observer
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	lastPoll map[string]model.PollRecord

	wg sync.WaitGroup
}

// NewScheduler wires jobs to their schedules. Categories without a job are
// ignored.
func NewScheduler(polling config.PollingConfig, jobs map[string]Job, c *cache.Client, closer Closer, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		cache:    c,
		closer:   closer,
		logger:   logger.Named("poller"),
		now:      time.Now,
		lastPoll: make(map[string]model.PollRecord),
	}
	for _, name := range config.Categories {
		job, ok := jobs[name]
		if !ok {
			continue
		}
		cc, _ := polling.Category(name)
		s.categories = append(s.categories, &category{name: name, cfg: cc, job: job})
	}
	return s
}

// SetObserver registers o for run statistics. Call it before Start.
func (s *Scheduler) SetObserver(o Observer) {
	s.observer = o
}

// Start launches the loops. Each enabled category runs once immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, c := range s.categories {
		if c.cfg.Interval <= 0 {
			s.logger.Info("poll category disabled", zap.String("category", c.name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, c)
		s.logger.Info("poll loop started",
			zap.String("category", c.name),
			zap.Duration("interval", c.cfg.Interval),
			zap.Duration("timeout", c.cfg.Timeout),
		)
	}
}

// Stop cancels every loop, waits for in-flight runs and closes the closer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if s.closer != nil {
		s.closer.Close()
	}
	s.logger.Info("poll scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, c *category) {
	defer s.wg.Done()

	s.run(ctx, c)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, c)
		}
	}
}

// PollNow runs every enabled category concurrently without touching the
// tickers and returns the categories that were skipped because a run was
// already in flight.
func (s *Scheduler) PollNow(ctx context.Context) ([]string, error) {
	var (
		mu      sync.Mutex
		skipped []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.categories {
		if c.cfg.Interval <= 0 {
			continue
		}
		c := c
		g.Go(func() error {
			ran, err := s.tryRun(gctx, c)
			if err != nil {
				return err
			}
			if !ran {
				mu.Lock()
				skipped = append(skipped, c.name)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(skipped)
	return skipped, nil
}

// tryRun registers the run with the wait group unless the scheduler is
// stopping.
func (s *Scheduler) tryRun(ctx context.Context, c *category) (bool, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false, ErrStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	return s.run(ctx, c), nil
}

// run executes one poll of c unless one is already running. It reports
// whether the job ran.
func (s *Scheduler) run(ctx context.Context, c *category) bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		total := c.skipped.Add(1)
		s.logger.Warn("previous poll still running, skipping",
			zap.String("category", c.name),
			zap.Int64("skipped_total", total),
		)
		if s.observer != nil {
			s.observer.ObserveSkip(c.name)
		}
		return false
	}
	defer c.inFlight.Store(false)

	runCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	started := s.now()
	err := s.invoke(runCtx, c)
	finished := s.now()

	rec := model.PollRecord{
		Category:     c.name,
		StartedAt:    started.UTC(),
		FinishedAt:   finished.UTC(),
		DurationMs:   finished.Sub(started).Milliseconds(),
		Success:      err == nil,
		SkippedTotal: c.skipped.Load(),
	}
	switch {
	case err == nil:
		s.logger.Debug("poll finished",
			zap.String("category", c.name),
			zap.Int64("duration_ms", rec.DurationMs),
		)
	case errors.Is(err, sources.ErrNotConfigured):
		rec.Error = err.Error()
		s.logger.Debug("poll skipped, source not configured", zap.String("category", c.name))
	default:
		rec.Error = err.Error()
		s.logger.Error("poll failed",
			zap.String("category", c.name),
			zap.Int64("duration_ms", rec.DurationMs),
			zap.Error(err),
		)
	}
	s.record(rec)
	if s.observer != nil {
		s.observer.ObservePoll(rec)
	}
	return true
}

// invoke calls the job and turns a panic into an error.
func (s *Scheduler) invoke(ctx context.Context, c *category) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("poll job panicked",
				zap.String("category", c.name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.job(ctx)
}

// record stores rec and rewrites the whole last-poll map.
func (s *Scheduler) record(rec model.PollRecord) {
	s.mu.Lock()
	s.lastPoll[rec.Category] = rec
	snapshot := make(map[string]model.PollRecord, len(s.lastPoll))
	for k, v := range s.lastPoll {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = cache.Save(ctx, s.cache, model.KeyLastPoll, snapshot, lastPollTTL)
}

// Status reports whether the loops run, their intervals in seconds and the
// last run of each category. Before the first local run the last-poll map
// is read from the cache.
func (s *Scheduler) Status(ctx context.Context) model.SchedulerStatus {
	st := model.SchedulerStatus{
		Intervals: make(map[string]int64, len(s.categories)),
		LastPoll:  make(map[string]model.PollRecord),
	}
	for _, c := range s.categories {
		st.Intervals[c.name] = int64(c.cfg.Interval / time.Second)
	}

	s.mu.Lock()
	st.Running = s.started && !s.stopped
	for k, v := range s.lastPoll {
		st.LastPoll[k] = v
	}
	s.mu.Unlock()

	if s.observer != nil {
		st.Stats = s.observer.Current()
	}

	if len(st.LastPoll) == 0 && s.cache != nil {
		if cached, _, ok := cache.Load[map[string]model.PollRecord](ctx, s.cache, model.KeyLastPoll); ok {
			st.LastPoll = cached
		}
	}
	return st
}
