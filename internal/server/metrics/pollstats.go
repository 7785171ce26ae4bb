package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/server/cache"
)

// Default configuration values.
const (
	DefaultFlushInterval = 5 * time.Minute
)

// Poll duration histogram bucket boundaries in milliseconds.
var defaultBucketBoundaries = []float64{
	50, 100, 250, 500,
	1000, 2500, 5000, 10000,
	20000, 30000, 60000,
}

// PollStats collects poll run durations per category over a window and
// periodically flushes the window's summary to the cache.
type PollStats struct {
	cache  *cache.Client
	logger *zap.Logger
	now    func() time.Time

	flushInterval time.Duration
	buckets       []float64

	mu          sync.Mutex
	windowStart time.Time
	categories  map[string]*categoryStats

	stopCh chan struct{}
	doneCh chan struct{}
}

type categoryStats struct {
	// len == len(buckets)+1; the last element is the +Inf bucket.
	counts   []uint64
	sumMs    float64
	runs     uint64
	failures uint64
	skipped  uint64
}

// NewPollStats creates a collector that flushes every flushInterval, or
// DefaultFlushInterval when zero.
func NewPollStats(c *cache.Client, flushInterval time.Duration, logger *zap.Logger) *PollStats {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &PollStats{
		cache:         c,
		logger:        logger.Named("poll-stats"),
		now:           time.Now,
		flushInterval: flushInterval,
		buckets:       defaultBucketBoundaries,
		windowStart:   time.Now(),
		categories:    make(map[string]*categoryStats),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start begins the background flush loop.
func (p *PollStats) Start() {
	go p.flushLoop()
}

// Stop signals the flush loop to stop and waits for the final flush.
func (p *PollStats) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

// ObservePoll records one finished run.
func (p *PollStats) ObservePoll(rec model.PollRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cs := p.getOrCreate(rec.Category)
	cs.runs++
	if !rec.Success {
		cs.failures++
	}
	ms := float64(rec.DurationMs)
	cs.sumMs += ms

	for i, boundary := range p.buckets {
		if ms <= boundary {
			cs.counts[i]++
			return
		}
	}
	cs.counts[len(p.buckets)]++
}

// ObserveSkip records a tick skipped because the previous run was still
// in flight.
func (p *PollStats) ObserveSkip(category string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getOrCreate(category).skipped++
}

// getOrCreate must be called with p.mu held.
func (p *PollStats) getOrCreate(category string) *categoryStats {
	cs, ok := p.categories[category]
	if !ok {
		cs = &categoryStats{counts: make([]uint64, len(p.buckets)+1)}
		p.categories[category] = cs
	}
	return cs
}

// Current summarizes the open window without resetting it.
func (p *PollStats) Current() []model.PollStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summarize(p.categories, p.windowStart, p.now())
}

func (p *PollStats) summarize(cats map[string]*categoryStats, start, end time.Time) []model.PollStats {
	out := make([]model.PollStats, 0, len(cats))
	for name, cs := range cats {
		st := model.PollStats{
			Category:    name,
			WindowStart: start.UTC(),
			WindowEnd:   end.UTC(),
			Runs:        cs.runs,
			Failures:    cs.failures,
			Skipped:     cs.skipped,
		}
		if cs.runs > 0 {
			st.MeanMs = model.Round2(cs.sumMs / float64(cs.runs))
			st.P50Ms = model.Round2(histogramPercentile(p.buckets, cs.counts, cs.runs, 0.50))
			st.P95Ms = model.Round2(histogramPercentile(p.buckets, cs.counts, cs.runs, 0.95))
			st.P99Ms = model.Round2(histogramPercentile(p.buckets, cs.counts, cs.runs, 0.99))
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func (p *PollStats) flushLoop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.flush()
		case <-p.stopCh:
			p.flush()
			return
		}
	}
}

// flush closes the current window, stores its summary under the poll_stats
// key and starts a new window.
func (p *PollStats) flush() {
	now := p.now()
	p.mu.Lock()
	snapshot, start := p.categories, p.windowStart
	p.categories = make(map[string]*categoryStats)
	p.windowStart = now
	p.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}
	summary := p.summarize(snapshot, start, now)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cache.Save(ctx, p.cache, model.KeyPollStats, summary, 3*p.flushInterval); err != nil {
		p.logger.Error("failed to store poll stats", zap.Error(err))
		return
	}
	p.logger.Debug("flushed poll stats", zap.Int("categories", len(summary)))
}

// histogramPercentile estimates a percentile from the histogram buckets
// using linear interpolation within the target bucket. counts has one more
// element than buckets for the +Inf bucket, whose upper bound is taken as
// twice the last boundary.
func histogramPercentile(buckets []float64, counts []uint64, total uint64, quantile float64) float64 {
	target := quantile * float64(total)
	var cumulative float64

	for i, count := range counts {
		cumulative += float64(count)
		if cumulative < target {
			continue
		}
		var lower, upper float64
		if i > 0 {
			lower = buckets[i-1]
		}
		if i < len(buckets) {
			upper = buckets[i]
		} else {
			upper = buckets[len(buckets)-1] * 2
		}
		if count == 0 {
			return lower
		}
		fraction := (target - (cumulative - float64(count))) / float64(count)
		return lower + fraction*(upper-lower)
	}
	return buckets[len(buckets)-1]
}
