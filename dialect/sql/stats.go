package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds cumulative driver statistics.
type Stats struct {
	// Queries is the total number of SELECT statements executed.
	Queries atomic.Int64
	// Execs is the total number of write statements executed.
	Execs atomic.Int64
	// Duration is the total time spent in the database, in nanoseconds.
	Duration atomic.Int64
	// Slow is the count of statements exceeding the slow threshold.
	Slow atomic.Int64
	// Errors is the count of failed statements.
	Errors atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Queries  int64
	Execs    int64
	Duration time.Duration
	Slow     int64
	Errors   int64
}

// Snapshot returns a consistent-enough copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Queries:  s.Queries.Load(),
		Execs:    s.Execs.Load(),
		Duration: time.Duration(s.Duration.Load()),
		Slow:     s.Slow.Load(),
		Errors:   s.Errors.Load(),
	}
}

// Avg returns the average statement duration.
func (s Snapshot) Avg() time.Duration {
	total := s.Queries + s.Execs
	if total == 0 {
		return 0
	}
	return s.Duration / time.Duration(total)
}

// String returns a human-readable summary.
func (s Snapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.Queries, s.Execs, s.Duration, s.Avg(), s.Slow, s.Errors)
}

// StatsDriver wraps a Driver with statement statistics and slow
// statement logging.
type StatsDriver struct {
	*Driver
	stats     *Stats
	log       *slog.Logger
	mu        sync.RWMutex
	threshold time.Duration
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the slow statement threshold. The default
// is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.threshold = d }
}

// WithLogger sets the logger used for slow statement reports.
func WithLogger(l *slog.Logger) StatsOption {
	return func(s *StatsDriver) { s.log = l }
}

// NewStatsDriver wraps drv with statistics collection.
//
//	drv, _ := sql.Open(dialect.Postgres, dsn)
//	sdrv := sql.NewStatsDriver(drv, sql.WithSlowThreshold(200*time.Millisecond))
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:    drv,
		stats:     &Stats{},
		log:       slog.Default(),
		threshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the underlying counters.
func (d *StatsDriver) Stats() *Stats { return d.stats }

// SetSlowThreshold updates the slow statement threshold.
func (d *StatsDriver) SetSlowThreshold(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = t
}

// Query executes a query and records statistics.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, query, start, err, true)
	return err
}

// Exec executes a statement and records statistics.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.record(ctx, query, start, err, false)
	return err
}

func (d *StatsDriver) record(ctx context.Context, query string, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		d.stats.Queries.Add(1)
	} else {
		d.stats.Execs.Add(1)
	}
	d.stats.Duration.Add(int64(duration))
	if err != nil {
		d.stats.Errors.Add(1)
	}
	d.mu.RLock()
	threshold := d.threshold
	d.mu.RUnlock()
	if duration > threshold {
		d.stats.Slow.Add(1)
		d.log.WarnContext(ctx, "slow statement", "duration", duration, "query", query)
	}
}
