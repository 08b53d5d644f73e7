package batchz

import (
	"context"
	"time"
)

// StatsReport is delivered periodically to a stats reporter.
type StatsReport struct {
	// Stats is the cumulative snapshot at LastUpdate.
	Stats Stats
	// LastUpdate is the timestamp of this report.
	LastUpdate time.Time
	// Submitted is the number of requests accepted since the last report.
	Submitted int64
	// Rate is the average accepted requests per second since the last report.
	Rate float64
	// BatchRate is the average executed batches per second since the last report.
	BatchRate float64
}

type monitor struct {
	interval time.Duration
	onStats  func(StatsReport)
}

// WithStatsReporter calls onStats every interval with throughput figures
// for as long as the coalescer runs, plus once more when it stops.
//
// Example:
//
//	c.WithStatsReporter(time.Second, func(r batchz.StatsReport) {
//		log.Printf("%.1f req/s, avg batch %.1f", r.Rate, r.Stats.AverageBatchSize())
//	})
func (c *Coalescer[In, Out]) WithStatsReporter(interval time.Duration, onStats func(StatsReport)) *Coalescer[In, Out] {
	if interval <= 0 || onStats == nil {
		c.reporter = nil
		return c
	}
	c.reporter = &monitor{interval: interval, onStats: onStats}
	return c
}

func (m *monitor) run(ctx context.Context, clock Clock, snapshot func() Stats) {
	ticker := clock.NewTicker(m.interval)
	defer ticker.Stop()

	last := snapshot()
	lastTime := clock.Now()

	report := func() {
		now := clock.Now()
		current := snapshot()
		duration := now.Sub(lastTime).Seconds()

		r := StatsReport{
			Stats:      current,
			LastUpdate: now,
			Submitted:  current.Submitted - last.Submitted,
		}
		if duration > 0 {
			r.Rate = float64(r.Submitted) / duration
			r.BatchRate = float64(current.Batches-last.Batches) / duration
		}
		m.onStats(r)

		last = current
		lastTime = now
	}

	for {
		select {
		case <-ctx.Done():
			report()
			return
		case <-ticker.C():
			report()
		}
	}
}
