/*
janitor.go - Background housekeeping

PURPOSE:
  Periodically drops expired review sessions and cached distances, and
  verifies the stored worker totals of every period's latest version.
  Drifted totals are recalculated by VerifyTotals itself.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Sweeps once immediately on start
  - Each purger and each version check is independent; a failure is
    logged and the sweep continues

USAGE:
  j := NewJanitor(versions, logger)
  j.Purgers["review_sessions"] = sessions
  j.Start()
  // ... later
  j.Stop()

SEE ALSO:
  - reconcile/session.go: SessionStore.Purge
  - geo/cache.go: MemoryCache.Purge
*/
package api

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/warp/payout-engine/payout"
)

// Purger drops expired entries and reports how many went.
type Purger interface {
	Purge() int
}

// Janitor runs periodic housekeeping.
type Janitor struct {
	Versions *payout.VersionStore // nil skips the totals check
	Purgers  map[string]Purger
	Interval time.Duration
	Logger   *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewJanitor creates a janitor that sweeps every five minutes.
func NewJanitor(versions *payout.VersionStore, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		Versions: versions,
		Purgers:  make(map[string]Purger),
		Interval: 5 * time.Minute,
		Logger:   logger,
	}
}

// Start begins the janitor. Calling Start twice is a no-op.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ticker != nil {
		return
	}
	j.ticker = time.NewTicker(j.Interval)
	j.stop = make(chan struct{})
	j.wg.Add(1)

	go j.run(j.ticker, j.stop)

	j.Logger.Info("janitor started", "interval", j.Interval)
}

// Stop stops the janitor and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ticker != nil {
		j.ticker.Stop()
		close(j.stop)
		j.wg.Wait()
		j.ticker = nil
		j.Logger.Info("janitor stopped")
	}
}

func (j *Janitor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer j.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	j.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			j.Sweep(ctx)
		case <-stop:
			return
		}
	}
}

// Sweep runs one housekeeping pass.
func (j *Janitor) Sweep(ctx context.Context) {
	names := make([]string, 0, len(j.Purgers))
	for name := range j.Purgers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if n := j.Purgers[name].Purge(); n > 0 {
			j.Logger.Info("purged expired entries", "store", name, "count", n)
		}
	}

	if j.Versions != nil {
		j.verifyTotals(ctx)
	}
}

func (j *Janitor) verifyTotals(ctx context.Context) {
	periods, err := j.Versions.Periods(ctx)
	if err != nil {
		j.Logger.Error("janitor: list periods", "error", err)
		return
	}

	checked, drifted := 0, 0
	for _, p := range periods {
		if ctx.Err() != nil {
			return
		}
		latest, err := j.Versions.LatestVersion(ctx, p.ID)
		if err != nil {
			j.Logger.Error("janitor: latest version", "period_id", p.ID, "error", err)
			continue
		}
		if latest == nil {
			continue
		}
		drift, err := j.Versions.VerifyTotals(ctx, latest.ID)
		if err != nil {
			j.Logger.Error("janitor: verify totals", "version_id", latest.ID, "error", err)
			continue
		}
		checked++
		if drift != nil {
			drifted++
			j.Logger.Warn("worker totals drifted, recalculated",
				"period", p.Name,
				"version_id", latest.ID,
				"workers", drift.Workers,
			)
		}
	}
	j.Logger.Debug("janitor verified totals", "versions", checked, "drifted", drifted)
}
