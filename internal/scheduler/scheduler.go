// Package scheduler wires up the cron job that periodically syncs the whole
// upstream policy catalogue into the cache.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Syncer runs one full sync. *policy.Service implements it.
type Syncer interface {
	SyncAll(ctx context.Context) (int, error)
}

// Scheduler wraps robfig/cron and manages the sync loop.
type Scheduler struct {
	cron   *cron.Cron
	syncer Syncer
	spec   string // cron spec, e.g. "@every 24h"
}

// New creates a Scheduler that fires every intervalHours hours. A tick that
// lands while the previous run is still going is skipped.
func New(syncer Syncer, intervalHours int) *Scheduler {
	logger := cron.VerbosePrintfLogger(log.Default())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		syncer: syncer,
		spec:   fmt.Sprintf("@every %dh", intervalHours),
	}
}

// Spec returns the cron expression the scheduler was built with.
func (s *Scheduler) Spec() string { return s.spec }

// Start registers the job and starts the scheduler. With runNow it also
// triggers one sync immediately (non-blocking) so the cache is warm without
// waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context, runNow bool) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runSync(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started, spec: %s", s.spec)

	if runNow {
		go s.runSync(ctx)
	}
	return nil
}

// Stop halts the scheduler and waits for a running sync to finish or for ctx
// to expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		log.Println("[scheduler] Cron stopped")
	case <-ctx.Done():
		log.Println("[scheduler] Cron stop timed out with a sync still running")
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	log.Println("[scheduler] Sync cycle started")
	n, err := s.syncer.SyncAll(ctx)
	if err != nil {
		log.Printf("[scheduler] Sync cycle failed after %d policies: %v", n, err)
		return
	}
	log.Printf("[scheduler] Sync cycle complete, %d policies written", n)
}
