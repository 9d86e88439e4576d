// Package policysync pulls the full upstream policy catalogue into the cache.
package policysync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"yuno/policy-service/internal/model"
	"yuno/policy-service/internal/ontong"
	"yuno/policy-service/internal/transform"
)

const (
	DefaultPageSize = 100
	DefaultDelay    = time.Second
)

var tracer = otel.Tracer("yuno/policy-service/policysync")

// Source lists upstream policy pages. *ontong.Client implements it.
type Source interface {
	ListPolicies(ctx context.Context, page, pageSize int, f ontong.ListFilters) (*ontong.ListResponse, error)
}

// Sink persists transformed policies. Every store backend implements it.
type Sink interface {
	UpsertBatch(ctx context.Context, policies []model.Policy) error
}

// SyncReport summarises one SyncAll run.
type SyncReport struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Pages      int       `json:"pages"`
	Synced     int       `json:"synced"`
	Err        string    `json:"error,omitempty"`
}

// Notifier is told about every finished run, successful or not.
type Notifier interface {
	PoliciesSynced(ctx context.Context, report SyncReport) error
}

// Options tunes an Orchestrator. Zero values select the defaults; a negative
// Delay disables the pause between pages. Now and Sleep exist for tests.
type Options struct {
	PageSize int
	Delay    time.Duration
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Orchestrator runs the sequential fetch, transform, write loop.
type Orchestrator struct {
	src      Source
	dst      Sink
	pageSize int
	delay    time.Duration
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs an Orchestrator.
func New(src Source, dst Sink, opts Options) *Orchestrator {
	o := &Orchestrator{
		src:      src,
		dst:      dst,
		pageSize: opts.PageSize,
		delay:    opts.Delay,
		notifier: opts.Notifier,
		log:      opts.Logger,
		now:      opts.Now,
		sleep:    opts.Sleep,
	}
	if o.pageSize <= 0 {
		o.pageSize = DefaultPageSize
	}
	if o.delay < 0 {
		o.delay = 0
	} else if o.delay == 0 {
		o.delay = DefaultDelay
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	o.log = o.log.With("component", "policysync")
	if o.now == nil {
		o.now = time.Now
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
	return o
}

// SyncAll walks upstream pages from 1 until a page comes back short and
// upserts each page as it arrives. It returns the number of policies written.
// A failure aborts the run; pages written before it stay committed.
func (o *Orchestrator) SyncAll(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "policysync.SyncAll")
	defer span.End()

	report := SyncReport{StartedAt: o.now()}
	synced, pages, err := o.run(ctx)
	report.FinishedAt = o.now()
	report.Pages = pages
	report.Synced = synced

	span.SetAttributes(
		attribute.Int("sync.pages", pages),
		attribute.Int("sync.synced", synced),
	)
	if err != nil {
		report.Err = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.log.Error("sync failed", "pages", pages, "synced", synced, "err", err)
	} else {
		o.log.Info("sync complete", "pages", pages, "synced", synced,
			"duration", report.FinishedAt.Sub(report.StartedAt))
	}

	if o.notifier != nil {
		// The run may have been cancelled; the report still goes out.
		if nerr := o.notifier.PoliciesSynced(context.WithoutCancel(ctx), report); nerr != nil {
			o.log.Warn("sync notification failed", "err", nerr)
		}
	}
	return synced, err
}

func (o *Orchestrator) run(ctx context.Context) (synced, pages int, err error) {
	for page := 1; ; page++ {
		resp, err := o.src.ListPolicies(ctx, page, o.pageSize, ontong.ListFilters{})
		if err != nil {
			return synced, pages, fmt.Errorf("sync page %d: fetch: %w", page, err)
		}
		pages++
		if len(resp.Records) == 0 {
			return synced, pages, nil
		}

		policies := o.keyed(transform.Transform(resp.Records, o.now()), page)
		if len(policies) > 0 {
			if err := o.dst.UpsertBatch(ctx, policies); err != nil {
				return synced, pages, fmt.Errorf("sync page %d: write: %w", page, err)
			}
			synced += len(policies)
		}
		o.log.Info("sync page written", "page", page, "records", len(resp.Records), "written", len(policies))

		if len(resp.Records) < o.pageSize {
			return synced, pages, nil
		}
		if err := o.sleep(ctx, o.delay); err != nil {
			return synced, pages, fmt.Errorf("sync page %d: %w", page, err)
		}
	}
}

// keyed drops policies without an id; they cannot be upserted.
func (o *Orchestrator) keyed(policies []model.Policy, page int) []model.Policy {
	out := policies[:0]
	for _, p := range policies {
		if p.ID == "" {
			o.log.Warn("skipping upstream record without bizId", "page", page)
			continue
		}
		out = append(out, p)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
