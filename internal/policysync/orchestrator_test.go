package policysync_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"yuno/policy-service/internal/model"
	"yuno/policy-service/internal/ontong"
	"yuno/policy-service/internal/policysync"
)

// ── fakes ──────────────────────────────────────────────────────────────────

type fakeSource struct {
	pages   map[int][]ontong.Record
	failAt  int
	calls   []int
	filters []ontong.ListFilters
}

func (f *fakeSource) ListPolicies(_ context.Context, page, _ int, flt ontong.ListFilters) (*ontong.ListResponse, error) {
	f.calls = append(f.calls, page)
	f.filters = append(f.filters, flt)
	if page == f.failAt {
		return nil, &ontong.FetchError{Kind: ontong.KindStatus, Op: "ListPolicies", StatusCode: 503, Err: errors.New("unavailable")}
	}
	return &ontong.ListResponse{Records: f.pages[page], TotalCount: 999}, nil
}

type fakeSink struct {
	batches [][]model.Policy
	failOn  int // 1-based batch number
}

func (f *fakeSink) UpsertBatch(_ context.Context, ps []model.Policy) error {
	if len(f.batches)+1 == f.failOn {
		return errors.New("disk full")
	}
	f.batches = append(f.batches, ps)
	return nil
}

type fakeNotifier struct {
	reports []policysync.SyncReport
}

func (f *fakeNotifier) PoliciesSynced(_ context.Context, r policysync.SyncReport) error {
	f.reports = append(f.reports, r)
	return nil
}

func records(prefix string, n int) []ontong.Record {
	out := make([]ontong.Record, n)
	for i := range out {
		out[i] = ontong.Record{"bizId": fmt.Sprintf("%s-%d", prefix, i), "polyBizSjnm": "정책"}
	}
	return out
}

func newOrchestrator(src policysync.Source, dst policysync.Sink, n policysync.Notifier, sleeps *int) *policysync.Orchestrator {
	return policysync.New(src, dst, policysync.Options{
		PageSize: 3,
		Notifier: n,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep: func(ctx context.Context, _ time.Duration) error {
			*sleeps++
			return ctx.Err()
		},
	})
}

// ── SyncAll ────────────────────────────────────────────────────────────────

func TestSyncAll_StopsOnShortPage(t *testing.T) {
	src := &fakeSource{pages: map[int][]ontong.Record{
		1: records("a", 3),
		2: records("b", 3),
		3: records("c", 1),
	}}
	sink := &fakeSink{}
	var sleeps int

	n, err := newOrchestrator(src, sink, nil, &sleeps).SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if n != 7 {
		t.Errorf("synced = %d, want 7", n)
	}
	if len(sink.batches) != 3 {
		t.Errorf("batches = %d, want 3", len(sink.batches))
	}
	if got := fmt.Sprint(src.calls); got != "[1 2 3]" {
		t.Errorf("pages fetched = %s, want [1 2 3]", got)
	}
	if sleeps != 2 {
		t.Errorf("sleeps = %d, want 2 (between pages only)", sleeps)
	}
}

func TestSyncAll_StopsOnEmptyPage(t *testing.T) {
	src := &fakeSource{pages: map[int][]ontong.Record{1: records("a", 3)}}
	sink := &fakeSink{}
	var sleeps int

	n, err := newOrchestrator(src, sink, nil, &sleeps).SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if n != 3 || len(sink.batches) != 1 {
		t.Errorf("synced=%d batches=%d, want 3/1", n, len(sink.batches))
	}
	if len(src.calls) != 2 {
		t.Errorf("fetches = %d, want 2", len(src.calls))
	}
}

func TestSyncAll_SendsNoFilters(t *testing.T) {
	src := &fakeSource{pages: map[int][]ontong.Record{1: records("a", 1)}}
	var sleeps int
	if _, err := newOrchestrator(src, &fakeSink{}, nil, &sleeps).SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if src.filters[0] != (ontong.ListFilters{}) {
		t.Errorf("filters = %+v, want none", src.filters[0])
	}
}

func TestSyncAll_FetchErrorKeepsEarlierPages(t *testing.T) {
	src := &fakeSource{
		pages:  map[int][]ontong.Record{1: records("a", 3), 2: records("b", 3)},
		failAt: 3,
	}
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	var sleeps int

	n, err := newOrchestrator(src, sink, notifier, &sleeps).SyncAll(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "page 3") {
		t.Errorf("error should name the page: %v", err)
	}
	if ontong.KindOf(err) != ontong.KindStatus {
		t.Errorf("KindOf(err) = %v, want status", ontong.KindOf(err))
	}
	if n != 6 || len(sink.batches) != 2 {
		t.Errorf("synced=%d batches=%d, want 6/2", n, len(sink.batches))
	}
	if len(notifier.reports) != 1 || notifier.reports[0].Err == "" {
		t.Errorf("failure report not delivered: %+v", notifier.reports)
	}
}

func TestSyncAll_WriteErrorAborts(t *testing.T) {
	src := &fakeSource{pages: map[int][]ontong.Record{1: records("a", 3), 2: records("b", 3)}}
	sink := &fakeSink{failOn: 2}
	var sleeps int

	n, err := newOrchestrator(src, sink, nil, &sleeps).SyncAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "page 2") {
		t.Fatalf("err = %v, want page 2 write failure", err)
	}
	if n != 3 {
		t.Errorf("synced = %d, want 3", n)
	}
	if len(src.calls) != 2 {
		t.Errorf("fetches = %d, want 2", len(src.calls))
	}
}

func TestSyncAll_SkipsRecordsWithoutID(t *testing.T) {
	page := records("a", 3)
	delete(page[1], "bizId")
	src := &fakeSource{pages: map[int][]ontong.Record{1: page}}
	sink := &fakeSink{}
	var sleeps int

	n, err := newOrchestrator(src, sink, nil, &sleeps).SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if n != 2 {
		t.Errorf("synced = %d, want 2", n)
	}
	// A full raw page still means "keep going".
	if len(src.calls) != 2 {
		t.Errorf("fetches = %d, want 2", len(src.calls))
	}
}

func TestSyncAll_CancelDuringDelay(t *testing.T) {
	src := &fakeSource{pages: map[int][]ontong.Record{1: records("a", 3), 2: records("b", 3)}}
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := policysync.New(src, sink, policysync.Options{
		PageSize: 3,
		Delay:    time.Hour,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	start := time.Now()
	_, err := o.SyncAll(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("delay did not honour cancellation")
	}
}

func TestSyncAll_ReportsSuccess(t *testing.T) {
	src := &fakeSource{pages: map[int][]ontong.Record{1: records("a", 2)}}
	notifier := &fakeNotifier{}
	var sleeps int

	if _, err := newOrchestrator(src, &fakeSink{}, notifier, &sleeps).SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(notifier.reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(notifier.reports))
	}
	r := notifier.reports[0]
	if r.Synced != 2 || r.Pages != 1 || r.Err != "" {
		t.Errorf("report = %+v", r)
	}
	if r.FinishedAt.Before(r.StartedAt) {
		t.Errorf("FinishedAt %v before StartedAt %v", r.FinishedAt, r.StartedAt)
	}
}
