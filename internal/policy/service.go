// Package policy is the read façade over the upstream API and the cache.
// It is transport-agnostic: used by both httpapi and grpcserver.
package policy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"yuno/policy-service/internal/model"
	"yuno/policy-service/internal/ontong"
	"yuno/policy-service/internal/store"
	"yuno/policy-service/internal/transform"
)

// ErrSyncInProgress is returned by SyncAll while another run holds the lock.
var ErrSyncInProgress = errors.New("policy sync already in progress")

// ─── Dependencies ────────────────────────────────────────────────────────────

// Upstream is the live policy source. *ontong.Client implements it.
type Upstream interface {
	ListPolicies(ctx context.Context, page, pageSize int, f ontong.ListFilters) (*ontong.ListResponse, error)
	GetPolicyDetail(ctx context.Context, id string) (*ontong.DetailResponse, error)
}

// Cache is the degraded-mode source and the detail write-through target.
type Cache interface {
	UpsertBatch(ctx context.Context, policies []model.Policy) error
	QueryCached(ctx context.Context, f model.Filters, page, pageSize int) (model.PolicyPage, error)
	GetByID(ctx context.Context, id string) (*model.Policy, error)
}

// Syncer runs a full catalogue sync. *policysync.Orchestrator implements it.
type Syncer interface {
	SyncAll(ctx context.Context) (int, error)
}

// ─── Service ─────────────────────────────────────────────────────────────────

// Service serves policy reads live from upstream and falls back to the cache
// when upstream fails.
type Service struct {
	upstream Upstream
	cache    Cache
	syncer   Syncer
	log      *slog.Logger
	now      func() time.Time

	syncMu sync.Mutex
}

// NewService returns a configured Service. A nil logger uses slog.Default.
func NewService(upstream Upstream, cache Cache, syncer Syncer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		upstream: upstream,
		cache:    cache,
		syncer:   syncer,
		log:      logger.With("component", "policy"),
		now:      time.Now,
	}
}

// GetPolicies returns one page of policies. The live path applies the age
// bounds after transformation; the cache fallback does not. The only error
// ever returned is the context's own.
func (s *Service) GetPolicies(ctx context.Context, f model.Filters, page, pageSize int, age model.AgeBounds) (model.PolicyPage, error) {
	if err := ctx.Err(); err != nil {
		return model.PolicyPage{}, err
	}
	page, pageSize = store.NormalizePage(page, pageSize)

	resp, err := s.upstream.ListPolicies(ctx, page, pageSize, ontong.ListFilters{
		CategoryCode: transform.CategoryCode(f.Category),
		Region:       transform.RegionCode(f.Region),
		Query:        f.Search,
	})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return model.PolicyPage{}, cerr
		}
		s.log.Warn("live policy list failed, serving cache", "kind", classify(err), "err", err)
		return s.fromCache(ctx, f, page, pageSize), nil
	}

	policies := FilterByAge(transform.Transform(resp.Records, s.now()), age)
	return model.PolicyPage{
		Policies: policies,
		Pagination: model.Pagination{
			Page:    page,
			Limit:   pageSize,
			Total:   resp.TotalCount,
			HasNext: len(policies) == pageSize,
		},
		Source: model.SourceLive,
	}, nil
}

func (s *Service) fromCache(ctx context.Context, f model.Filters, page, pageSize int) model.PolicyPage {
	// Rows store region names.
	f.Region = transform.RegionName(f.Region)
	out, err := s.cache.QueryCached(ctx, f, page, pageSize)
	if err != nil {
		s.log.Error("cache fallback failed, returning empty page", "err", err)
		return model.PolicyPage{
			Policies:   []model.Policy{},
			Pagination: model.Pagination{Page: 1, Limit: pageSize},
			Source:     model.SourceCache,
		}
	}
	return out
}

// GetPolicyDetail fetches one policy live and writes it through to the cache.
// When upstream fails it returns the cached row, or nil if there is none.
func (s *Service) GetPolicyDetail(ctx context.Context, id string) (*model.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := s.upstream.GetPolicyDetail(ctx, id)
	if err == nil {
		p := transform.TransformDetail(resp.Record, s.now())
		if p.ID == "" {
			p.ID = id
		}
		if werr := s.cache.UpsertBatch(ctx, []model.Policy{p}); werr != nil {
			s.log.Warn("detail write-through failed", "id", id, "err", werr)
		}
		return &p, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	s.log.Warn("live policy detail failed, serving cache", "id", id, "kind", classify(err), "err", err)

	cached, err := s.cache.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error("cache detail lookup failed", "id", id, "err", err)
		}
		return nil, nil
	}
	return cached, nil
}

// SyncAll runs one full sync. Concurrent calls in the same process get
// ErrSyncInProgress instead of starting a second run.
func (s *Service) SyncAll(ctx context.Context) (int, error) {
	if !s.syncMu.TryLock() {
		return 0, ErrSyncInProgress
	}
	defer s.syncMu.Unlock()
	return s.syncer.SyncAll(ctx)
}

// classify names the failure class for logging.
func classify(err error) string {
	if k := ontong.KindOf(err); k != 0 {
		return k.String()
	}
	return "unknown"
}
