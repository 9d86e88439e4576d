package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"yuno/policy-service/internal/httpapi"
	"yuno/policy-service/internal/model"
	"yuno/policy-service/internal/policy"
	"yuno/policy-service/internal/policysync"
)

type fakeService struct {
	gotFilters model.Filters
	gotPage    int
	gotLimit   int
	gotAge     model.AgeBounds

	page      model.PolicyPage
	detail    *model.Policy
	synced    int
	syncErr   error
	syncDelay time.Duration
}

func (f *fakeService) GetPolicies(_ context.Context, flt model.Filters, page, limit int, age model.AgeBounds) (model.PolicyPage, error) {
	f.gotFilters, f.gotPage, f.gotLimit, f.gotAge = flt, page, limit, age
	return f.page, nil
}

func (f *fakeService) GetPolicyDetail(_ context.Context, id string) (*model.Policy, error) {
	if f.detail != nil && f.detail.ID == id {
		return f.detail, nil
	}
	return nil, nil
}

func (f *fakeService) SyncAll(context.Context) (int, error) {
	time.Sleep(f.syncDelay)
	return f.synced, f.syncErr
}

type fakeHistory struct {
	report *policysync.SyncReport
}

func (f fakeHistory) LastSync(context.Context) (*policysync.SyncReport, error) {
	return f.report, nil
}

func serve(t *testing.T, svc httpapi.PolicyService, hist httpapi.SyncHistory, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	httpapi.NewHandler(svc, hist, "policy-service", "test").RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

// ── GET /health ────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	rec := serve(t, &fakeService{}, nil, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" || body["service"] != "policy-service" {
		t.Errorf("body = %v", body)
	}
}

// ── GET /policies ──────────────────────────────────────────────────────────

func TestListPolicies_ParsesQuery(t *testing.T) {
	svc := &fakeService{page: model.PolicyPage{
		Policies:   []model.Policy{{ID: "R1", Category: "취업지원"}},
		Pagination: model.Pagination{Page: 2, Limit: 10, Total: 11, HasNext: false},
		Source:     model.SourceLive,
	}}
	rec := serve(t, svc, nil, http.MethodGet,
		"/policies?category=%EC%B7%A8%EC%97%85%EC%A7%80%EC%9B%90&region=%EC%84%9C%EC%9A%B8&search=+%EC%B2%AD%EB%85%84+&page=2&limit=10&ageMin=19&ageMax=34")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	want := model.Filters{Category: "취업지원", Region: "서울", Search: "청년"}
	if svc.gotFilters != want {
		t.Errorf("filters = %+v, want %+v", svc.gotFilters, want)
	}
	if svc.gotPage != 2 || svc.gotLimit != 10 {
		t.Errorf("page/limit = %d/%d", svc.gotPage, svc.gotLimit)
	}
	if svc.gotAge.Min == nil || *svc.gotAge.Min != 19 || svc.gotAge.Max == nil || *svc.gotAge.Max != 34 {
		t.Errorf("age = %+v", svc.gotAge)
	}

	var body struct {
		Policies   []map[string]any `json:"policies"`
		Pagination map[string]any   `json:"pagination"`
		Source     string           `json:"source"`
	}
	decode(t, rec, &body)
	if len(body.Policies) != 1 || body.Source != "live" {
		t.Errorf("body = %+v", body)
	}
	if _, ok := body.Pagination["hasNext"]; !ok {
		t.Errorf("pagination missing hasNext: %v", body.Pagination)
	}
}

func TestListPolicies_NoAgeBounds(t *testing.T) {
	svc := &fakeService{}
	rec := serve(t, svc, nil, http.MethodGet, "/policies")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.gotAge.Min != nil || svc.gotAge.Max != nil {
		t.Errorf("age = %+v, want unset", svc.gotAge)
	}
	if svc.gotPage != 0 || svc.gotLimit != 0 {
		t.Errorf("page/limit = %d/%d, want defaults left to the service", svc.gotPage, svc.gotLimit)
	}
}

func TestListPolicies_BadIntegers(t *testing.T) {
	for _, q := range []string{"page=x", "limit=1.5", "ageMin=twenty", "ageMax=%20"} {
		rec := serve(t, &fakeService{}, nil, http.MethodGet, "/policies?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

// ── GET /policies/{id} ─────────────────────────────────────────────────────

func TestGetPolicy(t *testing.T) {
	svc := &fakeService{detail: &model.Policy{ID: "R9", Category: "주거지원"}}

	rec := serve(t, svc, nil, http.MethodGet, "/policies/R9")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got model.Policy
	decode(t, rec, &got)
	if got.ID != "R9" || got.Category != "주거지원" {
		t.Errorf("policy = %+v", got)
	}

	rec = serve(t, svc, nil, http.MethodGet, "/policies/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing policy status = %d, want 404", rec.Code)
	}
}

// ── POST /sync ─────────────────────────────────────────────────────────────

func TestSync(t *testing.T) {
	cases := []struct {
		name string
		svc  *fakeService
		code int
	}{
		{"ok", &fakeService{synced: 321}, http.StatusOK},
		{"busy", &fakeService{syncErr: policy.ErrSyncInProgress}, http.StatusConflict},
		{"upstream down", &fakeService{synced: 100, syncErr: errors.New("sync page 2: fetch: timeout")}, http.StatusBadGateway},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := serve(t, c.svc, nil, http.MethodPost, "/sync")
			if rec.Code != c.code {
				t.Fatalf("status = %d, want %d", rec.Code, c.code)
			}
			var body map[string]any
			decode(t, rec, &body)
			if c.code != http.StatusConflict && body["synced"] != float64(c.svc.synced) {
				t.Errorf("synced = %v, want %d", body["synced"], c.svc.synced)
			}
		})
	}
}

func TestSync_OutlivesWriteTimeout(t *testing.T) {
	mux := http.NewServeMux()
	svc := &fakeService{synced: 1200, syncDelay: 300 * time.Millisecond}
	httpapi.NewHandler(svc, nil, "policy-service", "test").RegisterRoutes(mux)

	srv := httptest.NewUnstartedServer(mux)
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /sync: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["synced"] != 1200 {
		t.Errorf("synced = %d, want 1200", body["synced"])
	}
}

func TestSync_WrongMethod(t *testing.T) {
	rec := serve(t, &fakeService{}, nil, http.MethodGet, "/sync")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

// ── GET /sync/last ─────────────────────────────────────────────────────────

func TestLastSync(t *testing.T) {
	rec := serve(t, &fakeService{}, nil, http.MethodGet, "/sync/last")
	if rec.Code != http.StatusNotFound {
		t.Errorf("without history: status = %d, want 404", rec.Code)
	}

	rec = serve(t, &fakeService{}, fakeHistory{}, http.MethodGet, "/sync/last")
	if rec.Code != http.StatusNotFound {
		t.Errorf("no run yet: status = %d, want 404", rec.Code)
	}

	report := &policysync.SyncReport{FinishedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Synced: 5}
	rec = serve(t, &fakeService{}, fakeHistory{report: report}, http.MethodGet, "/sync/last")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got policysync.SyncReport
	decode(t, rec, &got)
	if got.Synced != 5 {
		t.Errorf("report = %+v", got)
	}
}
