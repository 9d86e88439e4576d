// Package ontong is a thin client for the Ontong youth-policy open API.
//
// It returns raw records and leaves all field mapping to the transform
// package. Failures are returned unchanged as *FetchError; there is no retry
// at this layer.
package ontong

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL   = "https://www.youthcenter.go.kr/openapi"
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "Yuno-Backend/1.0"

	listPath   = "/youthPolicy.json"
	detailPath = "/youthPolicyDetail.json"
)

var tracer = otel.Tracer("yuno/policy-service/ontong")

// Record is one upstream policy object with vendor-specific keys.
// Numeric values are decoded as json.Number.
type Record map[string]any

// Options configures a Client.
type Options struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client issues list and detail requests against the Ontong API.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string
	http      *http.Client
	log       *slog.Logger
}

// New constructs a Client, filling unset options with defaults.
func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   base,
		apiKey:    opts.APIKey,
		userAgent: ua,
		http:      hc,
		log:       logger.With("component", "ontong"),
	}
}

// ListFilters are optional list parameters. Empty fields are not sent.
type ListFilters struct {
	CategoryCode string
	Region       string
	Query        string
}

// ListResponse is one raw page of the list endpoint.
type ListResponse struct {
	Records    []Record
	TotalCount int
}

// DetailResponse is the raw payload of the detail endpoint.
type DetailResponse struct {
	Record Record
}

type listPayload struct {
	YouthPolicy []Record    `json:"youthPolicy"`
	TotalCount  json.Number `json:"totalCount"`
}

type detailPayload struct {
	YouthPolicyDetail Record `json:"youthPolicyDetail"`
}

// ListPolicies fetches one page of policies.
func (c *Client) ListPolicies(ctx context.Context, page, pageSize int, f ListFilters) (*ListResponse, error) {
	const op = "ListPolicies"
	ctx, span := tracer.Start(ctx, "ontong."+op, trace.WithAttributes(
		attribute.Int("ontong.page", page),
		attribute.Int("ontong.page_size", pageSize),
	))
	defer span.End()

	params := url.Values{}
	params.Set("openApiVlak", c.apiKey)
	params.Set("display", strconv.Itoa(pageSize))
	params.Set("pageIndex", strconv.Itoa(page))
	if f.CategoryCode != "" {
		params.Set("bizTycdSel", f.CategoryCode)
	}
	if f.Region != "" {
		params.Set("srchPolicyRegion", f.Region)
	}
	if f.Query != "" {
		params.Set("query", f.Query)
	}

	var payload listPayload
	if err := c.get(ctx, op, listPath, params, &payload); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	total, _ := strconv.Atoi(payload.TotalCount.String())
	records := payload.YouthPolicy
	if records == nil {
		records = []Record{}
	}
	span.SetAttributes(attribute.Int("ontong.records", len(records)))
	return &ListResponse{Records: records, TotalCount: total}, nil
}

// GetPolicyDetail fetches the detail record for one policy id.
func (c *Client) GetPolicyDetail(ctx context.Context, id string) (*DetailResponse, error) {
	const op = "GetPolicyDetail"
	ctx, span := tracer.Start(ctx, "ontong."+op, trace.WithAttributes(
		attribute.String("ontong.biz_id", id),
	))
	defer span.End()

	params := url.Values{}
	params.Set("openApiVlak", c.apiKey)
	params.Set("bizId", id)

	var payload detailPayload
	if err := c.get(ctx, op, detailPath, params, &payload); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if payload.YouthPolicyDetail == nil {
		err := &FetchError{Kind: KindDecode, Op: op, Err: fmt.Errorf("response has no youthPolicyDetail object")}
		recordSpanError(span, err)
		return nil, err
	}
	return &DetailResponse{Record: payload.YouthPolicyDetail}, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	c.log.Info("ontong request", "method", http.MethodGet, "path", path)

	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &FetchError{Kind: KindTransport, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(&FetchError{Kind: KindTransport, Op: op, Err: fmt.Errorf("http GET: %w", redact(err))})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail(&FetchError{Kind: KindTransport, Op: op, Err: fmt.Errorf("read body: %w", err)})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(&FetchError{
			Kind:       KindStatus,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("ontong returned %d: %s", resp.StatusCode, snippet(body, 300)),
		})
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return c.fail(&FetchError{Kind: KindDecode, Op: op, Err: fmt.Errorf("json decode: %w", err)})
	}
	return nil
}

func (c *Client) fail(err *FetchError) error {
	c.log.Error("ontong request failed", "op", err.Op, "kind", err.Kind.String(), "status", err.StatusCode, "err", err.Err)
	return err
}

// redact strips the query string (which carries the API key) from url errors.
func redact(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	u, perr := url.Parse(uerr.URL)
	if perr != nil {
		return err
	}
	u.RawQuery = ""
	return &url.Error{Op: uerr.Op, URL: u.String(), Err: uerr.Err}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func snippet(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
