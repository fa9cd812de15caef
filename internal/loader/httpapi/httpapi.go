// Package httpapi is the http_api loader kind (spec §4.3): one GET per
// distinct target, JSON-or-text decoding, an optional pre_transformer
// applied once to the decoded payload.
//
// Grounded on the teacher's bodyutil.ReadBody (internal/ingester/bodyutil/
// bodyutil.go) for the compressed-body-read idiom, adapted here for an
// outbound client response instead of an inbound push request body.
package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
	"chomp/internal/loader"
	"chomp/internal/transform"
)

func init() {
	loader.Register(ingest.KindHTTPAPI, New)
}

const maxBodyBytes = 10 << 20

// Loader issues one GET per tick against spec.Target (or a field's target
// override) and decodes the response body.
type Loader struct {
	client *http.Client
}

// New builds the http_api Loader for spec. The client is shared across
// ticks; spec's per-field target overrides are resolved at Acquire time.
func New(spec *ingest.Ingester) (loader.Loader, error) {
	return &Loader{client: &http.Client{}}, nil
}

// Acquire fetches spec.Target, once per distinct target appearing in the
// ingester. transform.Select later applies only each field's selector to the
// returned payload; it does not route a field to its own target.
func (l *Loader) Acquire(ctx context.Context, spec *ingest.Ingester) (any, loader.RequestVitals, error) {
	targets := distinctTargets(spec)
	if len(targets) == 0 {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindConfig, "loader.http_api", spec.Name, fmt.Errorf("no target configured"))
	}

	payloads := make(map[string]any, len(targets))
	var vitals loader.RequestVitals
	for _, target := range targets {
		decoded, v, err := l.fetch(ctx, spec, target)
		if err != nil {
			return nil, v, err
		}
		payloads[target] = decoded
		vitals.Latency += v.Latency
		vitals.Bytes += v.Bytes
		vitals.Status = v.Status
	}
	vitals.FieldCount = len(spec.Fields)

	// Single-target ingesters (the overwhelming majority) see the decoded
	// payload directly, matching spec wording ("the decoded payload");
	// multi-target ingesters see a target->payload map so field-level
	// target overrides can still select against the right response.
	var raw any
	if len(targets) == 1 {
		raw = payloads[targets[0]]
	} else {
		raw = payloads
	}

	if spec.PreTransformer != "" {
		out, err := transform.EvalSource(spec.PreTransformer, raw)
		if err != nil {
			return nil, vitals, chomperr.New(chomperr.KindSelection, "loader.http_api.pre_transformer", spec.Name, err)
		}
		raw = out
	}

	return raw, vitals, nil
}

func (l *Loader) fetch(ctx context.Context, spec *ingest.Ingester, target string) (any, loader.RequestVitals, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindConfig, "loader.http_api", spec.Name, err)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	if q := buildQuery(spec.Params); q != "" {
		if req.URL.RawQuery == "" {
			req.URL.RawQuery = q
		} else {
			req.URL.RawQuery = req.URL.RawQuery + "&" + q
		}
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindTransientIO, "loader.http_api", spec.Name, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindTransientIO, "loader.http_api", spec.Name, err)
	}

	vitals := loader.RequestVitals{
		Latency: time.Since(start),
		Bytes:   len(body),
		Status:  resp.Status,
	}

	if resp.StatusCode >= 500 {
		return nil, vitals, chomperr.New(chomperr.KindTransientIO, "loader.http_api", spec.Name, fmt.Errorf("server error: %s", resp.Status))
	}
	if resp.StatusCode >= 400 {
		return nil, vitals, chomperr.New(chomperr.KindConfig, "loader.http_api", spec.Name, fmt.Errorf("client error: %s", resp.Status))
	}

	decoded, err := decodeBody(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, vitals, chomperr.New(chomperr.KindSelection, "loader.http_api", spec.Name, err)
	}
	return decoded, vitals, nil
}

// readBody decompresses a gzip-encoded response, matching the teacher's
// bodyutil handling of Content-Encoding; chunked identity bodies need no
// special handling beyond the usual io.ReadAll.
func readBody(resp *http.Response) ([]byte, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip reader: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(io.LimitReader(gz, maxBodyBytes))
	default:
		return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	}
}

// decodeBody decodes as JSON when Content-Type says so or the body looks
// like JSON (spec §4.3: "decoded as JSON if Content-Type is JSON or the
// first non-whitespace byte is {/["), falling back to UTF-8 text.
func decodeBody(contentType string, body []byte) (any, error) {
	trimmed := bytes.TrimSpace(body)
	looksJSON := len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
	if strings.Contains(contentType, "json") || looksJSON {
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		return v, nil
	}
	return string(body), nil
}

// distinctTargets collects the ingester's default target plus any
// field-level target overrides, deduplicated, preserving first-seen order.
func distinctTargets(spec *ingest.Ingester) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}
	add(spec.Target)
	for _, f := range spec.Fields {
		add(spec.EffectiveTarget(f))
	}
	return out
}

// buildQuery renders params (a map, per spec's YAML `params` shape) as a
// URL query string.
func buildQuery(params any) string {
	m, ok := params.(map[string]any)
	if !ok {
		return ""
	}
	vals := url.Values{}
	for k, v := range m {
		vals.Set(k, fmt.Sprint(v))
	}
	return vals.Encode()
}

func (l *Loader) Close() error { return nil }

var _ loader.Loader = (*Loader)(nil)
