// Package scraper is the scraper loader kind (spec §4.3): fetches one page
// per tick, optionally rendering it with a headless browser when the
// ingester declares a dynamic strategy, and hands the resulting HTML
// string to transform.Select's CSS/XPath dispatch.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
	"chomp/internal/loader"
)

func init() {
	loader.Register(ingest.KindScraper, New)
}

// Loader issues a GET (or a chromedp-rendered navigation) against
// spec.Target and returns the page's HTML body.
type Loader struct {
	client *http.Client
}

// New builds the scraper Loader for spec.
func New(spec *ingest.Ingester) (loader.Loader, error) {
	return &Loader{client: &http.Client{}}, nil
}

// Acquire fetches spec.Target's HTML, rendering with a headless Chrome
// instance first when params.dynamic is set (spec §4.3: "renders if the
// configuration declares a dynamic strategy").
func (l *Loader) Acquire(ctx context.Context, spec *ingest.Ingester) (any, loader.RequestVitals, error) {
	if spec.Target == "" {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindConfig, "loader.scraper", spec.Name, fmt.Errorf("no target configured"))
	}

	if dyn, waitSel := dynamicStrategy(spec.Params); dyn {
		return l.acquireDynamic(ctx, spec, waitSel)
	}
	return l.acquireStatic(ctx, spec)
}

func (l *Loader) acquireStatic(ctx context.Context, spec *ingest.Ingester) (any, loader.RequestVitals, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.Target, nil)
	if err != nil {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindConfig, "loader.scraper", spec.Name, err)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindTransientIO, "loader.scraper", spec.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindTransientIO, "loader.scraper", spec.Name, err)
	}

	vitals := loader.RequestVitals{Latency: time.Since(start), Bytes: len(body), Status: resp.Status, FieldCount: len(spec.Fields)}
	if resp.StatusCode >= 500 {
		return nil, vitals, chomperr.New(chomperr.KindTransientIO, "loader.scraper", spec.Name, fmt.Errorf("server error: %s", resp.Status))
	}
	if resp.StatusCode >= 400 {
		return nil, vitals, chomperr.New(chomperr.KindConfig, "loader.scraper", spec.Name, fmt.Errorf("client error: %s", resp.Status))
	}
	return string(body), vitals, nil
}

// acquireDynamic renders spec.Target in a headless Chrome tab, optionally
// waiting for waitSelector to appear before capturing the rendered DOM.
func (l *Loader) acquireDynamic(ctx context.Context, spec *ingest.Ingester, waitSelector string) (any, loader.RequestVitals, error) {
	start := time.Now()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var html string
	actions := []chromedp.Action{chromedp.Navigate(spec.Target)}
	if waitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
	}
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindTransientIO, "loader.scraper", spec.Name, fmt.Errorf("render %q: %w", spec.Target, err))
	}

	vitals := loader.RequestVitals{Latency: time.Since(start), Bytes: len(html), Status: "ok", FieldCount: len(spec.Fields)}
	return html, vitals, nil
}

// dynamicStrategy inspects spec.Params for a "dynamic" flag (and an
// optional "wait_selector") — the scraper-specific extension of the
// generic params bag (spec §3: Ingester.params is free-form per kind).
func dynamicStrategy(params any) (bool, string) {
	m, ok := params.(map[string]any)
	if !ok {
		return false, ""
	}
	dyn, _ := m["dynamic"].(bool)
	waitSel, _ := m["wait_selector"].(string)
	return dyn, waitSel
}

func (l *Loader) Close() error { return nil }

var _ loader.Loader = (*Loader)(nil)
