package transform

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/theory/jsonpath"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
)

// Select runs Phase 1 of the tick pipeline (spec §4.4): pull the raw value
// a field's selector names out of whatever payload shape the ingester's
// kind produced. The selection strategy is dispatched by kind, not by
// selector syntax, since the same dotted-path text means something
// different to a JSON document than it does to an HTML one.
func Select(kind ingest.Kind, raw any, selector string) (any, error) {
	if selector == "" || selector == "root" {
		return raw, nil
	}

	switch kind {
	case ingest.KindHTTPAPI, ingest.KindMonitor:
		return selectJSON(raw, selector)
	case ingest.KindScraper:
		return selectScraper(raw, selector)
	case ingest.KindEVMCaller, ingest.KindEVMLogger, ingest.KindSVMCaller, ingest.KindSuiCaller:
		// Positional tuple: selection is implicit in the subsequent
		// transformer chain's {self}[n] indexing (spec §4.3 callers).
		return raw, nil
	case ingest.KindWSAPI:
		// Selection for streaming ingesters happens at reduce time
		// (Reduce), not here — the selector names a reducer-captured key.
		return selectMapKey(raw, selector)
	case ingest.KindProcessor:
		return raw, nil
	default:
		return nil, chomperr.New(chomperr.KindSelection, "select", "", fmt.Errorf("unsupported kind %q", kind))
	}
}

// selectJSON applies a JSONPath-style selector (spec §6: "dotted/bracket
// path into the decoded JSON body") to a decoded JSON value. A leading "$"
// is optional in configuration; it is added here if missing, matching
// RFC 9535 path syntax as implemented by theory/jsonpath.
func selectJSON(raw any, selector string) (any, error) {
	q := selector
	if !strings.HasPrefix(q, "$") {
		q = "$." + strings.TrimPrefix(q, ".")
	}
	path, err := jsonpath.Parse(q)
	if err != nil {
		return nil, chomperr.New(chomperr.KindSelection, "select_json", "", fmt.Errorf("parse selector %q: %w", selector, err))
	}
	matches := path.Select(raw)
	if len(matches) == 0 {
		return nil, chomperr.New(chomperr.KindSelection, "select_json", "", fmt.Errorf("selector %q matched nothing", selector))
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	out := make([]any, len(matches))
	copy(out, matches)
	return out, nil
}

// selectMapKey pulls a named key out of a decoded reducer-output map — the
// shape a ws_api ingester's field value takes after Reduce runs.
func selectMapKey(raw any, selector string) (any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, chomperr.New(chomperr.KindSelection, "select_ws", "", fmt.Errorf("expected reduced map, got %T", raw))
	}
	v, ok := m[selector]
	if !ok {
		return nil, chomperr.New(chomperr.KindSelection, "select_ws", "", fmt.Errorf("key %q not present in reduced output", selector))
	}
	return v, nil
}

// selectScraper supports two selector dialects disambiguated by leading
// slash (spec §4.3 scraper: "CSS or XPath... leading `/` or `//` (XPath)
// vs anything else (CSS)"). raw is the fetched page's HTML body as a
// string (chromedp-rendered or plain http.Get body).
func selectScraper(raw any, selector string) (any, error) {
	html, ok := raw.(string)
	if !ok {
		return nil, chomperr.New(chomperr.KindSelection, "select_scraper", "", fmt.Errorf("expected HTML string, got %T", raw))
	}

	if strings.HasPrefix(selector, "/") {
		path := selector
		doc, err := htmlquery.Parse(strings.NewReader(html))
		if err != nil {
			return nil, chomperr.New(chomperr.KindSelection, "select_scraper", "", fmt.Errorf("parse HTML: %w", err))
		}
		nodes := htmlquery.Find(doc, path)
		if len(nodes) == 0 {
			return nil, chomperr.New(chomperr.KindSelection, "select_scraper", "", fmt.Errorf("xpath %q matched nothing", path))
		}
		if len(nodes) == 1 {
			return htmlquery.InnerText(nodes[0]), nil
		}
		out := make([]any, len(nodes))
		for i, n := range nodes {
			out[i] = htmlquery.InnerText(n)
		}
		return out, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, chomperr.New(chomperr.KindSelection, "select_scraper", "", fmt.Errorf("parse HTML: %w", err))
	}
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return nil, chomperr.New(chomperr.KindSelection, "select_scraper", "", fmt.Errorf("css selector %q matched nothing", selector))
	}
	if sel.Length() == 1 {
		return strings.TrimSpace(sel.Text()), nil
	}
	out := make([]any, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out, nil
}
