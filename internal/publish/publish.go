// Package publish broadcasts completed rows on the pub/sub bus (spec §4.5:
// "the row, serialized as a compact JSON object, is broadcast on channel
// {namespace}:{ingester_name}... delivery is best-effort").
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"chomp/internal/cache"
	"chomp/internal/ingest"
	"chomp/internal/logging"
)

// Publisher broadcasts rows without ever blocking the ingestion path.
type Publisher interface {
	Publish(ctx context.Context, namespace string, row *ingest.Row)
}

// CachePublisher publishes over whichever cache.Cache backs the cluster —
// Redis in production, the in-memory façade in tests.
type CachePublisher struct {
	Cache  cache.Cache
	Logger *slog.Logger
}

// NewCachePublisher returns a Publisher atop c. A nil logger discards.
func NewCachePublisher(c cache.Cache, logger *slog.Logger) *CachePublisher {
	return &CachePublisher{Cache: c, Logger: logging.Default(logger)}
}

// Publish serializes row as compact JSON and publishes it on
// "{namespace}:{ingester}". Errors are logged, not returned — the
// publisher must never fail or block the caller's store path.
func (p *CachePublisher) Publish(ctx context.Context, namespace string, row *ingest.Row) {
	payload := make(map[string]any, len(row.Values)+1)
	for k, v := range row.Values {
		payload[k] = v
	}
	payload["ts"] = row.TS

	data, err := json.Marshal(payload)
	if err != nil {
		p.Logger.Warn("publish: marshal row failed", "ingester", row.Ingester, "error", err)
		return
	}

	channel := fmt.Sprintf("%s:%s", namespace, row.Ingester)
	if err := p.Cache.Publish(ctx, channel, data); err != nil {
		p.Logger.Warn("publish: best-effort broadcast failed", "ingester", row.Ingester, "channel", channel, "error", err)
	}
}
