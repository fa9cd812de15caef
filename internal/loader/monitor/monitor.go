// Package monitor is the monitor loader kind (spec §4.3): every tick it
// emits request vitals for the ingester it watches (its target names that
// ingester) plus this process's own resource vitals, with geolocation
// lookups cached for 6h. The loader does not mark the geolocation fields
// transient; whether geo_country/geo_city reach storage is decided by each
// field's own transient flag in the configuration.
package monitor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
	"chomp/internal/loader"
	"chomp/internal/vitals"
)

func init() {
	loader.Register(ingest.KindMonitor, New)
}

const geoTTL = 6 * time.Hour

var (
	geoOnce sync.Once
	geoDB   *maxminddb.Reader

	geoCacheMu sync.Mutex
	geoCache   = make(map[string]geoEntry)
)

type geoEntry struct {
	record   geoRecord
	cachedAt time.Time
}

// geoRecord is the subset of a MaxMind City database this loader reads.
type geoRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
}

// openGeoDB opens GEOIP_DB once, process-wide. A missing or unset path is
// not an error: geolocation fields are best-effort (spec calls them
// "cached", not "required").
func openGeoDB() *maxminddb.Reader {
	geoOnce.Do(func() {
		path := os.Getenv("GEOIP_DB")
		if path == "" {
			return
		}
		db, err := maxminddb.Open(path)
		if err == nil {
			geoDB = db
		}
	})
	return geoDB
}

func geolocate(host string) (geoRecord, bool) {
	geoCacheMu.Lock()
	if e, ok := geoCache[host]; ok && time.Since(e.cachedAt) < geoTTL {
		geoCacheMu.Unlock()
		return e.record, true
	}
	geoCacheMu.Unlock()

	db := openGeoDB()
	if db == nil {
		return geoRecord{}, false
	}

	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return geoRecord{}, false
	}

	var rec geoRecord
	if err := db.Lookup(ips[0], &rec); err != nil {
		return geoRecord{}, false
	}

	geoCacheMu.Lock()
	geoCache[host] = geoEntry{record: rec, cachedAt: time.Now()}
	geoCacheMu.Unlock()
	return rec, true
}

// targetHost resolves the watched ingester's own target to a hostname
// suitable for geolocation, via the loader package's installed resolver.
func targetHost(watchedIngester string) (string, bool) {
	watched, ok := loader.Resolve(watchedIngester)
	if !ok || watched.Target == "" {
		return "", false
	}
	u, err := url.Parse(watched.Target)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return u.Hostname(), true
}

// Loader samples this process's own resource usage and the request vitals
// last recorded for its watched ingester.
type Loader struct {
	sampler *vitals.Sampler
}

// New builds the monitor Loader for spec; spec.Target names the ingester
// being watched.
func New(spec *ingest.Ingester) (loader.Loader, error) {
	if spec.Target == "" {
		return nil, chomperr.New(chomperr.KindConfig, "loader.monitor", spec.Name, fmt.Errorf("target must name the ingester to monitor"))
	}
	sampler, err := vitals.NewSampler()
	if err != nil {
		return nil, chomperr.New(chomperr.KindConfig, "loader.monitor", spec.Name, err)
	}
	return &Loader{sampler: sampler}, nil
}

// Acquire assembles one row's worth of vitals as a flat map, selected into
// by field selectors the same way an http_api JSON payload is.
func (l *Loader) Acquire(ctx context.Context, spec *ingest.Ingester) (any, loader.RequestVitals, error) {
	watched := spec.Target

	payload := map[string]any{}

	if rv, ok := loader.LastVitals(watched); ok {
		payload["latency_ms"] = float64(rv.Latency.Milliseconds())
		payload["bytes"] = rv.Bytes
		payload["status"] = rv.Status
	}

	sample, err := l.sampler.Snapshot(ctx)
	if err != nil {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindTransientIO, "loader.monitor", spec.Name, err)
	}
	payload["cpu_percent"] = sample.CPUPercent
	payload["rss_bytes"] = float64(sample.RSSBytes)
	payload["disk_read_rate"] = sample.DiskReadRate
	payload["disk_write_rate"] = sample.DiskWriteRate

	if host, ok := targetHost(watched); ok {
		if rec, ok := geolocate(host); ok {
			payload["geo_country"] = rec.Country.ISOCode
			if len(rec.City.Names) > 0 {
				payload["geo_city"] = rec.City.Names["en"]
			}
		}
	}

	return payload, loader.RequestVitals{Status: "ok", FieldCount: len(spec.Fields)}, nil
}

func (l *Loader) Close() error { return nil }

var _ loader.Loader = (*Loader)(nil)
