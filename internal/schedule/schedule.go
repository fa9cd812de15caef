// Package schedule is the clustered tick scheduler (spec §4.2, C2):
// converts interval tags into fixed-period, wall-clock-aligned ticks,
// claims exactly one owner per (ingester, tick) via the cache façade, and
// dispatches load → transform → store → publish in that order.
//
// Grounded on the teacher's orchestrator.Scheduler (internal/orchestrator/
// scheduler.go): a single gocron.Scheduler wrapped to expose a small
// named-job API, concurrency bounded by gocron.WithLimitConcurrentJobs.
// Where the teacher's jobs are cron expressions for housekeeping sweeps,
// Chomp's jobs are fixed-duration ticks aligned to a shared epoch, since
// spec §4.2 requires "every cluster member computes the same tick
// boundaries" rather than cron's wall-clock-of-day semantics.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"chomp/internal/cache"
	"chomp/internal/chomperr"
	"chomp/internal/config"
	"chomp/internal/ingest"
	"chomp/internal/loader"
	"chomp/internal/logging"
	"chomp/internal/publish"
	"chomp/internal/registry"
	"chomp/internal/store"
	"chomp/internal/transform"
)

// TickBoundary returns the most recent tick boundary at or before now,
// aligned to period from the Unix epoch (spec §4.2: "ticks are aligned to
// wall-clock multiples of the period... from the process-wide epoch 0").
// Calendar-scale tags use period's nominal duration rather than true
// calendar month/year boundaries — see ingest.Interval's doc comment.
func TickBoundary(now time.Time, period time.Duration) time.Time {
	secs := int64(period / time.Second)
	if secs <= 0 {
		secs = 1
	}
	aligned := (now.Unix() / secs) * secs
	return time.Unix(aligned, 0).UTC()
}

// NextTickBoundary returns the first tick boundary strictly after now.
func NextTickBoundary(now time.Time, period time.Duration) time.Time {
	b := TickBoundary(now, period)
	if !b.After(now) {
		b = b.Add(period)
	}
	return b
}

// Config configures a Scheduler.
type Config struct {
	Namespace      string
	InstanceID     string
	MaxJobs        int
	MaxRetries     int
	RetryCooldown  time.Duration
	Cache          cache.Cache
	Registry       *registry.Registry
	Store          store.Store
	Publisher      publish.Publisher
	Logger         *slog.Logger
}

// Scheduler owns the gocron instance and per-ingester job handles.
type Scheduler struct {
	cfg       Config
	gocron    gocron.Scheduler
	logger    *slog.Logger
	keys      registry.Keys
	ownerID   string

	mu      sync.Mutex
	loaders map[string]loader.Loader
	jobs    map[string]gocron.Job
}

// New builds a Scheduler bounded by cfg.MaxJobs concurrent tick tasks.
func New(cfg Config) (*Scheduler, error) {
	maxJobs := cfg.MaxJobs
	if maxJobs <= 0 {
		maxJobs = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = 2 * time.Second
	}
	ownerID := cfg.InstanceID
	if ownerID == "" {
		ownerID = uuid.NewString()
	}

	gs, err := gocron.NewScheduler(gocron.WithLimitConcurrentJobs(uint(maxJobs), gocron.LimitModeWait))
	if err != nil {
		return nil, fmt.Errorf("schedule: create gocron scheduler: %w", err)
	}

	if cfg.Registry != nil {
		loader.SetResolver(cfg.Registry.Get)
	}

	return &Scheduler{
		cfg:     cfg,
		gocron:  gs,
		logger:  logging.Default(cfg.Logger).With("component", "schedule"),
		keys:    registry.Keys{Namespace: cfg.Namespace},
		ownerID: ownerID,
		loaders: make(map[string]loader.Loader),
		jobs:    make(map[string]gocron.Job),
	}, nil
}

// Schedule registers one recurring job per ingester, its first run aligned
// to the next shared tick boundary for its interval. Safe to call again
// after Start for a disjoint set of ingesters (e.g. the Added/Changed names
// from a config.Diff); scheduling a name that is already running replaces
// it, mirroring the teacher's UpdateJob semantics.
func (s *Scheduler) Schedule(ingesters []*ingest.Ingester) error {
	for _, ing := range ingesters {
		if err := s.scheduleOne(ing); err != nil {
			return fmt.Errorf("schedule ingester %q: %w", ing.Name, err)
		}
	}
	return nil
}

func (s *Scheduler) scheduleOne(ing *ingest.Ingester) error {
	s.mu.Lock()
	s.unscheduleLocked(ing.Name)
	s.mu.Unlock()

	ld, err := loader.New(ing)
	if err != nil {
		return err
	}

	period, ok := ing.Interval.Period()
	if !ok {
		ld.Close()
		return fmt.Errorf("invalid interval %q", ing.Interval)
	}
	firstRun := NextTickBoundary(time.Now(), period)

	j, err := s.gocron.NewJob(
		gocron.DurationJob(period),
		gocron.NewTask(func() { s.runTick(ing, ld, period) }),
		gocron.WithName(ing.Name),
		gocron.WithStartAt(gocron.WithStartDateTime(firstRun)),
	)
	if err != nil {
		ld.Close()
		return fmt.Errorf("register job: %w", err)
	}

	s.mu.Lock()
	s.loaders[ing.Name] = ld
	s.jobs[ing.Name] = j
	s.mu.Unlock()
	return nil
}

// IsScheduled reports whether name currently has a running job. Grounded on
// the teacher's Scheduler.HasJob (internal/orchestrator/scheduler.go).
func (s *Scheduler) IsScheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Unschedule stops and removes a named ingester's job, closing its loader.
// No-op if the name isn't currently scheduled. Grounded on the teacher's
// Scheduler.RemoveJob (internal/orchestrator/scheduler.go).
func (s *Scheduler) Unschedule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unscheduleLocked(name)
}

func (s *Scheduler) unscheduleLocked(name string) {
	if j, ok := s.jobs[name]; ok {
		if err := s.gocron.RemoveJob(j.ID()); err != nil {
			s.logger.Warn("failed to remove scheduled job", "ingester", name, "error", err)
		}
		delete(s.jobs, name)
	}
	if ld, ok := s.loaders[name]; ok {
		if err := ld.Close(); err != nil {
			s.logger.Warn("loader close failed", "ingester", name, "error", err)
		}
		delete(s.loaders, name)
	}
}

// Reschedule applies a config.Diff against the running schedule: removed
// ingesters are unscheduled, added and changed ingesters are (re)scheduled
// from next's definitions. Ingesters absent from both Added and Changed are
// left running untouched.
func (s *Scheduler) Reschedule(diff config.ConfigDiff, next []*ingest.Ingester) error {
	byName := make(map[string]*ingest.Ingester, len(next))
	for _, ing := range next {
		byName[ing.Name] = ing
	}

	for _, name := range diff.Removed {
		s.Unschedule(name)
	}
	for _, name := range append(append([]string{}, diff.Added...), diff.Changed...) {
		ing, ok := byName[name]
		if !ok {
			continue // removed again before the reload settled; ignore
		}
		if err := s.scheduleOne(ing); err != nil {
			return fmt.Errorf("reschedule ingester %q: %w", name, err)
		}
	}
	return nil
}

// Start begins dispatching ticks.
func (s *Scheduler) Start() { s.gocron.Start() }

// Stop shuts down the scheduler and closes every loader.
func (s *Scheduler) Stop() error {
	err := s.gocron.Shutdown()
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, ld := range s.loaders {
		if closeErr := ld.Close(); closeErr != nil {
			s.logger.Warn("loader close failed", "ingester", name, "error", closeErr)
		}
	}
	return err
}

// runTick executes the dispatch algorithm of spec §4.2 steps 1-4 for one
// (ingester, tick) pair.
func (s *Scheduler) runTick(ing *ingest.Ingester, ld loader.Loader, period time.Duration) {
	tick := TickBoundary(time.Now(), period)
	logger := s.logger.With("ingester", ing.Name, "tick", tick)

	// Step 1: probability gate, before any claim is consumed.
	if p := ing.EffectiveProbability(); p < 1 {
		if rand.Float64() >= p {
			return
		}
	}

	// Step 2: claim.
	ctx, cancel := context.WithTimeout(context.Background(), period-safetyMargin(period))
	defer cancel()

	claimed, err := s.claim(ctx, ing.Name, tick, period)
	if err != nil {
		logger.Warn("claim attempt failed", "error", err)
		return
	}
	if !claimed {
		return // another instance owns this tick
	}

	if err := s.dispatch(ctx, ing, ld, tick); err != nil {
		s.recordFailure(ctx, ing, err)
		logger.Error("tick failed", "error", err)
		return
	}
	s.recordSuccess(ctx, ing, tick)
}

func safetyMargin(period time.Duration) time.Duration {
	margin := period / 20
	if margin <= 0 {
		margin = time.Millisecond
	}
	return margin
}

type claimRecord struct {
	OwnerID    string
	AcquiredAt time.Time
	Tick       time.Time
}

func encodeClaim(rec claimRecord) ([]byte, error) {
	return msgpack.Marshal(rec)
}

func decodeClaim(b []byte) (claimRecord, error) {
	var rec claimRecord
	err := msgpack.Unmarshal(b, &rec)
	return rec, err
}

// claim attempts to win (ingester, tick) via setIfAbsent, conditional on the
// existing claim (if any) being for an older tick (spec §4.2 step 2: "write
// claims:{name} → {owner_id, T_k}... conditional on the key being absent
// or its stored T_k being strictly older").
func (s *Scheduler) claim(ctx context.Context, name string, tick time.Time, period time.Duration) (bool, error) {
	key := s.keys.Claim(name)
	ttl := period - safetyMargin(period)

	rec := claimRecord{OwnerID: s.ownerID, AcquiredAt: time.Now(), Tick: tick}
	encoded, err := encodeClaim(rec)
	if err != nil {
		return false, chomperr.New(chomperr.KindStore, "schedule.claim", name, err)
	}

	ok, err := s.cfg.Cache.SetIfAbsent(ctx, key, encoded, ttl)
	if err != nil {
		return false, chomperr.New(chomperr.KindStore, "schedule.claim", name, err)
	}
	if ok {
		return true, nil
	}

	// Key present: normally this means another process already claimed
	// this tick (TTL ~= period, so a prior tick's claim should already
	// have expired). Force the claim only if the stored tick is strictly
	// older — spec §4.2 step 2's "or its stored T_k being strictly older".
	existing, err := s.cfg.Cache.Get(ctx, key)
	if err != nil {
		if err == cache.ErrNotFound {
			return false, nil // expired between the two calls; let the next tick retry
		}
		return false, chomperr.New(chomperr.KindStore, "schedule.claim", name, err)
	}
	prior, decodeErr := decodeClaim(existing)
	if decodeErr != nil || !prior.Tick.Before(tick) {
		return false, nil
	}
	if err := s.cfg.Cache.Set(ctx, key, encoded, ttl); err != nil {
		return false, chomperr.New(chomperr.KindStore, "schedule.claim", name, err)
	}
	return true, nil
}

// dispatch runs load → transform → store → publish with a per-tick retry
// budget on transient failures (spec §4.2 "failure semantics").
func (s *Scheduler) dispatch(ctx context.Context, ing *ingest.Ingester, ld loader.Loader, tick time.Time) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			cooldown := s.cfg.RetryCooldown + time.Duration(rand.Int64N(int64(s.cfg.RetryCooldown)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cooldown):
			}
		}

		raw, reqVitals, err := ld.Acquire(ctx, ing)
		loader.RecordVitals(ing.Name, reqVitals)
		if err != nil {
			lastErr = err
			s.cfg.Registry.IncrCounter(ctx, ing.Name, "retry")
			if chomperr.Is(err, chomperr.KindTransientIO) {
				continue
			}
			return err // selection/coercion/config: not retryable within the tick
		}

		row, latest, err := transform.Run(ing, raw, tick, s.crossResolver(ctx))
		if err != nil {
			return err
		}

		if err := s.cfg.Store.EnsureSchema(ctx, ing); err != nil {
			lastErr = err
			if chomperr.Is(err, chomperr.KindStore) {
				continue
			}
			return err
		}
		if err := s.cfg.Store.InsertRow(ctx, ing, row); err != nil {
			lastErr = err
			if chomperr.Is(err, chomperr.KindStore) {
				continue
			}
			return err
		}

		if err := s.cfg.Registry.WriteLatest(ctx, ing.Name, latest, tick); err != nil {
			s.logger.Warn("write latest failed", "ingester", ing.Name, "error", err)
		}
		if s.cfg.Publisher != nil {
			s.cfg.Publisher.Publish(ctx, s.cfg.Namespace, row)
		}
		s.cfg.Registry.IncrCounter(ctx, ing.Name, "success")
		return nil
	}
	return fmt.Errorf("retry budget exhausted: %w", lastErr)
}

func (s *Scheduler) crossResolver(ctx context.Context) transform.CrossResolver {
	return func(ingester, field string) (any, bool) {
		v, _, ok := s.cfg.Registry.LatestValue(ctx, ingester, field)
		return v, ok
	}
}

func (s *Scheduler) recordSuccess(ctx context.Context, ing *ingest.Ingester, tick time.Time) {
	if err := s.cfg.Registry.UpdateStatus(ctx, ing.Name, ingest.StatusHealthy, "", tick, 0); err != nil {
		s.logger.Warn("update status failed", "ingester", ing.Name, "error", err)
	}
}

func (s *Scheduler) recordFailure(ctx context.Context, ing *ingest.Ingester, cause error) {
	failures := ing.ConsecutiveFailures + 1
	if err := s.cfg.Registry.UpdateStatus(ctx, ing.Name, ingest.StatusUnhealthy, cause.Error(), ing.LastIngested, failures); err != nil {
		s.logger.Warn("update status failed", "ingester", ing.Name, "error", err)
	}
}
