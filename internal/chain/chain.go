// Package chain abstracts chain-specific RPC access for the evm_caller,
// evm_logger, svm_caller, and sui_caller loaders (spec §4.3: "A
// chain-specific RPC pool (external collaborator) is consulted; on chain
// call error the loader retries against a different endpoint"; spec §5:
// "RPC endpoint pools: round-robin with per-endpoint cooldown on failure;
// the pool is process-local").
//
// Concrete database drivers and RPC client libraries are themselves named
// an out-of-scope concern by the source specification ("modeled as
// abstract adapters") — ChainClient is that abstraction boundary. Only the
// EVM adapter is backed by a concrete SDK (go-ethereum, genuinely present
// in this module's dependency graph); SVM and Sui have no equivalent
// library here, so they are left as interface satisfiers an operator can
// implement against solana-go / sui-go-sdk without touching the scheduler.
package chain

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Call is one decoded on-chain read or log: a positional tuple, selected
// into by subsequent transformer steps via {self}[i] (spec §4.4). BlockNumber
// is set for log-derived calls (FilterLogs/Subscribe) and zero for reads.
type Call struct {
	Values      []any
	BlockNumber uint64
}

// ChainClient performs one read or log-fetch against a chain identified by
// target's chainId:address encoding.
type ChainClient interface {
	// Call performs a read (evm_caller/svm_caller/sui_caller): target is
	// "chainId:address", selector is a method signature.
	Call(ctx context.Context, target, selector string) (Call, error)

	// FilterLogs performs a ranged log fetch (evm_logger polled mode):
	// target is "chainId:address", selector is the event signature.
	FilterLogs(ctx context.Context, target, selector string, fromBlock, toBlock int64) ([]Call, error)

	// Subscribe starts perpetual-mode log streaming (evm_logger perpetual
	// mode): decoded logs are pushed to out until ctx is cancelled.
	Subscribe(ctx context.Context, target, selector string, out chan<- Call) error
}

// Endpoint is one RPC URL in a chain's pool, with its cooldown state.
type Endpoint struct {
	URL           string
	cooldownUntil time.Time
}

// Pool round-robins across a chain's configured endpoints, skipping any
// currently in cooldown (spec §5 shared-resource policy).
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	next      int
	cooldown  time.Duration
}

// NewPool builds a process-local pool from HTTP_RPCS_<chainid>-style
// comma-separated endpoint lists (spec §6 environment variables).
func NewPool(urls []string, cooldown time.Duration) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("chain: pool requires at least one endpoint")
	}
	eps := make([]*Endpoint, len(urls))
	for i, u := range urls {
		eps[i] = &Endpoint{URL: u}
	}
	return &Pool{endpoints: eps, cooldown: cooldown}, nil
}

// Next returns the next healthy endpoint in round-robin order, or false if
// every endpoint is currently cooling down.
func (p *Pool) Next() (*Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(p.endpoints); i++ {
		idx := (p.next + i) % len(p.endpoints)
		ep := p.endpoints[idx]
		if ep.cooldownUntil.IsZero() || now.After(ep.cooldownUntil) {
			p.next = (idx + 1) % len(p.endpoints)
			return ep, true
		}
	}
	return nil, false
}

// MarkFailed puts ep into cooldown, so the next Next() call skips it.
func (p *Pool) MarkFailed(ep *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.cooldownUntil = time.Now().Add(p.cooldown)
}

// Registry resolves a numeric chain ID to its endpoint Pool, built once at
// startup from HTTP_RPCS_<chainid> environment variables.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewRegistry returns an empty chain-ID → Pool registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Pool)}
}

// Register associates a chain ID with its endpoint pool.
func (r *Registry) Register(chainID string, pool *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[chainID] = pool
}

// Pool returns the registered pool for chainID, if any.
func (r *Registry) Pool(chainID string) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[chainID]
	return p, ok
}

// RegistryFromEnv builds a Registry from every HTTP_RPCS_<chainid>
// environment variable present (spec §6: "HTTP_RPCS_<chainid>
// (comma-separated endpoint list per chain)"), each pool sharing the same
// cooldown.
func RegistryFromEnv(cooldown time.Duration) (*Registry, error) {
	reg := NewRegistry()
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, "HTTP_RPCS_") {
			continue
		}
		chainID := strings.TrimPrefix(name, "HTTP_RPCS_")
		urls := splitNonEmpty(value, ',')
		if len(urls) == 0 {
			continue
		}
		pool, err := NewPool(urls, cooldown)
		if err != nil {
			return nil, fmt.Errorf("chain: build pool for chain %s: %w", chainID, err)
		}
		reg.Register(chainID, pool)
	}
	return reg, nil
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	for _, part := range strings.Split(s, string(sep)) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SplitTarget parses the "chainId:address" target encoding (spec §4.3).
func SplitTarget(target string) (chainID, address string, err error) {
	for i := 0; i < len(target); i++ {
		if target[i] == ':' {
			return target[:i], target[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("chain: target %q is not of the form chainId:address", target)
}
