// Package evmcaller is the evm_caller loader kind (spec §4.3): target is
// chainId:address, selector is a method signature, and the result is the
// decoded return tuple.
package evmcaller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chomp/internal/chain"
	"chomp/internal/chomperr"
	"chomp/internal/ingest"
	"chomp/internal/loader"
)

func init() {
	loader.Register(ingest.KindEVMCaller, New)
}

var (
	registryOnce sync.Once
	registry     *chain.Registry
	registryErr  error
)

// sharedRegistry builds the process-wide chain-ID → endpoint-pool registry
// once, from HTTP_RPCS_<chainid> environment variables (spec §6). Every
// evm_caller/evm_logger ingester shares it — pools are process-local, not
// per-ingester (spec §5 shared-resource policy).
func sharedRegistry() (*chain.Registry, error) {
	registryOnce.Do(func() {
		registry, registryErr = chain.RegistryFromEnv(30 * time.Second)
	})
	return registry, registryErr
}

// Loader performs one contract read per tick via a shared EVMClient.
type Loader struct {
	client *chain.EVMClient
}

// New builds the evm_caller Loader for spec.
func New(spec *ingest.Ingester) (loader.Loader, error) {
	reg, err := sharedRegistry()
	if err != nil {
		return nil, chomperr.New(chomperr.KindConfig, "loader.evm_caller", spec.Name, err)
	}
	return &Loader{client: chain.NewEVMClient(reg)}, nil
}

// Acquire calls spec.Target's method named by the ingester's selector
// (field-level selectors are not used here) and returns the decoded positional tuple (spec §4.3: "Field
// values are the decoded tuple; subsequent field selectors of form
// {self}[i] pick positional elements").
func (l *Loader) Acquire(ctx context.Context, spec *ingest.Ingester) (any, loader.RequestVitals, error) {
	if spec.Target == "" || spec.Selector == "" {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindConfig, "loader.evm_caller", spec.Name, fmt.Errorf("target and selector are both required"))
	}

	start := time.Now()
	call, err := l.client.Call(ctx, spec.Target, spec.Selector)
	if err != nil {
		return nil, loader.RequestVitals{Latency: time.Since(start), Status: "error"}, chomperr.New(chomperr.KindTransientIO, "loader.evm_caller", spec.Name, err)
	}

	vitals := loader.RequestVitals{Latency: time.Since(start), Status: "ok", FieldCount: len(spec.Fields)}
	return call.Values, vitals, nil
}

func (l *Loader) Close() error { return nil }

var _ loader.Loader = (*Loader)(nil)
