// Package svmcaller is the svm_caller loader kind (spec §4.3: target
// chainId:address, selector a method signature, result a decoded tuple).
//
// No Solana RPC/ABI-decoding SDK is present in this module's dependency
// graph (none of the retrieved example repos import one), so this package
// registers the kind with the loader.Factory registry — configuration
// naming svm_caller is accepted, not rejected at startup — but Acquire
// reports a clear configuration error until an operator wires a concrete
// client, grounded the same way chain.ChainClient documents the SVM/Sui
// gap: the abstraction boundary exists, the concrete adapter does not.
package svmcaller

import (
	"context"
	"fmt"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
	"chomp/internal/loader"
)

func init() {
	loader.Register(ingest.KindSVMCaller, New)
}

// Loader is the svm_caller placeholder: it satisfies loader.Loader so the
// scheduler can register the ingester, but has no concrete RPC client.
type Loader struct{}

// New returns the svm_caller placeholder Loader for spec.
func New(spec *ingest.Ingester) (loader.Loader, error) {
	return &Loader{}, nil
}

// Acquire always reports a configuration error: no svm_caller adapter is
// wired into this build. An operator adding Solana support implements
// chain.ChainClient against solana-go and registers a Loader that calls it,
// the same shape evmcaller.New does for EVMClient.
func (l *Loader) Acquire(ctx context.Context, spec *ingest.Ingester) (any, loader.RequestVitals, error) {
	return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindConfig, "loader.svm_caller", spec.Name,
		fmt.Errorf("no svm_caller adapter is configured in this build"))
}

func (l *Loader) Close() error { return nil }

var _ loader.Loader = (*Loader)(nil)
