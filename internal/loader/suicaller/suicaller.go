// Package suicaller is the sui_caller loader kind (spec §4.3). See
// svmcaller's doc comment: no Sui SDK is present in this module's
// dependency graph, so this is the same abstraction-boundary-only
// placeholder.
package suicaller

import (
	"context"
	"fmt"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
	"chomp/internal/loader"
)

func init() {
	loader.Register(ingest.KindSuiCaller, New)
}

// Loader is the sui_caller placeholder.
type Loader struct{}

// New returns the sui_caller placeholder Loader for spec.
func New(spec *ingest.Ingester) (loader.Loader, error) {
	return &Loader{}, nil
}

// Acquire always reports a configuration error: no sui_caller adapter is
// wired into this build.
func (l *Loader) Acquire(ctx context.Context, spec *ingest.Ingester) (any, loader.RequestVitals, error) {
	return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindConfig, "loader.sui_caller", spec.Name,
		fmt.Errorf("no sui_caller adapter is configured in this build"))
}

func (l *Loader) Close() error { return nil }

var _ loader.Loader = (*Loader)(nil)
