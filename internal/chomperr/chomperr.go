// Package chomperr classifies ingestion-core errors into the kinds the
// scheduler and operator tooling need to treat differently: fatal at
// startup, retryable with a cooldown, or a silent per-tick skip.
//
// Components return plain wrapped errors; this package exists so callers
// can classify an error with errors.As without the producing package
// needing to know about retry budgets or fatality.
package chomperr

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy from spec §7.
type Kind int

const (
	// KindConfig marks startup-fatal configuration errors: missing fields,
	// bad interval tags, duplicate names, unknown keys.
	KindConfig Kind = iota
	// KindTransientIO marks retryable I/O failures: HTTP 5xx, reset
	// connections, RPC timeouts.
	KindTransientIO
	// KindSelection marks a selector that yielded nothing.
	KindSelection
	// KindCoercion marks a value that could not be cast to its declared type.
	KindCoercion
	// KindStore marks a cache or database failure on the store path.
	KindStore
	// KindSchema marks a startup-fatal incompatible schema change.
	KindSchema
	// KindClaimLost marks a claim that another process won first; always
	// a silent no-op, never logged as an error.
	KindClaimLost
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransientIO:
		return "transient_io"
	case KindSelection:
		return "selection"
	case KindCoercion:
		return "coercion"
	case KindStore:
		return "store"
	case KindSchema:
		return "schema"
	case KindClaimLost:
		return "claim_lost"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind for classification.
type Error struct {
	Kind    Kind
	Op      string // component/operation, e.g. "loader.http_api", "transform.coerce"
	Ingester string
	Err     error
}

func (e *Error) Error() string {
	if e.Ingester != "" {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Op, e.Ingester, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind, operation, and ingester name.
// Returns nil if err is nil.
func New(kind Kind, op, ingester string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Ingester: ingester, Err: err}
}

// Is reports whether err carries the given Kind, unwrapping through any
// further fmt.Errorf("...: %w", ...) layers a caller may have added.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Retryable reports whether the kind warrants a retry within the same tick's
// budget (transient I/O or store failures), as opposed to an immediate skip
// (selection/coercion) or a startup-fatal condition (config/schema).
func Retryable(kind Kind) bool {
	switch kind {
	case KindTransientIO, KindStore:
		return true
	default:
		return false
	}
}

// Fatal reports whether the kind must abort the process at startup.
func Fatal(kind Kind) bool {
	return kind == KindConfig || kind == KindSchema
}
