// Package wsapi is the ws_api loader kind (spec §4.3): one long-lived
// connection per target, incoming messages folded into the current epoch
// buffer by a named handler plugin, and a named reducer plugin invoked at
// each tick boundary against the flipped epoch to produce the row payload.
//
// Grounded on internal/plugin's "named function registry" design for
// handler/reducer code blocks — this loader is the one caller of that
// registry, resolving spec.Handler/spec.Reducer to Go functions an
// operator registered at startup.
package wsapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
	"chomp/internal/loader"
	"chomp/internal/plugin"
)

func init() {
	loader.Register(ingest.KindWSAPI, New)
}

var (
	pluginsMu sync.RWMutex
	plugins   *plugin.Registry
)

// SetPluginRegistry installs the process-wide handler/reducer registry.
// Must be called before any ws_api Loader is constructed.
func SetPluginRegistry(r *plugin.Registry) {
	pluginsMu.Lock()
	plugins = r
	pluginsMu.Unlock()
}

func pluginRegistry() *plugin.Registry {
	pluginsMu.RLock()
	defer pluginsMu.RUnlock()
	return plugins
}

// Loader owns the long-lived connection and epoch buffer for one ws_api
// ingester.
type Loader struct {
	spec   *ingest.Ingester
	buffer *ingest.EpochBuffer
	reduce plugin.Reducer

	cancel context.CancelFunc
	done   chan struct{}
}

// New resolves spec's handler/reducer plugins and starts the background
// connection loop.
func New(spec *ingest.Ingester) (loader.Loader, error) {
	reg := pluginRegistry()
	if reg == nil {
		return nil, chomperr.New(chomperr.KindConfig, "loader.ws_api", spec.Name, fmt.Errorf("no plugin registry configured"))
	}
	if spec.Handler == "" || spec.Reducer == "" {
		return nil, chomperr.New(chomperr.KindConfig, "loader.ws_api", spec.Name, fmt.Errorf("ws_api ingesters require both handler and reducer"))
	}
	handler, err := reg.Handler(spec.Handler)
	if err != nil {
		return nil, chomperr.New(chomperr.KindConfig, "loader.ws_api", spec.Name, err)
	}
	reducer, err := reg.Reducer(spec.Reducer)
	if err != nil {
		return nil, chomperr.New(chomperr.KindConfig, "loader.ws_api", spec.Name, err)
	}
	period, ok := spec.Interval.Period()
	if !ok {
		return nil, chomperr.New(chomperr.KindConfig, "loader.ws_api", spec.Name, fmt.Errorf("invalid interval %q", spec.Interval))
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		spec:   spec,
		buffer: ingest.NewEpochBuffer(),
		reduce: reducer,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.connectLoop(ctx, handler, period)
	return l, nil
}

// connectLoop holds one connection open at a time, reconnecting with
// exponential backoff capped at the ingester's tick period on failure
// (spec §4.3: "Reconnection uses exponential backoff capped at the
// interval").
func (l *Loader) connectLoop(ctx context.Context, handler plugin.Handler, period time.Duration) {
	defer close(l.done)
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		err := l.runConnection(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > period {
				backoff = period
			}
			continue
		}
		backoff = time.Second
	}
}

func (l *Loader) runConnection(ctx context.Context, handler plugin.Handler) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.spec.Target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.spec.Target, err)
	}
	defer conn.Close()

	if err := l.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	appendTo := func(field string, value any) { l.buffer.Append(field, value) }

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		if err := handler(msg, appendTo); err != nil {
			// A malformed single message should not tear down the
			// connection; only transport errors do.
			continue
		}
	}
}

// subscribe sends the configured subscription payload once on connect, per
// spec.Params (spec §4.3: "On connect, subscribes according to params").
func (l *Loader) subscribe(conn *websocket.Conn) error {
	if l.spec.Params == nil {
		return nil
	}
	return conn.WriteJSON(l.spec.Params)
}

// Acquire flips the epoch buffer and invokes the reducer plugin on the
// captured epoch (spec §4.3: "flips the epoch buffer... hands the
// captured epoch to the transformer via reducer, then clears").
func (l *Loader) Acquire(ctx context.Context, spec *ingest.Ingester) (any, loader.RequestVitals, error) {
	epoch := l.buffer.Flip()
	previous := l.buffer.Previous()

	reduced, err := l.reduce(epoch, previous)
	if err != nil {
		return nil, loader.RequestVitals{}, chomperr.New(chomperr.KindSelection, "loader.ws_api", spec.Name, err)
	}

	count := 0
	for _, vals := range epoch {
		count += len(vals)
	}
	return reduced, loader.RequestVitals{Status: "ok", FieldCount: len(spec.Fields), Bytes: count}, nil
}

func (l *Loader) Close() error {
	l.cancel()
	<-l.done
	return nil
}

var _ loader.Loader = (*Loader)(nil)
