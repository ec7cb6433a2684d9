// Package stream implements the long-lived event-stream connection for
// the Driftmail client. The engine opens a server-sent event stream
// parameterized by the current registry snapshot, parses frames, and
// forwards encrypted events tagged with a connection epoch. Registry
// changes drain the live connection and reconnect with the new inbox
// set; transient faults reconnect with exponential backoff and are
// never surfaced to the caller.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftmail/client-go/internal/api"
	"github.com/driftmail/client-go/internal/apierrors"
	"github.com/driftmail/client-go/internal/registry"
)

// Default reconnect tuning.
const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 30 * time.Second

	backoffMultiplier = 2
	backoffJitter     = 0.2
)

// eventName is the SSE event type carrying an encrypted email notification.
const eventName = "email"

// Forwarder receives each parsed event together with the epoch of the
// connection that produced it. Implementations must not block; the
// engine's reader is single-threaded.
type Forwarder func(ev *api.EncryptedEvent, epoch uint64)

// Config configures an Engine.
type Config struct {
	// APIClient opens the event stream.
	APIClient *api.Client
	// Registry provides the inbox set and change notifications.
	Registry *registry.Registry
	// Forward receives parsed events.
	Forward Forwarder
	// OnTerminal is invoked once if the stream fails permanently
	// (authentication rejected on open). The engine stops afterwards.
	OnTerminal func(error)
	// Logger receives reconnect diagnostics. Defaults to a discarding logger.
	Logger *slog.Logger
	// BackoffInitial is the first reconnect delay.
	BackoffInitial time.Duration
	// BackoffMax caps the reconnect delay.
	BackoffMax time.Duration
}

// Engine is the stream connection loop. At most one live connection
// exists per engine; successive attempts are stamped with a
// monotonically increasing epoch so stale readers can be detected.
type Engine struct {
	apiClient  *api.Client
	reg        *registry.Registry
	forward    Forwarder
	onTerminal func(error)
	log        *slog.Logger

	backoffInitial time.Duration
	backoffMax     time.Duration

	epoch   atomic.Uint64
	restart chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	unwatch func()
	done    chan struct{}
}

// New creates an engine in the idle state.
func New(cfg Config) *Engine {
	e := &Engine{
		apiClient:      cfg.APIClient,
		reg:            cfg.Registry,
		forward:        cfg.Forward,
		onTerminal:     cfg.OnTerminal,
		log:            cfg.Logger,
		backoffInitial: cfg.BackoffInitial,
		backoffMax:     cfg.BackoffMax,
		restart:        make(chan struct{}, 1),
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}
	if e.backoffInitial <= 0 {
		e.backoffInitial = DefaultBackoffInitial
	}
	if e.backoffMax <= 0 {
		e.backoffMax = DefaultBackoffMax
	}
	return e
}

// Start begins the connection loop. It returns immediately; events are
// delivered asynchronously through the forwarder. Start is a no-op if
// the engine is already running.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.unwatch = e.reg.Watch(func(uint64) { e.signalRestart() })

	go e.run(runCtx)
}

// Stop cancels the current connection and waits for the reader to exit.
// Stop is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel, unwatch, done := e.cancel, e.unwatch, e.done
	e.mu.Unlock()

	unwatch()
	cancel()
	<-done
}

// Epoch returns the epoch of the most recent connection attempt. Frames
// stamped with an older epoch come from a superseded connection.
func (e *Engine) Epoch() uint64 {
	return e.epoch.Load()
}

// signalRestart requests a drain-and-reconnect. Signals are collapsed;
// one pending restart covers any number of registry changes.
func (e *Engine) signalRestart() {
	select {
	case e.restart <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		// Collapse restart signals already covered by the snapshot
		// about to be taken.
		select {
		case <-e.restart:
		default:
		}

		snap := e.reg.Snapshot()
		if snap.Len() == 0 {
			// Nothing to watch; idle until the registry changes.
			select {
			case <-ctx.Done():
				return
			case <-e.restart:
				continue
			}
		}

		epoch := e.epoch.Add(1)

		// A registry change during the read drains the connection by
		// cancelling the attempt context.
		attemptCtx, cancelAttempt := context.WithCancel(ctx)
		drained := make(chan struct{})
		go func() {
			select {
			case <-e.restart:
				cancelAttempt()
			case <-drained:
			}
		}()

		gotFrame, err := e.consume(attemptCtx, snap, epoch)
		cancelAttempt()
		close(drained)

		if ctx.Err() != nil {
			return
		}
		if attemptCtx.Err() != nil {
			// Drained for reconfiguration; reconnect immediately.
			e.log.Debug("stream drained for registry change", "epoch", epoch)
			continue
		}

		if gotFrame {
			attempts = 0
		}

		if errors.Is(err, apierrors.ErrUnauthorized) {
			e.log.Error("stream terminated", "error", err)
			if e.onTerminal != nil {
				e.onTerminal(err)
			}
			return
		}

		attempts++
		e.log.Debug("stream disconnected",
			"epoch", epoch, "attempts", attempts, "error", err)

		timer := time.NewTimer(e.backoffDelay(attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.restart:
			// Registry changed during backoff; reconnect now with
			// the fresh snapshot.
			timer.Stop()
		case <-timer.C:
		}
	}
}

// consume opens a stream for the snapshot and forwards frames until the
// connection ends. It reports whether at least one event frame was
// received, which resets the backoff: a server that accepts connections
// but closes them immediately still backs off.
func (e *Engine) consume(ctx context.Context, snap registry.Snapshot, epoch uint64) (bool, error) {
	resp, err := e.apiClient.OpenEventStream(ctx, snap.IDs())
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	e.log.Debug("stream connected", "epoch", epoch, "inboxes", snap.Len())

	gotFrame := false
	fr := newFrameReader(resp.Body)
	for {
		f, err := fr.Next()
		if err != nil {
			return gotFrame, err
		}

		if f.event != "" && f.event != eventName {
			continue
		}

		var ev api.EncryptedEvent
		if err := json.Unmarshal([]byte(f.data), &ev); err != nil {
			perr := &apierrors.ProtocolError{Op: "parse event frame", Detail: err.Error()}
			e.log.Warn("dropping malformed event frame", "error", perr)
			continue
		}
		if ev.InboxID == "" || ev.EventID == "" {
			e.log.Warn("dropping incomplete event frame", "inbox", ev.InboxID, "event", ev.EventID)
			continue
		}

		// Only forward events for inboxes in the snapshot this
		// connection was opened with.
		if !snap.Contains(ev.InboxID) {
			e.log.Debug("dropping event for unmonitored inbox", "inbox", ev.InboxID)
			continue
		}

		gotFrame = true
		e.forward(&ev, epoch)
	}
}

// backoffDelay computes the reconnect delay for the given consecutive
// failure count: exponential from BackoffInitial, capped at BackoffMax,
// with ±20% jitter.
func (e *Engine) backoffDelay(attempts int) time.Duration {
	delay := float64(e.backoffInitial)
	for i := 1; i < attempts; i++ {
		delay *= backoffMultiplier
		if delay >= float64(e.backoffMax) {
			delay = float64(e.backoffMax)
			break
		}
	}
	jitter := delay * backoffJitter
	delay = delay - jitter + rand.Float64()*2*jitter
	return time.Duration(delay)
}
