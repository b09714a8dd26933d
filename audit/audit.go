// Package audit records mutating intents (sign-in, company and job writes)
// as structured events delivered asynchronously to handlers.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Actions emitted by the store.
const (
	ActionSignIn        = "sign_in"
	ActionSignUp        = "sign_up"
	ActionSignOut       = "sign_out"
	ActionOAuthCallback = "oauth_callback"
	ActionSwitchCompany = "switch_company"
	ActionCreateCompany = "create_company"
	ActionUpdateCompany = "update_company"
	ActionDeleteCompany = "delete_company"
	ActionCreateJob     = "create_job"
	ActionUpdateJob     = "update_job"
	ActionDeleteJob     = "delete_job"
)

// Results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// DefaultQueueSize is used when New is given a non-positive size.
const DefaultQueueSize = 1000

// Event is one audited intent.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	CompanyID string    `json:"company_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource,omitempty"` // id of the company or job written
	Result    string    `json:"result"`
	Details   string    `json:"details,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Handler processes audit events. Handlers run on the logger's goroutine.
type Handler func(event Event)

// Logger fans events out to handlers from a single goroutine. Log never
// blocks the intent being audited: when the queue is full the event is
// dropped and counted.
type Logger struct {
	handlers []Handler
	queue    chan Event
	stop     chan struct{}
	closing  sync.Once
	drained  sync.WaitGroup
	closed   atomic.Bool
	dropped  atomic.Uint64
}

// Option configures the Logger.
type Option func(*Logger)

// WithWriterHandler writes one JSON event per line to w.
func WithWriterHandler(w io.Writer) Option {
	return WithHandler(func(e Event) {
		enc := json.NewEncoder(w)
		_ = enc.Encode(e)
	})
}

// WithSlogHandler logs events at Info on logger.
func WithSlogHandler(logger *slog.Logger) Option {
	return WithHandler(func(e Event) {
		attrs := []any{
			"action", e.Action,
			"result", e.Result,
			"user_id", e.UserID,
			"company_id", e.CompanyID,
		}
		if e.Resource != "" {
			attrs = append(attrs, "resource", e.Resource)
		}
		if e.RequestID != "" {
			attrs = append(attrs, "request_id", e.RequestID)
		}
		if e.Error != "" {
			attrs = append(attrs, "error", e.Error)
		}
		logger.Info("audit", attrs...)
	})
}

// WithHandler adds h to the fan-out.
func WithHandler(h Handler) Option {
	return func(l *Logger) { l.handlers = append(l.handlers, h) }
}

// New starts a logger with a queue of size events.
func New(size int, opts ...Option) *Logger {
	if size <= 0 {
		size = DefaultQueueSize
	}
	l := &Logger{
		queue: make(chan Event, size),
		stop:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	l.drained.Add(1)
	go l.run()
	return l
}

// Log queues event, stamping it when Timestamp is zero. Events logged after
// Close, or while the queue is full, are dropped.
func (l *Logger) Log(event Event) {
	if l.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case l.queue <- event:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (l *Logger) Dropped() uint64 { return l.dropped.Load() }

func (l *Logger) run() {
	defer l.drained.Done()
	for {
		select {
		case e := <-l.queue:
			l.dispatch(e)
		case <-l.stop:
			for {
				select {
				case e := <-l.queue:
					l.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) dispatch(e Event) {
	for _, h := range l.handlers {
		h(e)
	}
}

// Close delivers queued events and stops the logger. Safe to call twice.
func (l *Logger) Close() error {
	l.closing.Do(func() {
		l.closed.Store(true)
		close(l.stop)
	})
	l.drained.Wait()
	return nil
}

type requestIDKey struct{}

// WithRequestID tags ctx with the id of the request that issued an intent.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
