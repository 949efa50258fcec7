package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinical-scheduling/internal/observability/metrics"
)

const (
	StatusWritten = "written"
	StatusFailed  = "failed"
	StatusDropped = "dropped"
)

type Options struct {
	BufferSize   int
	WriteTimeout time.Duration
}

// Auditor delivers events to a Sink from a background goroutine. Emit never
// blocks and never reports sink failures to the caller.
type Auditor struct {
	sink         Sink
	logger       zerolog.Logger
	metrics      *metrics.SchedulingMetrics
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewAuditor(sink Sink, logger zerolog.Logger, m *metrics.SchedulingMetrics, opts Options) *Auditor {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}

	a := &Auditor{
		sink:         sink,
		logger:       logger.With().Str("component", "auditor").Logger(),
		metrics:      m,
		writeTimeout: opts.WriteTimeout,
		queue:        make(chan Event, opts.BufferSize),
		done:         make(chan struct{}),
	}
	go a.run()
	return a
}

// Emit enqueues ev. When the queue is full or the auditor is closed the event
// is dropped and logged.
func (a *Auditor) Emit(ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop(ev, "auditor closed")
		return
	}

	select {
	case a.queue <- ev:
	default:
		a.drop(ev, "audit queue full")
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (a *Auditor) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Auditor) run() {
	defer close(a.done)
	for ev := range a.queue {
		a.write(ev)
	}
}

func (a *Auditor) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
	defer cancel()

	if err := a.sink.Append(ctx, ev); err != nil {
		a.logger.Warn().
			Err(err).
			Str("event_id", ev.ID.String()).
			Str("tenant_id", ev.TenantID.String()).
			Str("subject_id", ev.SubjectID.String()).
			Str("action", string(ev.Action)).
			Msg("audit write failed")
		a.metrics.ObserveAudit(StatusFailed)
		return
	}
	a.metrics.ObserveAudit(StatusWritten)
}

func (a *Auditor) drop(ev Event, reason string) {
	a.logger.Warn().
		Str("event_id", ev.ID.String()).
		Str("tenant_id", ev.TenantID.String()).
		Str("subject_id", ev.SubjectID.String()).
		Str("action", string(ev.Action)).
		Msg(reason)
	a.metrics.ObserveAudit(StatusDropped)
}
