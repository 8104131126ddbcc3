// Package notify delivers committed ad and payment lifecycle events to
// operators. Delivery is fire-and-forget: a slow or failing sink never
// blocks or rolls back the write that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/jobads/internal/ads"
	"github.com/mbd888/jobads/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobads",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total notification emits by event type.",
	}, []string{"event_type"})

	emitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobads",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total failed sink deliveries by sink.",
	}, []string{"sink"})

	emitDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jobads",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Notifications dropped because the queue was full.",
	})
)

func init() {
	prometheus.MustRegister(emitTotal, emitErrors, emitDropped)
}

// Message is the envelope every sink receives.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      ads.Event `json:"data"`
}

func (m *Message) payload() ([]byte, error) {
	return json.Marshal(m)
}

// Sink delivers one message. Send may block up to the deadline on ctx.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 30 * time.Second
)

// Emitter queues events and fans them out to its sinks from a single
// background worker. It implements ads.Notifier.
type Emitter struct {
	sinks   []Sink
	queue   chan *Message
	timeout time.Duration
	logger  *slog.Logger

	once sync.Once
	done chan struct{}
}

var _ ads.Notifier = (*Emitter)(nil)

// NewEmitter creates an emitter over sinks. Call Run to start delivery.
func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	return &Emitter{
		sinks:   sinks,
		queue:   make(chan *Message, defaultQueueSize),
		timeout: defaultSendTimeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Notify enqueues ev without blocking. A full queue drops the event.
func (e *Emitter) Notify(_ context.Context, ev ads.Event) {
	if e == nil || len(e.sinks) == 0 {
		return
	}
	emitTotal.WithLabelValues(ev.Type).Inc()

	msg := &Message{
		ID:        idgen.EventID(),
		Type:      ev.Type,
		Timestamp: time.Now(),
		Data:      ev,
	}
	select {
	case e.queue <- msg:
	default:
		emitDropped.Inc()
		e.logger.Warn("notify queue full, dropping event", "event", ev.Type, "ad_id", ev.AdID)
	}
}

// Run delivers queued messages until ctx is cancelled, then drains what
// is already queued.
func (e *Emitter) Run(ctx context.Context) {
	defer e.once.Do(func() { close(e.done) })
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-e.queue:
					e.deliver(msg)
				default:
					return
				}
			}
		case msg := <-e.queue:
			e.deliver(msg)
		}
	}
}

// Done is closed when Run returns.
func (e *Emitter) Done() <-chan struct{} { return e.done }

func (e *Emitter) deliver(msg *Message) {
	for _, s := range e.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		err := s.Send(ctx, msg)
		cancel()
		if err != nil {
			emitErrors.WithLabelValues(s.Name()).Inc()
			e.logger.Warn("notify delivery failed",
				"sink", s.Name(), "event", msg.Type, "ad_id", msg.Data.AdID, "error", err)
		}
	}
}
