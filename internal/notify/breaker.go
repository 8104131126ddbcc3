package notify

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitProbing
)

func (s circuitState) String() string {
	switch s {
	case circuitOpen:
		return "open"
	case circuitProbing:
		return "probing"
	default:
		return "closed"
	}
}

var endpointState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "jobads",
	Subsystem: "notify",
	Name:      "endpoint_circuit_open",
	Help:      "1 while deliveries to a webhook endpoint are suspended.",
}, []string{"endpoint"})

func init() {
	prometheus.MustRegister(endpointState)
}

type endpointHealth struct {
	state    circuitState
	failures int
	openedAt time.Time
}

// endpointBreaker suspends delivery to a webhook endpoint after threshold
// consecutive failed sends. Once cooldown has passed, one send is let
// through; its outcome closes or reopens the circuit.
type endpointBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointHealth
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func newEndpointBreaker(threshold int, cooldown time.Duration) *endpointBreaker {
	return &endpointBreaker{
		endpoints: make(map[string]*endpointHealth),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// allow reports whether a send to url may proceed.
func (b *endpointBreaker) allow(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.endpoints[url]
	if !ok {
		return true
	}
	switch h.state {
	case circuitOpen:
		if b.now().Sub(h.openedAt) < b.cooldown {
			return false
		}
		h.state = circuitProbing
		return true
	case circuitProbing:
		return false
	default:
		return true
	}
}

func (b *endpointBreaker) succeeded(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h, ok := b.endpoints[url]; ok {
		delete(b.endpoints, url)
		if h.state != circuitClosed {
			endpointState.WithLabelValues(url).Set(0)
		}
	}
}

func (b *endpointBreaker) failed(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.endpoints[url]
	if !ok {
		h = &endpointHealth{}
		b.endpoints[url] = h
	}
	h.failures++
	if h.state == circuitProbing || h.failures >= b.threshold {
		h.state = circuitOpen
		h.openedAt = b.now()
		endpointState.WithLabelValues(url).Set(1)
	}
}

func (b *endpointBreaker) state(url string) circuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h, ok := b.endpoints[url]; ok {
		return h.state
	}
	return circuitClosed
}
