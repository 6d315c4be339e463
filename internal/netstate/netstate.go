package netstate

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weatherwave/weatherwave/internal/observability"
)

// Signal is the injected reachability capability: a subscribable boolean
// describing whether the backend is believed reachable right now.
type Signal interface {
	Online() bool
	Subscribe(ch chan<- bool)
	Unsubscribe(ch chan<- bool)
}

// RecordSuccess and RecordError fold request outcomes into the signal so
// repeated failures flip it offline without waiting for the next probe.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordError()
}

// Monitor implements Signal by probing the backend health URL on an
// interval and tracking recent request outcomes in a sliding window.
type Monitor struct {
	probeURL      string
	probeInterval time.Duration
	client        *http.Client
	logger        *zap.Logger

	mu          sync.Mutex
	online      bool
	subscribers map[chan<- bool]struct{}
	window      outcomeWindow
}

// errorFlipThreshold is the number of consecutive request errors, with no
// intervening success, that marks the network offline between probes.
const errorFlipThreshold = 3

// NewMonitor creates a Monitor. The signal starts online; the first probe
// corrects it if the backend is unreachable. probeTimeout bounds each probe.
func NewMonitor(probeURL string, probeInterval, probeTimeout time.Duration, logger *zap.Logger) *Monitor {
	m := &Monitor{
		probeURL:      probeURL,
		probeInterval: probeInterval,
		client:        &http.Client{Timeout: probeTimeout},
		logger:        logger,
		online:        true,
		subscribers:   make(map[chan<- bool]struct{}),
	}
	observability.NetworkOnline.Set(1)
	return m
}

// Run probes until ctx is done. Call in a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		m.setOnline(false)
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.setOnline(false)
		return
	}
	resp.Body.Close()
	m.setOnline(resp.StatusCode < 500)
}

// Online implements Signal.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe implements Signal. The channel receives the current state
// immediately and every transition after. Sends are non-blocking; a full
// channel drops the notification.
func (m *Monitor) Subscribe(ch chan<- bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[ch] = struct{}{}
	select {
	case ch <- m.online:
	default:
	}
}

// Unsubscribe implements Signal.
func (m *Monitor) Unsubscribe(ch chan<- bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, ch)
}

// RecordSuccess implements OutcomeRecorder. Any success flips the signal
// back online.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	m.window.recordSuccess()
	m.mu.Unlock()
	m.setOnline(true)
}

// RecordError implements OutcomeRecorder.
func (m *Monitor) RecordError() {
	m.mu.Lock()
	consecutive := m.window.recordError()
	m.mu.Unlock()
	if consecutive >= errorFlipThreshold {
		m.setOnline(false)
	}
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	var subs []chan<- bool
	if changed {
		for ch := range m.subscribers {
			subs = append(subs, ch)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		observability.NetworkOnline.Set(1)
	} else {
		observability.NetworkOnline.Set(0)
	}
	if m.logger != nil {
		m.logger.Info("network state transition", zap.Bool("online", online))
	}
	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// outcomeWindow tracks consecutive request errors. A success resets the
// streak. Caller must hold the monitor mutex.
type outcomeWindow struct {
	consecutiveErrors int
	lastOutcome       time.Time
}

func (w *outcomeWindow) recordSuccess() {
	w.consecutiveErrors = 0
	w.lastOutcome = time.Now()
}

func (w *outcomeWindow) recordError() int {
	w.consecutiveErrors++
	w.lastOutcome = time.Now()
	return w.consecutiveErrors
}

// Static is a Signal fixed at a given state. Used in tests and when the
// daemon is started with probing disabled.
type Static bool

// Online implements Signal.
func (s Static) Online() bool { return bool(s) }

// Subscribe implements Signal.
func (s Static) Subscribe(ch chan<- bool) {
	select {
	case ch <- bool(s):
	default:
	}
}

// Unsubscribe implements Signal.
func (s Static) Unsubscribe(ch chan<- bool) {}
