package output

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/screenmask/internal/logger"
)

// DefaultEmitInterval is the delivery cadence for overlay events (~60 Hz).
const DefaultEmitInterval = 16 * time.Millisecond

// Message is one delivered event. EmitTS is stamped at delivery time in
// Unix milliseconds.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	EmitTS  int64  `json:"emit_ts"`
}

// Sink receives delivered messages on the emitter goroutine. Deliver must
// not block for long.
type Sink interface {
	Deliver(msg Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Message)

// Deliver calls f.
func (f SinkFunc) Deliver(msg Message) { f(msg) }

// EmitterStats counts published, delivered and overwritten payloads.
type EmitterStats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Coalesced uint64 `json:"coalesced"`
}

// Emitter forwards the latest payload of each event to its sinks at a
// fixed cadence. Payloads published between two deliveries overwrite each
// other; only the newest is sent. Events are delivered in the order of
// their most recent publish.
type Emitter struct {
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]any
	order   []string
	sinks   []Sink
	stats   EmitterStats

	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewEmitter creates a stopped emitter. A non-positive interval selects
// DefaultEmitInterval.
func NewEmitter(interval time.Duration) *Emitter {
	if interval <= 0 {
		interval = DefaultEmitInterval
	}
	return &Emitter{
		interval: interval,
		now:      time.Now,
		pending:  make(map[string]any),
	}
}

// AddSink registers a sink.
func (e *Emitter) AddSink(s Sink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

// Publish queues payload as the latest value of event.
func (e *Emitter) Publish(event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Published++
	if _, ok := e.pending[event]; ok {
		e.stats.Coalesced++
		for i, ev := range e.order {
			if ev == event {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
	e.order = append(e.order, event)
	e.pending[event] = payload
}

// Start launches the delivery goroutine.
func (e *Emitter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.done = make(chan struct{})
	go e.run(e.stopChan, e.done)
}

// Stop halts delivery after a final flush.
func (e *Emitter) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stop, done := e.stopChan, e.done
	e.mu.Unlock()

	close(stop)
	<-done
}

func (e *Emitter) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			e.Flush()
			return
		case <-ticker.C:
			e.Flush()
		}
	}
}

// Flush delivers everything pending now.
func (e *Emitter) Flush() {
	e.mu.Lock()
	if len(e.order) == 0 {
		e.mu.Unlock()
		return
	}
	events := e.order
	pending := e.pending
	e.order = nil
	e.pending = make(map[string]any)
	sinks := append([]Sink(nil), e.sinks...)
	e.stats.Delivered += uint64(len(events))
	e.mu.Unlock()

	ts := e.now().UnixMilli()
	for _, ev := range events {
		msg := Message{Event: ev, Payload: pending[ev], EmitTS: ts}
		for _, s := range sinks {
			deliver(s, msg)
		}
	}
}

func deliver(s Sink, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("emitter").Error().
				Interface("panic", r).
				Str("event", msg.Event).
				Msg("Sink panicked")
		}
	}()
	s.Deliver(msg)
}

// Stats returns a copy of the counters.
func (e *Emitter) Stats() EmitterStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
