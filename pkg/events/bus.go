package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sink receives committed events. Publish must not block on slow consumers.
type Sink interface {
	Publish(ctx context.Context, evs []Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evs []Event)

func (f SinkFunc) Publish(ctx context.Context, evs []Event) { f(ctx, evs) }

// Bus fans events out to every registered sink in registration order.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

func (b *Bus) Add(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

func (b *Bus) Publish(ctx context.Context, evs []Event) {
	if len(evs) == 0 {
		return
	}
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Publish(ctx, evs)
	}
}

// LogSink writes every event as one structured log line.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, evs []Event) {
	for _, ev := range evs {
		s.logger.Info("event",
			zap.String("id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.String("subject", ev.Subject),
			zap.Any("data", ev.Data),
		)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu  sync.Mutex
	evs []Event
}

func (r *Recorder) Publish(_ context.Context, evs []Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, evs...)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.evs))
	copy(out, r.evs)
	return out
}

// Kinds lists recorded event kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.evs))
	for _, ev := range r.evs {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = nil
}
