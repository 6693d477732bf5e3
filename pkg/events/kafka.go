package events

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultKafkaBuffer = 1024

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards events to a Kafka topic from a background goroutine.
// Publish never blocks: when the buffer is full the event is dropped.
type KafkaSink struct {
	writer messageWriter
	logger *zap.Logger
	ch     chan Event

	done chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaSink(w, defaultKafkaBuffer, logger)
}

func newKafkaSink(w messageWriter, buffer int, logger *zap.Logger) *KafkaSink {
	s := &KafkaSink{
		writer: w,
		logger: logger,
		ch:     make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *KafkaSink) Publish(_ context.Context, evs []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, ev := range evs {
		select {
		case s.ch <- ev:
		default:
			s.dropped++
			s.logger.Warn("kafka_buffer_full",
				zap.String("id", ev.ID),
				zap.String("kind", string(ev.Kind)),
				zap.Uint64("dropped_total", s.dropped),
			)
		}
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (s *KafkaSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for ev := range s.ch {
		value, err := ev.JSON()
		if err != nil {
			s.logger.Error("kafka_encode_failed", zap.String("id", ev.ID), zap.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(ev.Subject),
			Value: value,
		})
		cancel()
		if err != nil {
			s.logger.Warn("kafka_write_failed",
				zap.String("id", ev.ID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
		}
	}
}

// Close drains buffered events and closes the writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	<-s.done
	return s.writer.Close()
}
