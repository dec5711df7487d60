// Package events publishes bucket lifecycle events to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/observability"
)

type Type string

const (
	Created   Type = "created"
	Refreshed Type = "refreshed"
)

type Event struct {
	Type     Type      `json:"type"`
	BucketID string    `json:"bucket_id"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	TS       time.Time `json:"ts"`
}

// Publisher never blocks the caller.
type Publisher interface {
	Publish(ev Event)
	Close() error
}

type Noop struct{}

func (Noop) Publish(Event) {}
func (Noop) Close() error  { return nil }

type Kafka struct {
	topic   string
	log     *slog.Logger
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewKafka(brokers []string, topic string, queueSize int, log *slog.Logger) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newKafka(prod, topic, queueSize, log), nil
}

func newKafka(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Kafka {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Kafka{
		topic:   topic,
		log:     log,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Warn("events: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.BucketID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("events: producer error", "err", err.Err)
			}
		}
	}()

	return p
}

func (p *Kafka) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		observability.IncEventsDropped()
	}
}

func (p *Kafka) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
