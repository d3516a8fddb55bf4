// Package notifier delivers operator alerts. Events are queued and sent by a
// background worker so trading code never blocks on a chat service.
package notifier

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Field is one labelled value of a message.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a rendered alert, independent of the sink format.
type Message struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
	Footer      string
}

// Sink delivers a message to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// Dispatcher fans queued messages out to every sink. Enqueue never blocks;
// when the queue is full the message is dropped and counted.
type Dispatcher struct {
	sinks []Sink
	queue chan Message
	log   zerolog.Logger

	dropped atomic.Int64
	once    sync.Once
	done    chan struct{}
}

func NewDispatcher(queueSize int, log zerolog.Logger, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		sinks: sinks,
		queue: make(chan Message, queueSize),
		log:   log.With().Str("component", "notifier").Logger(),
		done:  make(chan struct{}),
	}
}

// Run delivers messages until ctx is cancelled, then drains what is queued.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		}
	}
}

// Wait blocks until Run has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// Dropped returns the number of messages discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) drain() {
	for {
		select {
		case msg := <-d.queue:
			d.deliver(context.Background(), msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, msg); err != nil {
			d.log.Error().Err(err).Str("sink", s.Name()).Str("title", msg.Title).Msg("deliver alert")
		}
	}
}

func (d *Dispatcher) enqueue(msg Message) {
	if len(d.sinks) == 0 {
		d.once.Do(func() { d.log.Debug().Msg("no notification sinks configured") })
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.dropped.Add(1)
		d.log.Warn().Str("title", msg.Title).Msg("alert queue full, dropping")
	}
}
