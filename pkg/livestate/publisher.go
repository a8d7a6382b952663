// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package livestate

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
	"github.com/ctxrelay/ctxrelay-go/pkg/metrics"
)

// DefaultQueueSize of each observer's outgoing queue.
const DefaultQueueSize = 64

var (
	// ErrObserverExists is returned by Register for an already registered identifier.
	ErrObserverExists = errors.New("observer already registered")

	// ErrUnknownObserver is returned for requests addressing an unregistered observer.
	ErrUnknownObserver = errors.New("unknown observer")

	// ErrObserverSend is returned by Register if the initial state could not be delivered.
	ErrObserverSend = errors.New("failed to send to observer")

	// ErrSlowObserver is the eviction cause for an observer whose queue overflowed.
	ErrSlowObserver = errors.New("observer queue overflow")
)

// Sink is an observer's transport. Send is called from a single goroutine per observer and should be bounded
// in time, e.g., by a write deadline. A Sink implementing io.Closer is closed on eviction.
type Sink interface {
	Send(Event) error
}

// StateSource is queried for system states and heartbeat metrics. A *mailbox.Store satisfies it.
type StateSource interface {
	Recipients() []string
	Lengths() map[string]int
	Snapshot() mailbox.Snapshot
}

// Options for a Publisher.
type Options struct {
	// QueueSize bounds each observer's queue. Zero selects DefaultQueueSize.
	QueueSize int
}

type observer struct {
	id    string
	sink  Sink
	queue chan Event
	stop  chan struct{}
	ready chan error
}

// Publisher fans out Events to all registered observers.
type Publisher struct {
	source    StateSource
	queueSize int

	// mutex guards the registry and seq. Every Event gets its number while mutex is held.
	mutex     sync.Mutex
	observers map[string]*observer
	seq       uint64

	heartbeatMutex sync.Mutex
	heartbeat      *heartbeat
}

// NewPublisher for a StateSource.
func NewPublisher(source StateSource, opts Options) *Publisher {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Publisher{
		source:    source,
		queueSize: queueSize,
		observers: make(map[string]*observer),
	}
}

func (p *Publisher) log() *log.Entry {
	return log.WithField("publisher", fmt.Sprintf("%p", p))
}

// stateEventLocked creates a system state Event. The caller must hold p.mutex.
func (p *Publisher) stateEventLocked() Event {
	snapshot := p.source.Snapshot()
	return Event{
		Type: EventSystemState,
		Data: SystemState{
			Apps:     p.source.Recipients(),
			Queues:   snapshot.Queues,
			Messages: snapshot.Messages,
			Total:    snapshot.Total,
			Seq:      p.seq,
		},
		Timestamp: time.Now(),
		Seq:       p.seq,
	}
}

// Register a new observer. Its first Event is the current system state, which was already sent when Register
// returns without an error. Afterwards, each published Event is delivered in order.
func (p *Publisher) Register(id string, sink Sink) error {
	o := &observer{
		id:    id,
		sink:  sink,
		queue: make(chan Event, p.queueSize),
		stop:  make(chan struct{}),
		ready: make(chan error, 1),
	}

	p.mutex.Lock()
	if _, exists := p.observers[id]; exists {
		p.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrObserverExists, id)
	}

	o.queue <- p.stateEventLocked()
	p.observers[id] = o
	metrics.Observers.Set(float64(len(p.observers)))
	p.mutex.Unlock()

	go p.handleObserver(o)

	if err := <-o.ready; err != nil {
		return fmt.Errorf("%w %s: %w", ErrObserverSend, id, err)
	}

	p.log().WithField("observer", id).Info("Registered observer")
	return nil
}

// handleObserver is the observer's writer goroutine.
func (p *Publisher) handleObserver(o *observer) {
	// The queue's first element is always the initial state.
	first := <-o.queue
	if err := o.sink.Send(first); err != nil {
		p.evict(o, err)
		o.ready <- err
		return
	}
	o.ready <- nil

	for {
		select {
		case <-o.stop:
			return

		case e := <-o.queue:
			if err := o.sink.Send(e); err != nil {
				p.evict(o, err)
				return
			}
		}
	}
}

// removeLocked deletes an observer from the registry. The caller must hold p.mutex.
func (p *Publisher) removeLocked(o *observer) bool {
	if current, ok := p.observers[o.id]; !ok || current != o {
		return false
	}

	delete(p.observers, o.id)
	close(o.stop)
	metrics.Observers.Set(float64(len(p.observers)))
	return true
}

// evict an observer because of a failed Send.
func (p *Publisher) evict(o *observer, cause error) {
	p.mutex.Lock()
	removed := p.removeLocked(o)
	p.mutex.Unlock()

	if removed {
		p.evicted(o, cause)
	}
}

// evicted logs and closes an observer which was removed involuntarily.
func (p *Publisher) evicted(o *observer, cause error) {
	metrics.ObserverEvictions.Inc()
	p.log().WithField("observer", o.id).WithError(cause).Warn("Evicted observer")

	if closer, ok := o.sink.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			p.log().WithField("observer", o.id).WithError(err).Debug("Closing evicted observer errored")
		}
	}
}

// enqueueLocked tries to queue an Event for an observer, which is evicted if its queue is full. The caller must
// hold p.mutex.
func (p *Publisher) enqueueLocked(o *observer, e Event) bool {
	select {
	case o.queue <- e:
		return true
	default:
		if p.removeLocked(o) {
			// Closing the Sink might block; this must not happen while holding the registry.
			go p.evicted(o, ErrSlowObserver)
		}
		return false
	}
}

// Unregister an observer. Unknown identifiers are ignored. The observer's Sink is not closed.
func (p *Publisher) Unregister(id string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if o, ok := p.observers[id]; ok {
		p.removeLocked(o)
		p.log().WithField("observer", id).Info("Unregistered observer")
	}
}

// UnregisterSink removes an observer only if it is still registered with this Sink. A transport might use this
// to clean up after a connection without affecting a newer observer of the same identifier.
func (p *Publisher) UnregisterSink(id string, sink Sink) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if o, ok := p.observers[id]; ok && o.sink == sink {
		p.removeLocked(o)
		p.log().WithField("observer", id).Info("Unregistered observer")
	}
}

// Publish an Event to all observers. This method never blocks on an observer and satisfies the relay package's
// Notifier interface.
func (p *Publisher) Publish(eventType string, data interface{}) {
	p.mutex.Lock()
	p.seq++
	e := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		Seq:       p.seq,
	}

	for _, o := range p.observers {
		p.enqueueLocked(o, e)
	}
	p.mutex.Unlock()

	metrics.EventsPublished.WithLabelValues(eventType).Inc()
}

// SendState queues a fresh system state for a single observer.
func (p *Publisher) SendState(id string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	o, ok := p.observers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObserver, id)
	}

	if !p.enqueueLocked(o, p.stateEventLocked()) {
		return fmt.Errorf("%w: %s", ErrSlowObserver, id)
	}
	return nil
}

// SendTo queues an Event for a single observer without assigning a new sequence number.
func (p *Publisher) SendTo(id, eventType string, data interface{}) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	o, ok := p.observers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObserver, id)
	}

	e := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		Seq:       p.seq,
	}
	if !p.enqueueLocked(o, e) {
		return fmt.Errorf("%w: %s", ErrSlowObserver, id)
	}
	return nil
}

// Observers returns the amount of registered observers.
func (p *Publisher) Observers() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.observers)
}

// Seq returns the number of the last published Event.
func (p *Publisher) Seq() uint64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.seq
}

// Metrics as published by the heartbeat.
func (p *Publisher) Metrics() Metrics {
	queues := p.source.Lengths()

	total := 0
	for _, n := range queues {
		total += n
	}

	return Metrics{
		QueueSizes:        queues,
		TotalMessages:     total,
		ActiveConnections: p.Observers(),
	}
}

// StartHeartbeat publishes Metrics every interval. A running heartbeat is replaced.
func (p *Publisher) StartHeartbeat(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, not %v", interval)
	}

	p.heartbeatMutex.Lock()
	defer p.heartbeatMutex.Unlock()

	if p.heartbeat != nil {
		p.heartbeat.stop()
	}

	p.heartbeat = newHeartbeat(func() {
		p.Publish(EventMetrics, p.Metrics())
	}, interval)

	p.log().WithField("interval", interval).Debug("Started heartbeat")
	return nil
}

// StopHeartbeat stops a running heartbeat. No heartbeat Event is published after this method returned.
// Stopping a stopped heartbeat is a no-op.
func (p *Publisher) StopHeartbeat() {
	p.heartbeatMutex.Lock()
	defer p.heartbeatMutex.Unlock()

	if p.heartbeat == nil {
		return
	}

	p.heartbeat.stop()
	p.heartbeat = nil

	p.log().Debug("Stopped heartbeat")
}

// Close stops the heartbeat, removes all observers and closes their Sinks.
func (p *Publisher) Close() {
	p.StopHeartbeat()

	p.mutex.Lock()
	var removed []*observer
	for _, o := range p.observers {
		if p.removeLocked(o) {
			removed = append(removed, o)
		}
	}
	p.mutex.Unlock()

	for _, o := range removed {
		if closer, ok := o.sink.(io.Closer); ok {
			_ = closer.Close()
		}
	}

	p.log().WithField("observers", len(removed)).Info("Closed publisher")
}
