// Package bus fans sensor readings out to subscribers without ever blocking
// the sensor that produced them.
//
// Two drop policies are supported:
//
//   - DropNew: readings go to a caller-owned channel; when it is full the
//     incoming reading is dropped.
//   - DropOld: the subscriber holds only the newest reading; each publish
//     replaces whatever was there.
//
// A slow subscriber loses readings, it never slows the scheduler.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/sensor-simulator/sensor"
)

var (
	ErrSubscriberExists   = errors.New("subscriber id already exists")
	ErrSubscriberNotFound = errors.New("subscriber id not found")
	ErrBusClosed          = errors.New("bus is closed")
	ErrNilChannel         = errors.New("subscriber channel cannot be nil")
	ErrReceiverClosed     = errors.New("receiver closed")
)

// DropPolicy selects what happens when a subscriber cannot keep up.
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

// Filter limits a subscription to matching readings. A nil Filter accepts
// everything.
type Filter func(r sensor.Reading) bool

// SensorFilter accepts readings from the named sensors only.
func SensorFilter(names ...string) Filter {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(r sensor.Reading) bool {
		_, ok := set[r.Sensor]
		return ok
	}
}

// SubscriberStats tracks delivery for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Stats is a point-in-time snapshot of the bus counters.
type Stats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

type subscriber struct {
	filter  Filter
	deliver func(sensor.Reading) bool
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes readings. It implements sensor.Publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	receivers   map[string]*Receiver
	closed      bool

	published atomic.Uint64
}

var _ sensor.Publisher = (*Bus)(nil)

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]*subscriber),
		receivers:   make(map[string]*Receiver),
	}
}

// Subscribe delivers readings to ch with the DropNew policy. The bus never
// closes ch.
func (b *Bus) Subscribe(id string, ch chan<- sensor.Reading, filter Filter) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &subscriber{
		filter: filter,
		deliver: func(r sensor.Reading) bool {
			select {
			case ch <- r:
				return true
			default:
				return false
			}
		},
	}, nil)
}

// SubscribeLatest registers a DropOld subscriber and returns the receiver
// holding its newest reading.
func (b *Bus) SubscribeLatest(id string, filter Filter) (*Receiver, error) {
	rc := newReceiver()
	sub := &subscriber{
		filter: filter,
		deliver: func(r sensor.Reading) bool {
			return rc.put(r)
		},
	}
	if err := b.add(id, sub, rc); err != nil {
		return nil, err
	}
	return rc, nil
}

func (b *Bus) add(id string, sub *subscriber, rc *Receiver) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = sub
	if rc != nil {
		b.receivers[id] = rc
	}
	return nil
}

// Unsubscribe removes a subscriber. A DropOld receiver is closed.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	if rc, ok := b.receivers[id]; ok {
		rc.close()
		delete(b.receivers, id)
	}
	return nil
}

// Publish offers r to every matching subscriber without blocking. Publishing
// on a closed bus is a no-op.
func (b *Bus) Publish(r sensor.Reading) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter(r) {
			continue
		}
		if sub.deliver(r) {
			sub.sent.Add(1)
		} else {
			sub.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Stats{
		TotalPublished: b.published.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		s := SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.dropped.Load()}
		out.TotalSent += s.Sent
		out.TotalDropped += s.Dropped
		out.Subscribers[id] = s
	}
	return out
}

// Close stops delivery and closes DropOld receivers. Subscriber channels are
// left open. Close is idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, rc := range b.receivers {
		rc.close()
	}
	return nil
}

// Receiver holds the newest reading for a DropOld subscriber.
type Receiver struct {
	mu      sync.Mutex
	latest  *sensor.Reading
	notify  chan struct{}
	closed  bool
	dropped uint64
}

func newReceiver() *Receiver {
	return &Receiver{notify: make(chan struct{}, 1)}
}

// put stores r and reports whether the slot was empty.
func (rc *Receiver) put(r sensor.Reading) bool {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return false
	}
	empty := rc.latest == nil
	if !empty {
		rc.dropped++
	}
	rc.latest = &r
	rc.mu.Unlock()

	select {
	case rc.notify <- struct{}{}:
	default:
	}
	return empty
}

// TryReceive takes the held reading, if any.
func (rc *Receiver) TryReceive() (sensor.Reading, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.latest == nil {
		return sensor.Reading{}, false
	}
	r := *rc.latest
	rc.latest = nil
	return r, true
}

// Receive waits for a reading. It returns ErrReceiverClosed once the
// receiver is closed and empty, or ctx.Err().
func (rc *Receiver) Receive(ctx context.Context) (sensor.Reading, error) {
	for {
		rc.mu.Lock()
		if rc.latest != nil {
			r := *rc.latest
			rc.latest = nil
			rc.mu.Unlock()
			return r, nil
		}
		closed := rc.closed
		rc.mu.Unlock()
		if closed {
			return sensor.Reading{}, ErrReceiverClosed
		}

		select {
		case <-rc.notify:
		case <-ctx.Done():
			return sensor.Reading{}, ctx.Err()
		}
	}
}

// Overwritten returns how many readings were replaced before being taken.
func (rc *Receiver) Overwritten() uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.dropped
}

func (rc *Receiver) close() {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return
	}
	rc.closed = true
	rc.mu.Unlock()
	select {
	case rc.notify <- struct{}{}:
	default:
	}
}
