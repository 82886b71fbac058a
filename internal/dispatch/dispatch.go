// Package dispatch fans decrypted inbound messages out to subscribers.
//
// Delivery is synchronous: Deliver runs every handler on the caller's
// goroutine, in subscription order, and returns when the last one does.
package dispatch

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"peerchat/internal/domain"
)

type subscription struct {
	id int
	h  domain.EventHandler
}

// Dispatcher is a domain.Dispatcher.
type Dispatcher struct {
	log *zap.Logger

	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

// New returns a Dispatcher with no subscribers.
func New(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{log: log.Named("dispatch")}
}

// Subscribe registers h. The returned func removes it and is safe to call
// more than once.
func (d *Dispatcher) Subscribe(h domain.EventHandler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() { d.unsubscribe(id) })
	}
}

func (d *Dispatcher) unsubscribe(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.id == id {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

// Deliver invokes every current subscriber with ev. A panicking handler is
// logged and skipped.
func (d *Dispatcher) Deliver(ev domain.InboundEvent) {
	d.mu.RLock()
	subs := d.subs
	d.mu.RUnlock()

	for _, s := range subs {
		d.invoke(s, ev)
	}
}

func (d *Dispatcher) invoke(s subscription, ev domain.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("subscriber panicked",
				zap.Int("subscriber", s.id),
				zap.String("sender", ev.Sender.String()),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	s.h(ev)
}

// Len returns the number of subscribers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Compile-time assertion that Dispatcher implements domain.Dispatcher.
var _ domain.Dispatcher = (*Dispatcher)(nil)
