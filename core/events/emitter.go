// Package events provides a simple event emitter.
package events

import (
	"reflect"
	"sync"

	"github.com/chuckpreslar/emission"
)

type registration struct {
	id   uint64
	fn   reflect.Value
	once bool
}

// Emitter is a simple event emitter.
// It wraps emission.Emitter so that every registration can be canceled on its own,
// including several listeners created from the same function literal.
type Emitter struct {
	em *emission.Emitter

	mu        sync.Mutex
	lastID    uint64
	listeners map[any][]registration
}

// NewEmitter creates a simple event emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		em:        emission.NewEmitter(),
		listeners: map[any][]registration{},
	}
}

// On registers a callback when an event occurs.
// Returns a function that cancels the callback registration.
func (emitter *Emitter) On(event, listener any) (cancel func()) {
	return emitter.add(event, listener, false)
}

// Once registers a one-time callback when an event occurs.
// Returns a function that cancels the callback registration.
func (emitter *Emitter) Once(event, listener any) (cancel func()) {
	return emitter.add(event, listener, true)
}

// Emit invokes listeners of an event, and waits for them to return.
func (emitter *Emitter) Emit(event any, args ...any) {
	emitter.em.Emit(event, args)
}

// ListenerCount returns the number of listeners of an event.
func (emitter *Emitter) ListenerCount(event any) int {
	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	return len(emitter.listeners[event])
}

func (emitter *Emitter) add(event, listener any, once bool) (cancel func()) {
	fn := reflect.ValueOf(listener)
	if fn.Kind() != reflect.Func {
		panic(emission.ErrNoneFunction)
	}

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	regs, ok := emitter.listeners[event]
	if !ok {
		emitter.em.On(event, func(args []any) { emitter.dispatch(event, args) })
	}
	emitter.lastID++
	id := emitter.lastID
	emitter.listeners[event] = append(regs, registration{id: id, fn: fn, once: once})

	var o sync.Once
	return func() {
		o.Do(func() { emitter.remove(event, id) })
	}
}

func (emitter *Emitter) remove(event any, id uint64) {
	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	regs := emitter.listeners[event]
	for i, reg := range regs {
		if reg.id == id {
			emitter.listeners[event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

func (emitter *Emitter) dispatch(event any, args []any) {
	emitter.mu.Lock()
	regs := append([]registration(nil), emitter.listeners[event]...)
	kept := emitter.listeners[event][:0:0]
	for _, reg := range emitter.listeners[event] {
		if !reg.once {
			kept = append(kept, reg)
		}
	}
	emitter.listeners[event] = kept
	emitter.mu.Unlock()

	for _, reg := range regs {
		values := make([]reflect.Value, len(args))
		for i, arg := range args {
			if arg == nil {
				values[i] = reflect.New(reg.fn.Type().In(i)).Elem()
			} else {
				values[i] = reflect.ValueOf(arg)
			}
		}
		reg.fn.Call(values)
	}
}
