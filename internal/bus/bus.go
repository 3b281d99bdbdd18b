// Package bus is a synchronous, in-process publish/subscribe channel keyed by
// event name.
//
// Publish runs every handler registered for the name, in subscription order,
// before returning. A handler that publishes re-enters the bus and the nested
// publish resolves completely before the outer one continues. Handler errors
// and panics are isolated: every sibling still runs and the failures are
// returned joined.
package bus

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

// MaxDepth bounds nested publishes.
const MaxDepth = 64

var ErrTooDeep = errors.New("bus: publish nested too deeply")

type Handler func(payload any) error

type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	depth    int
	Logger   *log.Logger
}

func New(logger *log.Logger) *Bus {
	return &Bus{handlers: map[string][]Handler{}, Logger: logger}
}

func (b *Bus) logger() *log.Logger {
	if b.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return b.Logger
}

// Subscribe registers h for name. Handlers live for the life of the bus.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[string][]Handler{}
	}
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish delivers payload to every handler of name.
func (b *Bus) Publish(name string, payload any) error {
	b.mu.Lock()
	if b.depth >= MaxDepth {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTooDeep, name)
	}
	hs := append([]Handler(nil), b.handlers[name]...)
	b.depth++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.depth--
		b.mu.Unlock()
	}()

	var errs []error
	for i, h := range hs {
		if err := b.call(name, i, h, payload); err != nil {
			b.logger().Printf("bus: %s handler %d: %v", name, i, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) call(name string, i int, h Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler %d panicked: %v", name, i, r)
		}
	}()
	return h(payload)
}

// Handlers reports how many handlers are registered for name.
func (b *Bus) Handlers(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[name])
}
