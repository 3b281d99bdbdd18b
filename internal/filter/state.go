package filter

import (
	"io"
	"log"

	"todoline/internal/bus"
	"todoline/internal/events"
)

// State holds the single active selector.
type State struct {
	bus    *bus.Bus
	sel    Selector
	logger *log.Logger
}

func NewState(b *bus.Bus, initial Selector, logger *log.Logger) *State {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if initial.Criterion == "" {
		initial = Default
	}
	return &State{bus: b, sel: initial, logger: logger}
}

// Register makes the state follow group deletions.
func (s *State) Register() {
	s.bus.Subscribe(events.GroupDeleted, s.onGroupDeleted)
}

func (s *State) Current() Selector { return s.sel }

// Select switches the view and requests a redraw.
func (s *State) Select(sel Selector) error {
	s.sel = sel
	return s.redraw()
}

// Reset returns to the default view and requests a full redraw.
func (s *State) Reset() error {
	return s.Select(Default)
}

func (s *State) redraw() error {
	return s.bus.Publish(events.DisplayRequested, events.View{Kind: string(s.sel.Kind), Criterion: s.sel.Criterion})
}

func (s *State) onGroupDeleted(p any) error {
	r, ok := p.(events.GroupRemoved)
	if !ok || s.sel.Kind != Group || s.sel.Criterion != r.GroupID {
		return nil
	}
	s.logger.Printf("filter: selected group %s was deleted, resetting view", r.GroupID)
	return s.Reset()
}
