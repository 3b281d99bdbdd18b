package engine

import (
	"errors"
	"fmt"
	"io"
	"log"

	"todoline/internal/bus"
	"todoline/internal/domain"
	"todoline/internal/events"
	"todoline/internal/store"
)

var (
	// ErrNotFound is returned at the request boundary for an unknown id.
	ErrNotFound = errors.New("not found")
	// ErrDanglingReference means a cascade handler was pointed at an entity
	// that no longer exists, i.e. the link invariant was already broken.
	ErrDanglingReference = errors.New("dangling reference")
	ErrBadPayload        = errors.New("unexpected event payload")
)

// Engine keeps tasks and groups linked consistently. It owns no entities:
// every handler fetches a copy from a store, changes it and writes it back
// before publishing the notification that reports the write.
type Engine struct {
	Bus    *bus.Bus
	Tasks  *store.Tasks
	Groups *store.Groups
	Logger *log.Logger
}

func New(b *bus.Bus, tasks *store.Tasks, groups *store.Groups, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{Bus: b, Tasks: tasks, Groups: groups, Logger: logger}
}

// Register subscribes the cascade handlers. Call it once per bus.
func (e *Engine) Register() {
	e.Bus.Subscribe(events.TaskSubmitted, e.onTaskSubmitted)
	e.Bus.Subscribe(events.GroupAssigned, e.onGroupAssigned)
	e.Bus.Subscribe(events.GroupUnassigned, e.onGroupUnassigned)
	e.Bus.Subscribe(events.TaskDeleteRequested, e.onTaskDeleteRequested)
	e.Bus.Subscribe(events.TaskDeleted, e.onTaskDeleted)
	e.Bus.Subscribe(events.GroupDeleteRequested, e.onGroupDeleteRequested)
	e.Bus.Subscribe(events.GroupDeleted, e.onGroupDeleted)
	e.Bus.Subscribe(events.TaskChecklistClicked, e.onChecklistClicked)
	e.Bus.Subscribe(events.TaskStatusToggled, e.onStatusToggled)
	e.Bus.Subscribe(events.GroupSubmitted, e.onGroupSubmitted)
}

// SubmitTask decides once whether t creates a new task or edits a stored one
// and publishes the submission.
func (e *Engine) SubmitTask(t domain.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.GroupRef != "" && !e.Groups.Has(t.GroupRef) {
		return fmt.Errorf("group %s: %w", t.GroupRef, ErrNotFound)
	}
	sub := events.TaskSubmission{Mode: events.Create, Task: t}
	if prev, ok := e.Tasks.Get(t.ID); ok {
		sub.Mode = events.Edit
		sub.Previous = &prev
		sub.Task.CreatedAt = prev.CreatedAt
	}
	return e.Bus.Publish(events.TaskSubmitted, sub)
}

// SubmitGroup creates g, or renames the stored group with the same id.
func (e *Engine) SubmitGroup(g domain.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	sub := events.GroupSubmission{Mode: events.Create, Group: g}
	if prev, ok := e.Groups.Get(g.ID); ok {
		sub.Mode = events.Edit
		sub.Previous = &prev
	}
	if sub.Mode == events.Create && len(g.Linked) > 0 {
		return fmt.Errorf("%w: new group %s cannot list tasks; assign tasks to it instead", domain.ErrInvalidGroup, g.ID)
	}
	return e.Bus.Publish(events.GroupSubmitted, sub)
}

// DeleteTask requests deletion. Unknown ids are a silent no-op.
func (e *Engine) DeleteTask(id string) error {
	return e.Bus.Publish(events.TaskDeleteRequested, events.TaskID(id))
}

// DeleteGroup requests deletion. Unknown ids are a silent no-op.
func (e *Engine) DeleteGroup(id string) error {
	return e.Bus.Publish(events.GroupDeleteRequested, events.GroupID(id))
}

func (e *Engine) ToggleStatus(id string) error {
	if !e.Tasks.Has(id) {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return e.Bus.Publish(events.TaskStatusToggled, events.TaskID(id))
}

func (e *Engine) ClickChecklist(taskID, itemID string) error {
	if !e.Tasks.Has(taskID) {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return e.Bus.Publish(events.TaskChecklistClicked, events.ChecklistClick{TaskID: taskID, ItemID: itemID})
}

func payloadAs[T any](name string, p any) (T, error) {
	v, ok := p.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s got %T", ErrBadPayload, name, p)
	}
	return v, nil
}

func (e *Engine) onTaskSubmitted(p any) error {
	sub, err := payloadAs[events.TaskSubmission](events.TaskSubmitted, p)
	if err != nil {
		return err
	}
	t := sub.Task
	var errs []error
	if sub.Mode == events.Edit && sub.Previous != nil {
		if old := sub.Previous.GroupRef; old != "" && old != t.GroupRef {
			errs = append(errs, e.Bus.Publish(events.GroupUnassigned, events.Link{GroupID: old, TaskID: t.ID}))
		}
	}
	if err := e.Tasks.Add(t); err != nil {
		return errors.Join(append(errs, err)...)
	}
	if t.GroupRef != "" {
		errs = append(errs, e.Bus.Publish(events.GroupAssigned, events.Link{GroupID: t.GroupRef, TaskID: t.ID}))
	}
	notice := events.TaskCreated
	if sub.Mode == events.Edit {
		notice = events.TaskEdited
	}
	errs = append(errs, e.Bus.Publish(notice, events.TaskID(t.ID)))
	return errors.Join(errs...)
}

func (e *Engine) onGroupAssigned(p any) error {
	l, err := payloadAs[events.Link](events.GroupAssigned, p)
	if err != nil {
		return err
	}
	return e.relink(l.GroupID, func(g *domain.Group) bool { return g.Link(l.TaskID) })
}

func (e *Engine) onGroupUnassigned(p any) error {
	l, err := payloadAs[events.Link](events.GroupUnassigned, p)
	if err != nil {
		return err
	}
	return e.relink(l.GroupID, func(g *domain.Group) bool { return g.Unlink(l.TaskID) })
}

// relink applies change to a copy of the group and, when the link set moved,
// writes it back and announces the mutation.
func (e *Engine) relink(groupID string, change func(*domain.Group) bool) error {
	g, ok := e.Groups.Get(groupID)
	if !ok {
		return fmt.Errorf("group %s: %w", groupID, ErrDanglingReference)
	}
	if !change(&g) {
		return nil
	}
	if err := e.Groups.Add(g); err != nil {
		return err
	}
	return e.Bus.Publish(events.GroupMutated, events.GroupID(g.ID))
}

func (e *Engine) onTaskDeleteRequested(p any) error {
	id, err := payloadAs[events.TaskID](events.TaskDeleteRequested, p)
	if err != nil {
		return err
	}
	t, ok := e.Tasks.Get(string(id))
	if !ok {
		return nil
	}
	e.Tasks.Delete(t.ID)
	return e.Bus.Publish(events.TaskDeleted, events.TaskRemoved{TaskID: t.ID, GroupID: t.GroupRef})
}

func (e *Engine) onTaskDeleted(p any) error {
	r, err := payloadAs[events.TaskRemoved](events.TaskDeleted, p)
	if err != nil {
		return err
	}
	if r.GroupID == "" {
		return nil
	}
	return e.relink(r.GroupID, func(g *domain.Group) bool { return g.Unlink(r.TaskID) })
}

func (e *Engine) onGroupDeleteRequested(p any) error {
	id, err := payloadAs[events.GroupID](events.GroupDeleteRequested, p)
	if err != nil {
		return err
	}
	g, ok := e.Groups.Get(string(id))
	if !ok {
		return nil
	}
	linked := g.Linked.Sorted()
	e.Groups.Delete(g.ID)
	return e.Bus.Publish(events.GroupDeleted, events.GroupRemoved{GroupID: g.ID, TaskIDs: linked})
}

// onGroupDeleted clears the group reference of every former member. It keeps
// going past members that cannot be repaired so one bad id does not leave the
// rest dangling.
func (e *Engine) onGroupDeleted(p any) error {
	r, err := payloadAs[events.GroupRemoved](events.GroupDeleted, p)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range r.TaskIDs {
		t, ok := e.Tasks.Get(id)
		if !ok {
			errs = append(errs, fmt.Errorf("task %s of group %s: %w", id, r.GroupID, ErrDanglingReference))
			continue
		}
		if t.GroupRef != r.GroupID {
			continue
		}
		t.GroupRef = ""
		if err := e.Tasks.Add(t); err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, e.Bus.Publish(events.TaskEdited, events.TaskID(t.ID)))
	}
	return errors.Join(errs...)
}

func (e *Engine) onChecklistClicked(p any) error {
	c, err := payloadAs[events.ChecklistClick](events.TaskChecklistClicked, p)
	if err != nil {
		return err
	}
	t, ok := e.Tasks.Get(c.TaskID)
	if !ok {
		return fmt.Errorf("task %s: %w", c.TaskID, ErrDanglingReference)
	}
	if !t.Checklist.Has(c.ItemID) {
		return nil
	}
	t.Checklist = t.Checklist.Without(c.ItemID)
	return e.Tasks.Add(t)
}

func (e *Engine) onStatusToggled(p any) error {
	id, err := payloadAs[events.TaskID](events.TaskStatusToggled, p)
	if err != nil {
		return err
	}
	t, ok := e.Tasks.Get(string(id))
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrDanglingReference)
	}
	t.Completed = !t.Completed
	if err := e.Tasks.Add(t); err != nil {
		return err
	}
	var errs []error
	if t.HasGroup() {
		errs = append(errs, e.Bus.Publish(events.GroupMutated, events.GroupID(t.GroupRef)))
	}
	errs = append(errs, e.Bus.Publish(events.TaskEdited, events.TaskID(t.ID)))
	return errors.Join(errs...)
}

func (e *Engine) onGroupSubmitted(p any) error {
	sub, err := payloadAs[events.GroupSubmission](events.GroupSubmitted, p)
	if err != nil {
		return err
	}
	// membership is owned by the cascade handlers, never by the form
	g := sub.Group
	g.Linked = domain.LinkSet{}
	if sub.Mode == events.Edit && sub.Previous != nil {
		g.Linked = sub.Previous.Clone().Linked
	}
	if err := e.Groups.Add(g); err != nil {
		return err
	}
	if sub.Mode == events.Edit {
		return e.Bus.Publish(events.GroupEdited, events.GroupID(g.ID))
	}
	return e.Bus.Publish(events.GroupCreated, g.Clone())
}
