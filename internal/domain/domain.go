package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TaskPrefix      = "task_"
	GroupPrefix     = "group_"
	ChecklistPrefix = "check_"
)

var (
	ErrInvalidTask  = errors.New("invalid task")
	ErrInvalidGroup = errors.New("invalid group")
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority accepts the enumerated names case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, s)
}

type ChecklistItem struct {
	ID   string
	Text string
}

// Checklist is an ordered set of sub-items. A nil Checklist means the task has
// no checklist at all, which is distinct from an empty one.
type Checklist []ChecklistItem

func NewChecklistItem(text string) ChecklistItem {
	return ChecklistItem{ID: ChecklistPrefix + uuid.NewString(), Text: text}
}

// Without returns a copy of the checklist lacking itemID. A nil checklist stays nil.
func (c Checklist) Without(itemID string) Checklist {
	if c == nil {
		return nil
	}
	out := make(Checklist, 0, len(c))
	for _, it := range c {
		if it.ID != itemID {
			out = append(out, it)
		}
	}
	return out
}

func (c Checklist) Has(itemID string) bool {
	for _, it := range c {
		if it.ID == itemID {
			return true
		}
	}
	return false
}

func (c Checklist) clone() Checklist {
	if c == nil {
		return nil
	}
	out := make(Checklist, len(c))
	copy(out, c)
	return out
}

type Task struct {
	ID          string
	CreatedAt   time.Time
	Completed   bool
	Title       string
	Priority    Priority
	GroupRef    string
	Deadline    *time.Time
	Description string
	Checklist   Checklist
}

// TaskInput carries already-trimmed field values. ExistingID and
// ExistingCreatedAt are set when replaying an edit of a stored task.
type TaskInput struct {
	Title             string
	Priority          Priority
	GroupRef          string
	Deadline          *time.Time
	Description       string
	Checklist         Checklist
	ExistingID        string
	ExistingCreatedAt time.Time
	Completed         bool
}

// NewTask builds a task, assigning a fresh id and timestamp unless the input
// carries existing ones.
func NewTask(in TaskInput, now time.Time) Task {
	id := in.ExistingID
	if id == "" {
		id = TaskPrefix + uuid.NewString()
	}
	created := in.ExistingCreatedAt
	if created.IsZero() {
		created = now
	}
	t := Task{
		ID:          id,
		CreatedAt:   toMillis(created),
		Completed:   in.Completed,
		Title:       in.Title,
		Priority:    in.Priority,
		GroupRef:    in.GroupRef,
		Description: in.Description,
		Checklist:   in.Checklist.clone(),
	}
	if in.Deadline != nil {
		d := toMillis(*in.Deadline)
		t.Deadline = &d
	}
	return t
}

func (t Task) EntityID() string { return t.ID }

// Clone returns a deep copy so callers cannot alias stored state.
func (t Task) Clone() Task {
	out := t
	if t.Deadline != nil {
		d := *t.Deadline
		out.Deadline = &d
	}
	out.Checklist = t.Checklist.clone()
	return out
}

func (t Task) HasGroup() bool { return t.GroupRef != "" }

func (t Task) Validate() error {
	if !strings.HasPrefix(t.ID, TaskPrefix) {
		return fmt.Errorf("%w: id %q lacks %s prefix", ErrInvalidTask, t.ID, TaskPrefix)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if _, err := ParsePriority(string(t.Priority)); err != nil {
		return err
	}
	if t.GroupRef != "" && !strings.HasPrefix(t.GroupRef, GroupPrefix) {
		return fmt.Errorf("%w: group ref %q lacks %s prefix", ErrInvalidTask, t.GroupRef, GroupPrefix)
	}
	seen := make(map[string]struct{}, len(t.Checklist))
	for _, it := range t.Checklist {
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("%w: duplicate checklist item %s", ErrInvalidTask, it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	return nil
}

// LinkSet is the set of task ids assigned to a group.
type LinkSet map[string]struct{}

func (s LinkSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in lexical order.
func (s LinkSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type Group struct {
	ID     string
	Name   string
	Linked LinkSet
}

// NewGroup builds a group with a fresh id. linked must be set-like; a
// duplicate id is a programming error and panics.
func NewGroup(name string, linked ...string) Group {
	set, err := linkSetOf(linked)
	if err != nil {
		panic(err)
	}
	return Group{ID: GroupPrefix + uuid.NewString(), Name: name, Linked: set}
}

func linkSetOf(ids []string) (LinkSet, error) {
	set := make(LinkSet, len(ids))
	for _, id := range ids {
		if _, dup := set[id]; dup {
			return nil, fmt.Errorf("%w: linked ids must be a set, %s repeats", ErrInvalidGroup, id)
		}
		set[id] = struct{}{}
	}
	return set, nil
}

func (g Group) EntityID() string { return g.ID }

func (g Group) Clone() Group {
	out := g
	out.Linked = make(LinkSet, len(g.Linked))
	for id := range g.Linked {
		out.Linked[id] = struct{}{}
	}
	return out
}

// Link adds taskID and reports whether the set changed.
func (g *Group) Link(taskID string) bool {
	if g.Linked == nil {
		g.Linked = LinkSet{}
	}
	if g.Linked.Has(taskID) {
		return false
	}
	g.Linked[taskID] = struct{}{}
	return true
}

// Unlink removes taskID and reports whether the set changed.
func (g *Group) Unlink(taskID string) bool {
	if !g.Linked.Has(taskID) {
		return false
	}
	delete(g.Linked, taskID)
	return true
}

func (g Group) Validate() error {
	if !strings.HasPrefix(g.ID, GroupPrefix) {
		return fmt.Errorf("%w: id %q lacks %s prefix", ErrInvalidGroup, g.ID, GroupPrefix)
	}
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidGroup)
	}
	return nil
}

func toMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
