package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DeadlineLayout is the ISO-8601 form deadlines take on disk.
const DeadlineLayout = "2006-01-02T15:04:05.000Z07:00"

// TaskRecord is the durable shape of a Task.
type TaskRecord struct {
	ID          string      `json:"id"`
	CreatedAt   int64       `json:"created_at"`
	Completed   bool        `json:"completed"`
	Title       string      `json:"title"`
	Priority    string      `json:"priority"`
	Group       *string     `json:"group"`
	Deadline    *string     `json:"deadline"`
	Description *string     `json:"description"`
	Checklist   [][2]string `json:"checklist"`
}

// GroupRecord is the durable shape of a Group. Linked ids are sorted.
type GroupRecord struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	LinkedIDs []string `json:"linked_ids"`
}

func (t Task) Record() TaskRecord {
	r := TaskRecord{
		ID:          t.ID,
		CreatedAt:   t.CreatedAt.UnixMilli(),
		Completed:   t.Completed,
		Title:       t.Title,
		Priority:    string(t.Priority),
		Group:       optional(t.GroupRef),
		Description: optional(t.Description),
	}
	if t.Deadline != nil {
		s := t.Deadline.UTC().Format(DeadlineLayout)
		r.Deadline = &s
	}
	if t.Checklist != nil {
		r.Checklist = make([][2]string, 0, len(t.Checklist))
		for _, it := range t.Checklist {
			r.Checklist = append(r.Checklist, [2]string{it.ID, it.Text})
		}
	}
	return r
}

// TaskFromRecord is the inverse of Task.Record.
func TaskFromRecord(r TaskRecord) (Task, error) {
	t := Task{
		ID:          r.ID,
		CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
		Completed:   r.Completed,
		Title:       r.Title,
		Priority:    Priority(r.Priority),
		GroupRef:    deref(r.Group),
		Description: deref(r.Description),
	}
	if r.Deadline != nil {
		d, err := time.Parse(DeadlineLayout, *r.Deadline)
		if err != nil {
			return Task{}, fmt.Errorf("%w: deadline %q: %v", ErrInvalidTask, *r.Deadline, err)
		}
		d = toMillis(d)
		t.Deadline = &d
	}
	if r.Checklist != nil {
		t.Checklist = make(Checklist, 0, len(r.Checklist))
		for _, pair := range r.Checklist {
			t.Checklist = append(t.Checklist, ChecklistItem{ID: pair[0], Text: pair[1]})
		}
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (g Group) Record() GroupRecord {
	return GroupRecord{ID: g.ID, Name: g.Name, LinkedIDs: g.Linked.Sorted()}
}

// GroupFromRecord is the inverse of Group.Record. A record listing the same
// task twice is corrupt.
func GroupFromRecord(r GroupRecord) (Group, error) {
	set, err := linkSetOf(r.LinkedIDs)
	if err != nil {
		return Group{}, err
	}
	g := Group{ID: r.ID, Name: r.Name, Linked: set}
	if err := g.Validate(); err != nil {
		return Group{}, err
	}
	return g, nil
}

func EncodeTask(t Task) ([]byte, error) { return json.Marshal(t.Record()) }

func DecodeTask(data []byte) (Task, error) {
	var r TaskRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return TaskFromRecord(r)
}

func EncodeGroup(g Group) ([]byte, error) { return json.Marshal(g.Record()) }

func DecodeGroup(data []byte) (Group, error) {
	var r GroupRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return Group{}, fmt.Errorf("decode group: %w", err)
	}
	return GroupFromRecord(r)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
