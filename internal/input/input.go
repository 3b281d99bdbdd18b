// Package input turns raw form values into entities ready to submit.
package input

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"todoline/internal/domain"
)

// TaskForm holds the raw values of a task form. Previous is set when editing.
type TaskForm struct {
	Title       string
	Priority    string
	Group       string
	Deadline    string
	Description string
	// Checklist keeps existing items; NewItems are appended with fresh ids.
	Checklist domain.Checklist
	NewItems  []string
	Previous  *domain.Task
}

// FormFrom prefills a form with the stored values of t.
func FormFrom(t domain.Task) TaskForm {
	f := TaskForm{
		Title:       t.Title,
		Priority:    string(t.Priority),
		Group:       t.GroupRef,
		Description: t.Description,
		Checklist:   t.Clone().Checklist,
		Previous:    &t,
	}
	if t.Deadline != nil {
		f.Deadline = t.Deadline.Format(time.RFC3339Nano)
	}
	return f
}

// Parser builds entities from forms. DefaultPriority applies when the form
// leaves priority blank.
type Parser struct {
	DefaultPriority domain.Priority
	dates           *when.Parser
}

func NewParser(defaultPriority domain.Priority) *Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	if defaultPriority == "" {
		defaultPriority = domain.PriorityMedium
	}
	return &Parser{DefaultPriority: defaultPriority, dates: w}
}

// Task trims every field and builds the task. Edits keep the previous id,
// creation time and completion flag.
func (p *Parser) Task(f TaskForm, now time.Time) (domain.Task, error) {
	in := domain.TaskInput{
		Title:       strings.TrimSpace(f.Title),
		GroupRef:    strings.TrimSpace(f.Group),
		Description: strings.TrimSpace(f.Description),
	}
	prio := p.DefaultPriority
	if raw := strings.TrimSpace(f.Priority); raw != "" {
		parsed, err := domain.ParsePriority(raw)
		if err != nil {
			return domain.Task{}, err
		}
		prio = parsed
	}
	in.Priority = prio

	deadline, err := p.Deadline(f.Deadline, now)
	if err != nil {
		return domain.Task{}, err
	}
	in.Deadline = deadline
	in.Checklist = checklist(f.Checklist, f.NewItems)

	if f.Previous != nil {
		in.ExistingID = f.Previous.ID
		in.ExistingCreatedAt = f.Previous.CreatedAt
		in.Completed = f.Previous.Completed
	}
	t := domain.NewTask(in, now)
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func checklist(kept domain.Checklist, added []string) domain.Checklist {
	out := kept
	for _, text := range added {
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, domain.NewChecklistItem(text))
		}
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// Deadline parses s relative to now. A bare date means midnight of that day
// in now's location; anything else falls back to natural language such as
// "next friday". Blank input means no deadline.
func (p *Parser) Deadline(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if d, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return &d, nil
	}
	for _, layout := range dateLayouts {
		if d, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return &d, nil
		}
	}
	r, err := p.dates.Parse(s, now)
	if err != nil {
		return nil, fmt.Errorf("deadline %q: %w", s, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: cannot read deadline %q", domain.ErrInvalidTask, s)
	}
	d := r.Time
	return &d, nil
}

// GroupForm holds the raw values of a group form. Previous is set when
// renaming.
type GroupForm struct {
	Name     string
	Previous *domain.Group
}

func (p *Parser) Group(f GroupForm) (domain.Group, error) {
	name := strings.TrimSpace(f.Name)
	var g domain.Group
	if f.Previous != nil {
		g = f.Previous.Clone()
		g.Name = name
	} else {
		g = domain.NewGroup(name)
	}
	if err := g.Validate(); err != nil {
		return domain.Group{}, err
	}
	return g, nil
}
