package engine

import (
	"errors"
	"fmt"
	"sort"

	"todoline/internal/domain"
	"todoline/internal/events"
	"todoline/internal/store"
)

// Violation is one broken half of the link invariant.
type Violation struct {
	TaskID  string `json:"task_id"`
	GroupID string `json:"group_id"`
	Problem string `json:"problem"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s / %s: %s", v.TaskID, v.GroupID, v.Problem)
}

const (
	ProblemMissingGroup  = "task references a missing group"
	ProblemNotLinked     = "group does not list the task"
	ProblemMissingTask   = "group lists a missing task"
	ProblemWrongGroupRef = "group lists a task that references another group"
)

// Verify checks both directions of the link invariant.
func Verify(tasks *store.Tasks, groups *store.Groups) []Violation {
	var out []Violation
	for _, t := range tasks.All() {
		if !t.HasGroup() {
			continue
		}
		g, ok := groups.Get(t.GroupRef)
		switch {
		case !ok:
			out = append(out, Violation{TaskID: t.ID, GroupID: t.GroupRef, Problem: ProblemMissingGroup})
		case !g.Linked.Has(t.ID):
			out = append(out, Violation{TaskID: t.ID, GroupID: g.ID, Problem: ProblemNotLinked})
		}
	}
	for _, g := range groups.All() {
		for _, id := range g.Linked.Sorted() {
			t, ok := tasks.Get(id)
			switch {
			case !ok:
				out = append(out, Violation{TaskID: id, GroupID: g.ID, Problem: ProblemMissingTask})
			case t.GroupRef != g.ID:
				out = append(out, Violation{TaskID: id, GroupID: g.ID, Problem: ProblemWrongGroupRef})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].GroupID != out[j].GroupID {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// Repair restores the invariant treating task group references as the source
// of truth: references to missing groups are cleared and every group's link
// set is rebuilt from the tasks that point at it. It returns the violations it
// found.
func (e *Engine) Repair() ([]Violation, error) {
	found := Verify(e.Tasks, e.Groups)
	if len(found) == 0 {
		return nil, nil
	}
	var errs []error
	members := map[string][]string{}
	for _, t := range e.Tasks.All() {
		if !t.HasGroup() {
			continue
		}
		if !e.Groups.Has(t.GroupRef) {
			e.Logger.Printf("repair: clearing missing group %s from %s", t.GroupRef, t.ID)
			t.GroupRef = ""
			if err := e.Tasks.Add(t); err != nil {
				errs = append(errs, err)
				continue
			}
			errs = append(errs, e.Bus.Publish(events.TaskEdited, events.TaskID(t.ID)))
			continue
		}
		members[t.GroupRef] = append(members[t.GroupRef], t.ID)
	}
	for _, g := range e.Groups.All() {
		want := members[g.ID]
		changed := len(want) != len(g.Linked)
		rebuilt := g.Clone()
		rebuilt.Linked = domain.LinkSet{}
		for _, id := range want {
			rebuilt.Link(id)
			if !g.Linked.Has(id) {
				changed = true
			}
		}
		if !changed {
			continue
		}
		e.Logger.Printf("repair: rebuilding links of %s (%d -> %d)", g.ID, len(g.Linked), len(rebuilt.Linked))
		if err := e.Groups.Add(rebuilt); err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, e.Bus.Publish(events.GroupMutated, events.GroupID(g.ID)))
	}
	return found, errors.Join(errs...)
}
