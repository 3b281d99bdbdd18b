package filter

import (
	"sort"
	"time"

	"todoline/internal/domain"
	"todoline/internal/store"
)

// Row is a task enriched for display.
type Row struct {
	Task      domain.Task
	GroupName string
}

// Counts holds the number of matching tasks per general criterion.
type Counts map[string]int

// Query derives views from the stores.
type Query struct {
	Tasks   *store.Tasks
	Groups  *store.Groups
	Matcher Matcher
	Now     func() time.Time
}

func (q Query) now() time.Time {
	if q.Now == nil {
		return time.Now()
	}
	return q.Now()
}

// Visible returns the tasks matched by sel, oldest first.
func (q Query) Visible(sel Selector) []Row {
	now := q.now()
	var rows []Row
	for _, t := range q.Tasks.All() {
		if q.Matcher.Matches(t, sel, now) {
			rows = append(rows, q.Enrich(t))
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Task, rows[j].Task
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return rows
}

// Counts evaluates every general criterion in one pass.
func (q Query) Counts() Counts {
	now := q.now()
	out := Counts{}
	for _, c := range Criteria {
		out[c] = 0
	}
	for _, t := range q.Tasks.All() {
		for _, c := range Criteria {
			if q.Matcher.Matches(t, Selector{Kind: General, Criterion: c}, now) {
				out[c]++
			}
		}
	}
	return out
}

// ActiveInGroup counts the group's tasks that are not completed.
func (q Query) ActiveInGroup(groupID string) int {
	g, ok := q.Groups.Get(groupID)
	if !ok {
		return 0
	}
	n := 0
	for _, id := range g.Linked.Sorted() {
		if t, ok := q.Tasks.Get(id); ok && !t.Completed {
			n++
		}
	}
	return n
}

// Enrich resolves the task's group name. A dangling reference yields no name.
func (q Query) Enrich(t domain.Task) Row {
	row := Row{Task: t}
	if t.HasGroup() {
		if g, ok := q.Groups.Get(t.GroupRef); ok {
			row.GroupName = g.Name
		}
	}
	return row
}
