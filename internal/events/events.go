package events

import "todoline/internal/domain"

// Event names. Requests flow in from the input layer; the remaining names are
// notifications published after the store write they report on.
const (
	TaskSubmitted        = "task:submitted"
	TaskCreated          = "task:created"
	TaskEdited           = "task:edited"
	TaskDeleteRequested  = "task:delete-requested"
	TaskDeleted          = "task:deleted"
	TaskStatusToggled    = "task:status-toggled"
	TaskChecklistClicked = "task:checklist-clicked"
	GroupSubmitted       = "group:submitted"
	GroupCreated         = "group:created"
	GroupEdited          = "group:edited"
	GroupAssigned        = "group:assigned"
	GroupUnassigned      = "group:unassigned"
	GroupMutated         = "group:mutated"
	GroupDeleteRequested = "group:delete-requested"
	GroupDeleted         = "group:deleted"
	DisplayRequested     = "display:requested"
)

// All lists every catalogued event name.
var All = []string{
	TaskSubmitted, TaskCreated, TaskEdited, TaskDeleteRequested, TaskDeleted,
	TaskStatusToggled, TaskChecklistClicked,
	GroupSubmitted, GroupCreated, GroupEdited, GroupAssigned, GroupUnassigned,
	GroupMutated, GroupDeleteRequested, GroupDeleted,
	DisplayRequested,
}

type Mode int

const (
	Create Mode = iota
	Edit
)

func (m Mode) String() string {
	if m == Edit {
		return "edit"
	}
	return "create"
}

// TaskSubmission is the payload of TaskSubmitted. Previous is set only for
// Edit and holds the stored task as it was before the edit.
type TaskSubmission struct {
	Mode     Mode
	Task     domain.Task
	Previous *domain.Task
}

type GroupSubmission struct {
	Mode     Mode
	Group    domain.Group
	Previous *domain.Group
}

// Link is the payload of GroupAssigned and GroupUnassigned.
type Link struct {
	GroupID string
	TaskID  string
}

// TaskRemoved is the payload of TaskDeleted. GroupID is empty when the task
// was unassigned.
type TaskRemoved struct {
	TaskID  string
	GroupID string
}

// GroupRemoved is the payload of GroupDeleted.
type GroupRemoved struct {
	GroupID string
	TaskIDs []string
}

type ChecklistClick struct {
	TaskID string
	ItemID string
}

// TaskID is the payload of TaskCreated, TaskEdited, TaskDeleteRequested and
// TaskStatusToggled.
type TaskID string

// GroupID is the payload of GroupMutated and GroupDeleteRequested.
type GroupID string

// View is the payload of DisplayRequested: the selector to redraw with. A nil
// payload asks for a redraw of whatever is selected.
type View struct {
	Kind      string
	Criterion string
}
