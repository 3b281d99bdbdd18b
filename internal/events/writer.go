package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"todoline/internal/bus"
	"todoline/internal/domain"
)

// Entry is one journaled event.
type Entry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type EventPayload map[string]any

// Journal appends every published event to the events table. Writes are best
// effort: a failed append is logged and never fails the publish.
type Journal struct {
	DB     *sql.DB
	Now    func() time.Time
	Logger *log.Logger
}

// Attach subscribes the journal to every catalogued event.
func (j Journal) Attach(b *bus.Bus) {
	for _, name := range All {
		name := name
		b.Subscribe(name, func(p any) error {
			if err := j.Append(context.Background(), name, p); err != nil {
				j.logger().Printf("journal: %s: %v", name, err)
			}
			return nil
		})
	}
}

func (j Journal) logger() *log.Logger {
	if j.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return j.Logger
}

func (j Journal) Append(ctx context.Context, evtType string, p any) error {
	if j.DB == nil {
		return nil
	}
	if j.Now == nil {
		j.Now = time.Now
	}
	ts := j.Now().UTC().Format(time.RFC3339)
	kind, id, payload := describe(p)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = j.DB.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, kind, nullable(id), string(data))
	return err
}

func describe(p any) (kind, id string, payload EventPayload) {
	switch v := p.(type) {
	case TaskSubmission:
		return "task", v.Task.ID, EventPayload{"mode": v.Mode.String(), "task": v.Task.Record()}
	case GroupSubmission:
		return "group", v.Group.ID, EventPayload{"mode": v.Mode.String(), "group": v.Group.Record()}
	case Link:
		return "group", v.GroupID, EventPayload{"task_id": v.TaskID}
	case TaskRemoved:
		return "task", v.TaskID, EventPayload{"group_id": v.GroupID}
	case GroupRemoved:
		return "group", v.GroupID, EventPayload{"task_ids": v.TaskIDs}
	case ChecklistClick:
		return "task", v.TaskID, EventPayload{"item_id": v.ItemID}
	case TaskID:
		return "task", string(v), EventPayload{}
	case GroupID:
		return "group", string(v), EventPayload{}
	case domain.Group:
		return "group", v.ID, EventPayload{"name": v.Name}
	case View:
		return "display", "", EventPayload{"kind": v.Kind, "criterion": v.Criterion}
	}
	return "display", "", EventPayload{}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
