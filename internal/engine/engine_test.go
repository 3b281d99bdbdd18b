package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"todoline/internal/bus"
	"todoline/internal/db"
	"todoline/internal/domain"
	"todoline/internal/engine"
	"todoline/internal/events"
	"todoline/internal/kv"
	"todoline/internal/migrate"
	"todoline/internal/repo"
	"todoline/internal/store"
)

type published struct {
	Name    string
	Payload any
}

type testEnv struct {
	Engine  *engine.Engine
	Adapter *kv.Adapter
	Log     *[]published
	Now     time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	adapter := kv.New(repo.Repo{DB: conn}, nil, nil)
	b := bus.New(nil)

	// the recorder subscribes first so it logs each event before the
	// handlers it triggers publish anything nested
	var log []published
	for _, name := range events.All {
		name := name
		b.Subscribe(name, func(p any) error {
			log = append(log, published{Name: name, Payload: p})
			return nil
		})
	}
	eng := engine.New(b, store.NewTasks(adapter, nil), store.NewGroups(adapter, nil), nil)
	eng.Register()
	return testEnv{Engine: eng, Adapter: adapter, Log: &log, Now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (env testEnv) reset() { *env.Log = nil }

func (env testEnv) names(filter ...string) []string {
	want := map[string]bool{}
	for _, f := range filter {
		want[f] = true
	}
	var out []string
	for _, p := range *env.Log {
		if len(filter) == 0 || want[p.Name] {
			out = append(out, p.Name)
		}
	}
	return out
}

func (env testEnv) count(name string, payload any) int {
	n := 0
	for _, p := range *env.Log {
		if p.Name == name && p.Payload == payload {
			n++
		}
	}
	return n
}

func (env testEnv) newGroup(t *testing.T, name string) domain.Group {
	t.Helper()
	g := domain.NewGroup(name)
	if err := env.Engine.SubmitGroup(g); err != nil {
		t.Fatalf("submit group: %v", err)
	}
	return g
}

func (env testEnv) newTask(t *testing.T, title, groupID string) domain.Task {
	t.Helper()
	task := domain.NewTask(domain.TaskInput{Title: title, Priority: domain.PriorityMedium, GroupRef: groupID}, env.Now)
	if err := env.Engine.SubmitTask(task); err != nil {
		t.Fatalf("submit task: %v", err)
	}
	return task
}

func (env testEnv) task(t *testing.T, id string) domain.Task {
	t.Helper()
	task, ok := env.Engine.Tasks.Get(id)
	if !ok {
		t.Fatalf("task %s missing", id)
	}
	return task
}

func (env testEnv) group(t *testing.T, id string) domain.Group {
	t.Helper()
	g, ok := env.Engine.Groups.Get(id)
	if !ok {
		t.Fatalf("group %s missing", id)
	}
	return g
}

func assertInvariant(t *testing.T, env testEnv) {
	t.Helper()
	if v := engine.Verify(env.Engine.Tasks, env.Engine.Groups); len(v) > 0 {
		t.Fatalf("link invariant broken: %v", v)
	}
}

func TestCreateTaskLinksGroup(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGroup(t, "work")
	env.reset()
	task := env.newTask(t, "write report", g.ID)

	if !env.group(t, g.ID).Linked.Has(task.ID) {
		t.Fatalf("group should list task")
	}
	got := env.names()
	want := []string{events.TaskSubmitted, events.GroupAssigned, events.GroupMutated, events.TaskCreated}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	assertInvariant(t, env)
}

func TestReassignmentUnlinksThenLinks(t *testing.T) {
	env := newTestEnv(t)
	g1 := env.newGroup(t, "one")
	g2 := env.newGroup(t, "two")
	task := env.newTask(t, "move me", g1.ID)
	env.reset()

	edited := task
	edited.GroupRef = g2.ID
	if err := env.Engine.SubmitTask(edited); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if env.group(t, g1.ID).Linked.Has(task.ID) {
		t.Fatalf("task still linked to old group")
	}
	if !env.group(t, g2.ID).Linked.Has(task.ID) {
		t.Fatalf("task not linked to new group")
	}
	got := env.names(events.GroupUnassigned, events.GroupAssigned)
	if len(got) != 2 || got[0] != events.GroupUnassigned || got[1] != events.GroupAssigned {
		t.Fatalf("link events = %v", got)
	}
	if n := env.count(events.TaskEdited, events.TaskID(task.ID)); n != 1 {
		t.Fatalf("task:edited count = %d", n)
	}
	if n := len(env.names(events.TaskCreated)); n != 0 {
		t.Fatalf("edit must not announce a creation")
	}
	assertInvariant(t, env)
}

func TestEditKeepsCreationTime(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t, "original", "")
	edited := task
	edited.Title = "renamed"
	edited.CreatedAt = env.Now.Add(48 * time.Hour)
	if err := env.Engine.SubmitTask(edited); err != nil {
		t.Fatal(err)
	}
	got := env.task(t, task.ID)
	if got.Title != "renamed" || !got.CreatedAt.Equal(task.CreatedAt) {
		t.Fatalf("got %+v", got)
	}
}

func TestUnassignOnEdit(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGroup(t, "g")
	task := env.newTask(t, "t", g.ID)
	edited := task
	edited.GroupRef = ""
	if err := env.Engine.SubmitTask(edited); err != nil {
		t.Fatal(err)
	}
	if len(env.group(t, g.ID).Linked) != 0 {
		t.Fatalf("group should be empty")
	}
	assertInvariant(t, env)
}

func TestDeleteTaskCascadesToGroup(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGroup(t, "g")
	task := env.newTask(t, "t", g.ID)
	keep := env.newTask(t, "keep", g.ID)
	env.reset()

	if err := env.Engine.DeleteTask(task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if env.Engine.Tasks.Has(task.ID) {
		t.Fatalf("task still stored")
	}
	linked := env.group(t, g.ID).Linked
	if linked.Has(task.ID) || !linked.Has(keep.ID) {
		t.Fatalf("linked = %v", linked.Sorted())
	}
	if n := env.count(events.GroupMutated, events.GroupID(g.ID)); n != 1 {
		t.Fatalf("group:mutated count = %d", n)
	}
	if n := env.count(events.TaskDeleted, events.TaskRemoved{TaskID: task.ID, GroupID: g.ID}); n != 1 {
		t.Fatalf("task:deleted should carry the former group")
	}
	assertInvariant(t, env)
}

func TestDeleteUngroupedTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t, "solo", "")
	env.reset()
	if err := env.Engine.DeleteTask(task.ID); err != nil {
		t.Fatal(err)
	}
	if n := len(env.names(events.GroupMutated)); n != 0 {
		t.Fatalf("no group should change, got %d mutations", n)
	}
}

func TestDeleteGroupCascadesToTasks(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGroup(t, "doomed")
	t1 := env.newTask(t, "one", g.ID)
	t2 := env.newTask(t, "two", g.ID)
	env.reset()

	if err := env.Engine.DeleteGroup(g.ID); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	if env.Engine.Groups.Has(g.ID) {
		t.Fatalf("group still stored")
	}
	for _, id := range []string{t1.ID, t2.ID} {
		if ref := env.task(t, id).GroupRef; ref != "" {
			t.Fatalf("%s still references %s", id, ref)
		}
		if n := env.count(events.TaskEdited, events.TaskID(id)); n != 1 {
			t.Fatalf("%s task:edited count = %d", id, n)
		}
	}
	assertInvariant(t, env)
}

func TestDeleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t, "t", "")
	if err := env.Engine.DeleteTask(task.ID); err != nil {
		t.Fatal(err)
	}
	env.reset()
	if err := env.Engine.DeleteTask(task.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if err := env.Engine.DeleteGroup("group_missing"); err != nil {
		t.Fatalf("delete missing group: %v", err)
	}
	got := env.names()
	if len(got) != 2 || got[0] != events.TaskDeleteRequested || got[1] != events.GroupDeleteRequested {
		t.Fatalf("only the requests should be published, got %v", got)
	}
}

func TestStatusToggleNotifiesGroup(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGroup(t, "g")
	task := env.newTask(t, "t", g.ID)
	env.reset()
	if err := env.Engine.ToggleStatus(task.ID); err != nil {
		t.Fatal(err)
	}
	if !env.task(t, task.ID).Completed {
		t.Fatalf("task should be completed")
	}
	got := env.names(events.GroupMutated, events.TaskEdited)
	if len(got) != 2 || got[0] != events.GroupMutated || got[1] != events.TaskEdited {
		t.Fatalf("events = %v", got)
	}
	if err := env.Engine.ToggleStatus(task.ID); err != nil {
		t.Fatal(err)
	}
	if env.task(t, task.ID).Completed {
		t.Fatalf("second toggle should reopen")
	}
	if err := env.Engine.ToggleStatus("task_missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChecklistClickRemovesItem(t *testing.T) {
	env := newTestEnv(t)
	task := domain.NewTask(domain.TaskInput{
		Title:    "list",
		Priority: domain.PriorityLow,
		Checklist: domain.Checklist{
			{ID: "check_a", Text: "a"},
			{ID: "check_b", Text: "b"},
		},
	}, env.Now)
	if err := env.Engine.SubmitTask(task); err != nil {
		t.Fatal(err)
	}
	env.reset()
	if err := env.Engine.ClickChecklist(task.ID, "check_a"); err != nil {
		t.Fatal(err)
	}
	got := env.task(t, task.ID).Checklist
	if len(got) != 1 || got[0].ID != "check_b" {
		t.Fatalf("checklist = %+v", got)
	}
	if names := env.names(); len(names) != 1 {
		t.Fatalf("checklist click should publish nothing beyond the request, got %v", names)
	}
	if err := env.Engine.ClickChecklist(task.ID, "check_a"); err != nil {
		t.Fatalf("repeat click: %v", err)
	}
}

func TestSubmitRejectsUnknownGroup(t *testing.T) {
	env := newTestEnv(t)
	task := domain.NewTask(domain.TaskInput{Title: "t", Priority: domain.PriorityLow, GroupRef: "group_nope"}, env.Now)
	if err := env.Engine.SubmitTask(task); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if env.Engine.Tasks.Has(task.ID) {
		t.Fatalf("rejected task was stored")
	}
	bad := domain.NewTask(domain.TaskInput{Title: "", Priority: domain.PriorityLow}, env.Now)
	if err := env.Engine.SubmitTask(bad); !errors.Is(err, domain.ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}
}

func TestCreateGroupStartsEmpty(t *testing.T) {
	env := newTestEnv(t)
	g := domain.NewGroup("home")
	if err := env.Engine.SubmitGroup(g); err != nil {
		t.Fatalf("submit group: %v", err)
	}
	if got := env.names(); len(got) != 2 || got[0] != events.GroupSubmitted || got[1] != events.GroupCreated {
		t.Fatalf("events = %v", got)
	}
	created, ok := (*env.Log)[1].Payload.(domain.Group)
	if !ok || created.ID != g.ID || created.Linked == nil || len(created.Linked) != 0 {
		t.Fatalf("group:created payload = %#v", (*env.Log)[1].Payload)
	}
	if got := env.group(t, g.ID); len(got.Linked) != 0 {
		t.Fatalf("stored group has members: %v", got.Linked.Sorted())
	}
	assertInvariant(t, env)
}

func TestCreateGroupRejectsPrelinkedTasks(t *testing.T) {
	env := newTestEnv(t)
	loose := env.newTask(t, "loose", "")
	env.reset()

	g := domain.NewGroup("g", loose.ID)
	if err := env.Engine.SubmitGroup(g); !errors.Is(err, domain.ErrInvalidGroup) {
		t.Fatalf("expected ErrInvalidGroup, got %v", err)
	}
	if env.Engine.Groups.Has(g.ID) || len(env.names()) != 0 {
		t.Fatalf("rejected group was stored or announced: %v", env.names())
	}
	assertInvariant(t, env)

	// a pre-linked creation arriving on the bus still starts empty
	err := env.Engine.Bus.Publish(events.GroupSubmitted, events.GroupSubmission{Mode: events.Create, Group: g})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := env.group(t, g.ID); len(got.Linked) != 0 {
		t.Fatalf("handler kept caller links: %v", got.Linked.Sorted())
	}
	if env.task(t, loose.ID).GroupRef != "" {
		t.Fatalf("task was attached without assignment")
	}
	assertInvariant(t, env)
}

func TestGroupRenameKeepsLinks(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGroup(t, "old")
	task := env.newTask(t, "t", g.ID)
	env.reset()

	renamed := domain.Group{ID: g.ID, Name: "new", Linked: domain.LinkSet{}}
	if err := env.Engine.SubmitGroup(renamed); err != nil {
		t.Fatal(err)
	}
	got := env.group(t, g.ID)
	if got.Name != "new" || !got.Linked.Has(task.ID) {
		t.Fatalf("got %+v", got)
	}
	if n := env.count(events.GroupEdited, events.GroupID(g.ID)); n != 1 {
		t.Fatalf("group:edited count = %d", n)
	}
}

func TestCascadeHandlersSurfaceDanglingReferences(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.Bus.Publish(events.GroupAssigned, events.Link{GroupID: "group_gone", TaskID: "task_x"})
	if !errors.Is(err, engine.ErrDanglingReference) {
		t.Fatalf("expected ErrDanglingReference, got %v", err)
	}
}

func TestGroupDeletedRepairsEveryMember(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGroup(t, "g")
	t1 := env.newTask(t, "one", g.ID)
	t2 := env.newTask(t, "two", g.ID)

	err := env.Engine.Bus.Publish(events.GroupDeleted, events.GroupRemoved{
		GroupID: g.ID,
		TaskIDs: []string{t1.ID, "task_ghost", t2.ID},
	})
	if !errors.Is(err, engine.ErrDanglingReference) {
		t.Fatalf("expected the ghost to be reported, got %v", err)
	}
	if env.task(t, t1.ID).GroupRef != "" || env.task(t, t2.ID).GroupRef != "" {
		t.Fatalf("members on both sides of the ghost must be repaired")
	}
}

func TestDuplicateDeliveryKeepsInvariant(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Register() // every cascade handler now runs twice

	g1 := env.newGroup(t, "one")
	g2 := env.newGroup(t, "two")
	task := env.newTask(t, "t", g1.ID)
	other := env.newTask(t, "o", g1.ID)
	assertInvariant(t, env)

	moved := task
	moved.GroupRef = g2.ID
	if err := env.Engine.SubmitTask(moved); err != nil {
		t.Fatal(err)
	}
	assertInvariant(t, env)
	if err := env.Engine.ToggleStatus(task.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(other.ID); err != nil {
		t.Fatal(err)
	}
	assertInvariant(t, env)
	if err := env.Engine.DeleteGroup(g2.ID); err != nil {
		t.Fatal(err)
	}
	assertInvariant(t, env)
	if len(env.group(t, g1.ID).Linked) != 0 {
		t.Fatalf("g1 should be empty")
	}
}

func TestStateSurvivesReload(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGroup(t, "persisted")
	task := env.newTask(t, "t", g.ID)

	tasks := store.NewTasks(env.Adapter, nil)
	groups := store.NewGroups(env.Adapter, nil)
	if n, skipped := tasks.Load(); n != 1 || skipped != 0 {
		t.Fatalf("tasks loaded=%d skipped=%d", n, skipped)
	}
	if n, _ := groups.Load(); n != 1 {
		t.Fatalf("groups loaded=%d", n)
	}
	got, _ := tasks.Get(task.ID)
	if got.GroupRef != g.ID {
		t.Fatalf("reloaded task = %+v", got)
	}
	if v := engine.Verify(tasks, groups); len(v) != 0 {
		t.Fatalf("reloaded state violates invariant: %v", v)
	}
}

func TestVerifyAndRepair(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGroup(t, "g")
	linked := env.newTask(t, "linked", g.ID)

	// corrupt both directions behind the engine's back
	stray := domain.NewTask(domain.TaskInput{Title: "stray", Priority: domain.PriorityLow, GroupRef: g.ID}, env.Now)
	orphan := domain.NewTask(domain.TaskInput{Title: "orphan", Priority: domain.PriorityLow, GroupRef: "group_gone"}, env.Now)
	if err := env.Engine.Tasks.Add(stray); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Tasks.Add(orphan); err != nil {
		t.Fatal(err)
	}
	bad := env.group(t, g.ID)
	bad.Link("task_ghost")
	if err := env.Engine.Groups.Add(bad); err != nil {
		t.Fatal(err)
	}

	if v := engine.Verify(env.Engine.Tasks, env.Engine.Groups); len(v) != 3 {
		t.Fatalf("violations = %v", v)
	}
	found, err := env.Engine.Repair()
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("repair reported %v", found)
	}
	assertInvariant(t, env)
	got := env.group(t, g.ID).Linked
	if !got.Has(linked.ID) || !got.Has(stray.ID) || got.Has("task_ghost") {
		t.Fatalf("linked = %v", got.Sorted())
	}
	if env.task(t, orphan.ID).GroupRef != "" {
		t.Fatalf("orphan should be unassigned")
	}
}
