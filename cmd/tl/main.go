package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"todoline/internal/app"
	"todoline/internal/config"
	"todoline/internal/db"
	"todoline/internal/domain"
	"todoline/internal/engine"
	"todoline/internal/filter"
	"todoline/internal/input"
	"todoline/internal/logging"
	"todoline/internal/migrate"
	"todoline/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Todoline CLI",
	Long: `Todoline keeps a local list of tasks, optionally sorted into groups.
- Tasks: a title, a priority (low/medium/high), an optional deadline, description and checklist.
- Groups: named buckets; a task belongs to at most one and the group always knows its members.
- Views: all open tasks, completed, due today, due this week, overdue, or one group.
- Event log: every change is journaled, view it with 'tl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TODOLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(countsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(configCmd())
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskEditCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskRemoveCmd())
	task.AddCommand(taskCheckCmd())
	task.AddCommand(taskShowCmd())
	return task
}

type taskFlags struct {
	priority, group, due, desc string
	items                      []string
}

func (f *taskFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&f.group, "group", "", "group id")
	cmd.Flags().StringVar(&f.due, "due", "", `deadline: 2024-06-01, 2024-06-01T17:00 or "next friday"`)
	cmd.Flags().StringVar(&f.desc, "desc", "", "description")
	cmd.Flags().StringArrayVar(&f.items, "check", nil, "checklist item (repeatable)")
}

func taskAddCmd() *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				group := f.group
				if group != "" {
					g, err := resolveGroup(a, group)
					if err != nil {
						return err
					}
					group = g.ID
				}
				t, err := a.Parser.Task(input.TaskForm{
					Title:       strings.Join(args, " "),
					Priority:    f.priority,
					Group:       group,
					Deadline:    f.due,
					Description: f.desc,
					NewItems:    f.items,
				}, a.Now())
				if err != nil {
					return err
				}
				if err := a.Engine.SubmitTask(t); err != nil {
					return err
				}
				return printTask(a, t.ID)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func taskEditCmd() *cobra.Command {
	var f taskFlags
	var title string
	var clearDue, clearChecklist bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := resolveTask(a, args[0])
				if err != nil {
					return err
				}
				form := input.FormFrom(t)
				flags := cmd.Flags()
				if flags.Changed("title") {
					form.Title = title
				}
				if flags.Changed("priority") {
					form.Priority = f.priority
				}
				if flags.Changed("group") {
					form.Group = ""
					if f.group != "" {
						g, err := resolveGroup(a, f.group)
						if err != nil {
							return err
						}
						form.Group = g.ID
					}
				}
				if flags.Changed("due") {
					form.Deadline = f.due
				}
				if clearDue {
					form.Deadline = ""
				}
				if flags.Changed("desc") {
					form.Description = f.desc
				}
				if clearChecklist {
					form.Checklist = nil
				}
				form.NewItems = f.items
				edited, err := a.Parser.Task(form, a.Now())
				if err != nil {
					return err
				}
				if err := a.Engine.SubmitTask(edited); err != nil {
					return err
				}
				return printTask(a, edited.ID)
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "remove the deadline")
	cmd.Flags().BoolVar(&clearChecklist, "clear-checklist", false, "remove the checklist")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "done <id>",
		Aliases: []string{"toggle"},
		Short:   "Toggle task completion",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := resolveTask(a, args[0])
				if err != nil {
					return err
				}
				if err := a.Engine.ToggleStatus(t.ID); err != nil {
					return err
				}
				return printTask(a, t.ID)
			})
		},
	}
	return cmd
}

func taskRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := resolveTask(a, args[0])
				if err != nil {
					return err
				}
				if err := a.Engine.DeleteTask(t.ID); err != nil {
					return err
				}
				return printResult(map[string]any{"deleted": t.ID}, "deleted "+t.ID)
			})
		},
	}
	return cmd
}

func taskCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <id> <item-id>",
		Short: "Tick off a checklist item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := resolveTask(a, args[0])
				if err != nil {
					return err
				}
				item := args[1]
				if !t.Checklist.Has(item) {
					for _, it := range t.Checklist {
						if strings.HasPrefix(it.ID, item) || it.Text == item {
							item = it.ID
							break
						}
					}
				}
				if err := a.Engine.ClickChecklist(t.ID, item); err != nil {
					return err
				}
				return printTask(a, t.ID)
			})
		},
	}
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := resolveTask(a, args[0])
				if err != nil {
					return err
				}
				return printTask(a, t.ID)
			})
		},
	}
	return cmd
}

func groupCmd() *cobra.Command {
	group := &cobra.Command{Use: "group", Short: "Manage groups"}
	group.AddCommand(groupAddCmd())
	group.AddCommand(groupRenameCmd())
	group.AddCommand(groupRemoveCmd())
	group.AddCommand(groupListCmd())
	return group
}

func groupAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create group",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := a.Parser.Group(input.GroupForm{Name: strings.Join(args, " ")})
				if err != nil {
					return err
				}
				if err := a.Engine.SubmitGroup(g); err != nil {
					return err
				}
				return printGroups(a, []domain.Group{g})
			})
		},
	}
	return cmd
}

func groupRenameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				prev, err := resolveGroup(a, args[0])
				if err != nil {
					return err
				}
				g, err := a.Parser.Group(input.GroupForm{Name: strings.Join(args[1:], " "), Previous: &prev})
				if err != nil {
					return err
				}
				if err := a.Engine.SubmitGroup(g); err != nil {
					return err
				}
				g, _ = a.Groups.Get(g.ID)
				return printGroups(a, []domain.Group{g})
			})
		},
	}
	return cmd
}

func groupRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete group; its tasks become unassigned",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := resolveGroup(a, args[0])
				if err != nil {
					return err
				}
				if err := a.Engine.DeleteGroup(g.ID); err != nil {
					return err
				}
				return printResult(map[string]any{"deleted": g.ID, "unassigned": g.Linked.Sorted()},
					fmt.Sprintf("deleted %s, unassigned %d task(s)", g.ID, len(g.Linked)))
			})
		},
	}
	return cmd
}

func groupListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List groups with their open task counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				groups := a.Groups.All()
				sort.SliceStable(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
				return printGroups(a, groups)
			})
		},
	}
	return cmd
}

func listCmd() *cobra.Command {
	var view, group string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tasks of a view",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if group != "" {
					g, err := resolveGroup(a, group)
					if err != nil {
						return err
					}
					group = g.ID
				}
				sel := a.Filter.Current()
				if view != "" || group != "" {
					var err error
					if sel, err = filter.ParseSelector(view, group); err != nil {
						return err
					}
					if err := a.Filter.Select(sel); err != nil {
						return err
					}
				}
				return printRows(a.Query.Visible(sel))
			})
		},
	}
	cmd.Flags().StringVar(&view, "view", "", "all, completed, today, week or overdue")
	cmd.Flags().StringVar(&group, "group", "", "group id")
	return cmd
}

func countsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Show task counts per view",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				counts := a.Query.Counts()
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"View", "Tasks"})
				for _, c := range filter.Criteria {
					tw.AppendRow(table.Row{c, counts[c]})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every event published while changing tasks and groups, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.DB == nil {
					return errors.New("event log unavailable: storage is disabled")
				}
				entries, err := a.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Payload"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, strings.TrimSpace(e.EntityKind + " " + e.EntityID), e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "task or group")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func doctorCmd() *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that tasks and groups agree on membership",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var found []engine.Violation
				var err error
				if repair {
					found, err = a.Engine.Repair()
				} else {
					found = engine.Verify(a.Tasks, a.Groups)
				}
				applied, latest, serr := schemaVersion(ctx, a)
				if serr != nil {
					return serr
				}
				if viper.GetBool("json") {
					if perr := printJSON(map[string]any{
						"violations": found,
						"repaired":   repair && err == nil,
						"schema":     applied,
						"latest":     latest,
					}); perr != nil {
						return perr
					}
					return err
				}
				fmt.Fprintf(stdout, "schema version %d of %d\n", applied, latest)
				if len(found) == 0 {
					fmt.Fprintln(stdout, "links OK")
					return err
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Task", "Group", "Problem"})
				for _, v := range found {
					tw.AppendRow(table.Row{v.TaskID, v.GroupID, v.Problem})
				}
				tw.Render()
				if repair && err == nil {
					fmt.Fprintf(stdout, "repaired %d problem(s)\n", len(found))
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "rebuild group membership from task references")
	return cmd
}

// schemaVersion reports the applied and known migration counts. A workspace
// without storage has nothing applied.
func schemaVersion(ctx context.Context, a *app.App) (applied, latest int, err error) {
	latest = migrate.Latest()
	if a.DB == nil {
		return 0, latest, nil
	}
	applied, err = migrate.Version(ctx, a.DB)
	if err != nil {
		return 0, latest, fmt.Errorf("read schema version: %w", err)
	}
	return applied, latest, nil
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in todoline.yml in the workspace: storage location, log rotation, view defaults and the default priority.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = stdout.Write(out)
			return err
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default todoline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return printResult(map[string]any{"path": path}, "wrote "+path)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	logger, closer := logging.New(workspace, cfg)
	defer closer.Close()
	a, err := app.Open(ctx, app.Options{Workspace: workspace, Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// resolveTask accepts a full id or an unambiguous prefix of one.
func resolveTask(a *app.App, ref string) (domain.Task, error) {
	ref = strings.TrimSpace(ref)
	if t, ok := a.Tasks.Get(ref); ok {
		return t, nil
	}
	var ids []string
	for _, t := range a.Tasks.All() {
		if strings.HasPrefix(t.ID, ref) || strings.HasPrefix(t.ID, domain.TaskPrefix+ref) {
			ids = append(ids, t.ID)
		}
	}
	id, err := unique("task", ref, ids)
	if err != nil {
		return domain.Task{}, err
	}
	t, _ := a.Tasks.Get(id)
	return t, nil
}

// resolveGroup accepts a full id, an unambiguous id prefix or an exact name.
func resolveGroup(a *app.App, ref string) (domain.Group, error) {
	ref = strings.TrimSpace(ref)
	if g, ok := a.Groups.Get(ref); ok {
		return g, nil
	}
	var ids []string
	for _, g := range a.Groups.All() {
		if g.Name == ref || strings.HasPrefix(g.ID, ref) || strings.HasPrefix(g.ID, domain.GroupPrefix+ref) {
			ids = append(ids, g.ID)
		}
	}
	id, err := unique("group", ref, ids)
	if err != nil {
		return domain.Group{}, err
	}
	g, _ := a.Groups.Get(id)
	return g, nil
}

func unique(kind, ref string, ids []string) (string, error) {
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%s %s: %w", kind, ref, engine.ErrNotFound)
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("%s %s is ambiguous: %s", kind, ref, strings.Join(ids, ", "))
}

type taskJSON struct {
	domain.TaskRecord
	GroupName string `json:"group_name,omitempty"`
}

func rowJSON(r filter.Row) taskJSON {
	return taskJSON{TaskRecord: r.Task.Record(), GroupName: r.GroupName}
}

func printTask(a *app.App, id string) error {
	t, ok := a.Tasks.Get(id)
	if !ok {
		return fmt.Errorf("task %s: %w", id, engine.ErrNotFound)
	}
	row := a.Query.Enrich(t)
	if viper.GetBool("json") {
		return printJSON(rowJSON(row))
	}
	tw := newTable()
	tw.AppendRow(table.Row{"ID", t.ID})
	tw.AppendRow(table.Row{"Title", t.Title})
	tw.AppendRow(table.Row{"Status", status(t)})
	tw.AppendRow(table.Row{"Priority", t.Priority})
	tw.AppendRow(table.Row{"Group", row.GroupName})
	tw.AppendRow(table.Row{"Due", due(t)})
	tw.AppendRow(table.Row{"Created", t.CreatedAt.Local().Format(time.DateTime)})
	if t.Description != "" {
		tw.AppendRow(table.Row{"Description", t.Description})
	}
	for _, it := range t.Checklist {
		tw.AppendRow(table.Row{"[ ] " + it.ID, it.Text})
	}
	tw.Render()
	return nil
}

func printRows(rows []filter.Row) error {
	if viper.GetBool("json") {
		out := make([]taskJSON, 0, len(rows))
		for _, r := range rows {
			out = append(out, rowJSON(r))
		}
		return printJSON(out)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Due", "Group", "Status"})
	for _, r := range rows {
		tw.AppendRow(table.Row{r.Task.ID, r.Task.Title, r.Task.Priority, due(r.Task), r.GroupName, status(r.Task)})
	}
	tw.Render()
	return nil
}

func printGroups(a *app.App, groups []domain.Group) error {
	type groupJSON struct {
		domain.GroupRecord
		Active int `json:"active"`
	}
	if viper.GetBool("json") {
		out := make([]groupJSON, 0, len(groups))
		for _, g := range groups {
			out = append(out, groupJSON{GroupRecord: g.Record(), Active: a.Query.ActiveInGroup(g.ID)})
		}
		return printJSON(out)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Name", "Tasks", "Open"})
	for _, g := range groups {
		tw.AppendRow(table.Row{g.ID, g.Name, len(g.Linked), a.Query.ActiveInGroup(g.ID)})
	}
	tw.Render()
	return nil
}

func status(t domain.Task) string {
	if t.Completed {
		return "done"
	}
	return "open"
}

func due(t domain.Task) string {
	if t.Deadline == nil {
		return ""
	}
	return t.Deadline.Local().Format("2006-01-02 15:04")
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(stdout)
	return tw
}

var stdout io.Writer = os.Stdout

func printResult(v any, human string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Fprintln(stdout, human)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
