package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/tasks"
)

var (
	taskCmd = &cobra.Command{
		Use:   "task",
		Short: "Create and update tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	taskCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a task or a recurring template",
		RunE:  runTaskCreate,
	}

	taskCompleteCmd = &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transitionTask(cmd, args[0], model.StatusCompleted)
		},
	}

	taskStatusCmd = &cobra.Command{
		Use:   "status <task-id> <NOT_STARTED|IN_PROGRESS|PENDING|COMPLETED>",
		Short: "Move a task to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transitionTask(cmd, args[0], model.TaskStatus(strings.ToUpper(args[1])))
		},
	}

	taskEditCmd = &cobra.Command{
		Use:   "edit <task-id>",
		Short: "Edit task fields; edited fields are protected from later ingests",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskEdit,
	}

	taskPinCmd = &cobra.Command{
		Use:   "pin <task-id>",
		Short: "Pin a task to today (use --off to unpin)",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskPin,
	}

	taskSubtaskCmd = &cobra.Command{
		Use:   "subtask <task-id> <title>",
		Short: "Add a subtask",
		Args:  cobra.ExactArgs(2),
		RunE:  runTaskSubtask,
	}
)

func init() {
	f := taskCreateCmd.Flags()
	f.String("title", "", "Task title")
	f.String("description", "", "Description")
	f.String("priority", "", "P0..P3 (default P2)")
	f.String("due", "", "Due date YYYY-MM-DD")
	f.String("due-time", "", "Due time HH:MM")
	f.String("timebox", "", "MORNING, AFTERNOON, EVENING or NONE")
	f.Int("estimate", -1, "Estimated minutes")
	f.String("client", "", "Client id")
	f.Bool("pin", false, "Pin to today")
	f.String("rule", "", "Recurrence rule, e.g. FREQ=WEEKLY;BYDAY=MO,TH")
	f.String("tz", "", "Recurrence time zone (default: settings time zone)")
	f.String("anchor", "", "Recurrence anchor date YYYY-MM-DD")
	f.String("end", "", "Recurrence end date YYYY-MM-DD")
	f.Bool("skip-weekends", false, "Shift weekend occurrences to Monday")
	f.StringSlice("subtask", nil, "Subtask title (repeatable)")
	f.Bool("json", false, "Output machine-readable JSON")

	e := taskEditCmd.Flags()
	e.String("title", "", "New title")
	e.String("description", "", "New description")
	e.String("priority", "", "New priority")
	e.String("due", "", "New due date YYYY-MM-DD")
	e.Bool("clear-due", false, "Remove the due date")
	e.String("due-time", "", "New due time HH:MM")
	e.String("timebox", "", "New timebox")
	e.Int("estimate", -1, "New estimate in minutes")
	e.String("client", "", "New client id")
	e.Bool("json", false, "Output machine-readable JSON")

	taskPinCmd.Flags().Bool("off", false, "Unpin")
	for _, c := range []*cobra.Command{taskCompleteCmd, taskStatusCmd, taskPinCmd, taskSubtaskCmd} {
		c.Flags().Bool("json", false, "Output machine-readable JSON")
	}

	taskCmd.AddCommand(taskCreateCmd, taskCompleteCmd, taskStatusCmd, taskEditCmd, taskPinCmd, taskSubtaskCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	n := tasks.NewTask{Actor: model.ActorManual}
	n.Title, _ = f.GetString("title")
	n.Description, _ = f.GetString("description")
	n.ClientID, _ = f.GetString("client")
	n.PinnedToday, _ = f.GetBool("pin")
	n.RecurrenceRule, _ = f.GetString("rule")
	n.RecurrenceTimezone, _ = f.GetString("tz")
	n.SkipWeekends, _ = f.GetBool("skip-weekends")
	n.Subtasks, _ = f.GetStringSlice("subtask")
	if p, _ := f.GetString("priority"); p != "" {
		n.Priority = model.Priority(strings.ToUpper(p))
	}
	if tb, _ := f.GetString("timebox"); tb != "" {
		n.TimeboxBucket = model.Timebox(strings.ToUpper(tb))
	}
	if m, _ := f.GetInt("estimate"); m >= 0 {
		n.EstimatedMinutes = &m
	}
	var err error
	if n.DueDate, err = dateFlag(cmd, "due"); err != nil {
		return err
	}
	if n.AnchorDate, err = dateFlag(cmd, "anchor"); err != nil {
		return err
	}
	if n.EndDate, err = dateFlag(cmd, "end"); err != nil {
		return err
	}
	if n.DueTime, err = clockFlag(cmd, "due-time"); err != nil {
		return err
	}

	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	t, err := s.hub.Tasks().Create(commandContext(cmd), n)
	if err != nil {
		return err
	}
	return printTask(cmd, t, "Created")
}

func transitionTask(cmd *cobra.Command, id string, to model.TaskStatus) error {
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	t, err := s.hub.Tasks().TransitionStatus(commandContext(cmd), id, to, model.ActorManual)
	if err != nil {
		return err
	}
	return printTask(cmd, t, "Updated")
}

func runTaskEdit(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	var p tasks.Patch
	if f.Changed("title") {
		v, _ := f.GetString("title")
		p.Title = &v
	}
	if f.Changed("description") {
		v, _ := f.GetString("description")
		p.Description = &v
	}
	if f.Changed("priority") {
		v, _ := f.GetString("priority")
		pr := model.Priority(strings.ToUpper(v))
		p.Priority = &pr
	}
	if f.Changed("timebox") {
		v, _ := f.GetString("timebox")
		tb := model.Timebox(strings.ToUpper(v))
		p.TimeboxBucket = &tb
	}
	if f.Changed("estimate") {
		v, _ := f.GetInt("estimate")
		p.EstimatedMinutes = &v
	}
	if f.Changed("client") {
		v, _ := f.GetString("client")
		p.ClientID = &v
	}
	p.ClearDueDate, _ = f.GetBool("clear-due")
	var err error
	if p.DueDate, err = dateFlag(cmd, "due"); err != nil {
		return err
	}
	if p.DueTime, err = clockFlag(cmd, "due-time"); err != nil {
		return err
	}

	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	t, err := s.hub.Tasks().Edit(commandContext(cmd), args[0], p)
	if err != nil {
		return err
	}
	return printTask(cmd, t, "Edited")
}

func runTaskPin(cmd *cobra.Command, args []string) error {
	off, _ := cmd.Flags().GetBool("off")
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	t, err := s.hub.Tasks().Pin(commandContext(cmd), args[0], !off)
	if err != nil {
		return err
	}
	if off {
		return printTask(cmd, t, "Unpinned")
	}
	return printTask(cmd, t, "Pinned")
}

func runTaskSubtask(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	st, err := s.hub.Tasks().AddSubtask(commandContext(cmd), args[0], args[1], model.ActorManual)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), st)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added subtask %s to %s\n", st.ID, args[0])
	return nil
}

func printTask(cmd *cobra.Command, t *model.Task, verb string) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), t)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, taskLine(*t))
	return nil
}

func dateFlag(cmd *cobra.Command, name string) (*model.Date, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return nil, nil
	}
	d, err := model.ParseDate(v)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &d, nil
}

func clockFlag(cmd *cobra.Command, name string) (*model.TimeOfDay, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return nil, nil
	}
	t, err := model.ParseTimeOfDay(v)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}
