package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/ranking"
)

var (
	todayCmd = &cobra.Command{
		Use:   "today",
		Short: "Show the ranked Today view",
		RunE:  runToday,
	}

	rankCmd = &cobra.Command{
		Use:   "rank",
		Short: "Rank all open tasks",
		RunE:  runRank,
	}

	explainCmd = &cobra.Command{
		Use:   "explain <task-id>",
		Short: "Show how a task's score is built",
		Args:  cobra.ExactArgs(1),
		RunE:  runExplain,
	}
)

func init() {
	todayCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	rankCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	rankCmd.Flags().Int("limit", 20, "Maximum tasks to show (0 for all)")
	explainCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	rootCmd.AddCommand(todayCmd, rankCmd, explainCmd)
}

func runToday(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	view, err := s.hub.ComposeToday(ctx, s.hub.Now())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), view)
	}
	printToday(cmd.OutOrStdout(), view)
	return nil
}

func runRank(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	limit, _ := cmd.Flags().GetInt("limit")
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	scored, err := s.hub.RankOpen(commandContext(cmd))
	if err != nil {
		return err
	}
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), scored)
	}
	w := cmd.OutOrStdout()
	if len(scored) == 0 {
		fmt.Fprintln(w, "No open tasks.")
		return nil
	}
	for i, sc := range scored {
		fmt.Fprintf(w, "%3d. %7.1f  %s\n", i+1, sc.Score, taskLine(sc.Task))
	}
	return nil
}

func runExplain(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	b, err := s.hub.Explain(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), b)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Task %s  total %.1f\n", b.TaskID, b.Total)
	for _, c := range b.Components {
		fmt.Fprintf(w, "  %-14s %+7.1f  %s\n", c.Factor, c.Score, c.Reason)
	}
	return nil
}

var levelColor = map[ranking.Level]func(format string, a ...interface{}) string{
	ranking.LevelOK:      color.GreenString,
	ranking.LevelWarning: color.YellowString,
	ranking.LevelDanger:  color.RedString,
}

func printToday(w io.Writer, v ranking.TodayView) {
	fmt.Fprintln(w, color.CyanString("Today %s", v.Date))
	paint := levelColor[v.CapacityLevel]
	if paint == nil {
		paint = fmt.Sprintf
	}
	fmt.Fprintln(w, paint("Capacity %d/%d min (%.0f%%, %s)", v.CapacityUsed, v.CapacityTotal, v.CapacityRatio*100, v.CapacityLevel))
	fmt.Fprintf(w, "Meetings %d (%d min) · overdue %d · pending %d\n", v.Meetings.Len(), v.MeetingMinutes, v.OverdueCount, v.PendingCount)

	printMeetings(w, v.Meetings)
	printSection(w, "Overdue", v.Overdue, color.RedString)
	printSection(w, "Due today", v.DueToday, color.YellowString)
	printSection(w, "Unscheduled", v.Unscheduled, fmt.Sprintf)
	printSection(w, "Upcoming", v.Upcoming, color.HiBlackString)
}

func printMeetings(w io.Writer, m ranking.Meetings) {
	if m.Len() == 0 {
		return
	}
	fmt.Fprintln(w, "\nMeetings")
	for _, e := range m.AllDay {
		fmt.Fprintf(w, "  all day  %s\n", e.Title)
	}
	for _, list := range [][]model.CalendarEvent{m.Morning, m.Afternoon, m.Evening} {
		for _, e := range list {
			fmt.Fprintf(w, "  %s    %s (%dm)%s\n", e.StartTime.Format("15:04"), e.Title, e.Minutes(), clientTag(e.ClientID))
		}
	}
}

func printSection(w io.Writer, title string, s ranking.Section, paint func(string, ...interface{}) string) {
	if s.Len() == 0 {
		return
	}
	fmt.Fprintln(w, "\n"+paint("%s (%d)", title, s.Len()))
	buckets := []struct {
		name  string
		tasks []model.Task
	}{
		{"morning", s.Morning},
		{"afternoon", s.Afternoon},
		{"evening", s.Evening},
		{"", s.None},
	}
	for _, b := range buckets {
		if len(b.tasks) == 0 {
			continue
		}
		if b.name != "" {
			fmt.Fprintf(w, "  [%s]\n", b.name)
		}
		for _, t := range b.tasks {
			fmt.Fprintf(w, "  - %s\n", taskLine(t))
		}
	}
}

func taskLine(t model.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", t.Priority, t.Title)
	if t.Client != nil {
		b.WriteString(color.MagentaString(" @%s", t.Client.Name))
	}
	if t.DueDate != nil {
		fmt.Fprintf(&b, " due %s", t.DueDate)
	}
	if t.EstimatedMinutes != nil {
		fmt.Fprintf(&b, " %dm", *t.EstimatedMinutes)
	}
	if t.PinnedToday {
		b.WriteString(" (pinned)")
	}
	if t.Status != model.StatusNotStarted {
		fmt.Fprintf(&b, " {%s}", t.Status)
	}
	fmt.Fprintf(&b, "  %s", color.HiBlackString(t.ID))
	return b.String()
}

func clientTag(id string) string {
	if id == "" {
		return ""
	}
	return color.MagentaString(" @%s", id)
}
