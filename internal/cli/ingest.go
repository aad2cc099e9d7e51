package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KafClaw/clienthub/internal/hub"
	"github.com/KafClaw/clienthub/internal/ingest"
	"github.com/KafClaw/clienthub/internal/matcher"
)

var (
	ingestCmd = &cobra.Command{
		Use:   "ingest [file|-]",
		Short: "Ingest a JSON batch of task records",
		Long:  "Reads a JSON array of task records (or an object with a \"tasks\" array) from a file or stdin and reconciles it with stored tasks.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runIngest,
	}

	matchCmd = &cobra.Command{
		Use:   "match",
		Short: "Resolve participants and text to a client",
		RunE:  runMatch,
	}

	assignCmd = &cobra.Command{
		Use:   "assign <event|call> <id> <client-id>",
		Short: "Assign a meeting or call to a client by hand",
		Args:  cobra.ExactArgs(3),
		RunE:  runAssign,
	}

	unassignCmd = &cobra.Command{
		Use:   "unassign <event|call> <id>",
		Short: "Drop a manual assignment and match again",
		Args:  cobra.ExactArgs(2),
		RunE:  runUnassign,
	}

	triageCmd = &cobra.Command{
		Use:   "triage",
		Short: "List possible duplicates and unmatched meetings and calls",
		RunE:  runTriage,
	}

	tickCmd = &cobra.Command{
		Use:   "tick",
		Short: "Materialize due recurring occurrences once",
		RunE:  runTick,
	}
)

func init() {
	ingestCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	matchCmd.Flags().StringSlice("participant", nil, "Participant email (repeatable)")
	matchCmd.Flags().String("text", "", "Title or summary text for keyword rules")
	matchCmd.Flags().String("external-id", "", "Calendar event or call id for overrides")
	triageCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	tickCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	rootCmd.AddCommand(ingestCmd, matchCmd, assignCmd, unassignCmd, triageCmd, tickCmd)
}

// decodeRecords accepts a bare array or {"tasks": [...]}.
func decodeRecords(data []byte) ([]ingest.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	var records []ingest.Record
	if data[0] == '{' {
		var wrapper struct {
			Tasks []ingest.Record `json:"tasks"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		records = wrapper.Tasks
	} else if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return records, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	records, err := decodeRecords(data)
	if err != nil {
		return err
	}

	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	results, err := s.hub.IngestBatch(commandContext(cmd), records)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), results)
	}
	w := cmd.OutOrStdout()
	counts := map[ingest.Status]int{}
	for _, r := range results {
		counts[r.Status]++
		line := fmt.Sprintf("%3d  %-16s %s", r.Index, r.Status, r.TaskID)
		if r.Reason != "" {
			line += "  " + r.Reason
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "created %d · updated %d · duplicates %d · failed %d\n",
		counts[ingest.StatusCreated], counts[ingest.StatusUpdated], counts[ingest.StatusDuplicateFlagged], counts[ingest.StatusFailed])
	return nil
}

func runMatch(cmd *cobra.Command, args []string) error {
	participants, _ := cmd.Flags().GetStringSlice("participant")
	text, _ := cmd.Flags().GetString("text")
	externalID, _ := cmd.Flags().GetString("external-id")

	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	res, err := s.hub.MatchClient(commandContext(cmd), matcher.Entity{
		ExternalID:   externalID,
		Participants: participants,
		Text:         text,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func parseKind(v string) (hub.Kind, error) {
	switch k := hub.Kind(strings.ToLower(v)); k {
	case hub.KindEvent, hub.KindCall:
		return k, nil
	}
	return "", fmt.Errorf("unknown kind %q (want event or call)", v)
}

func runAssign(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.hub.AssignClient(commandContext(cmd), kind, args[1], args[2]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Assigned %s %s to %s\n", kind, args[1], args[2])
	return nil
}

func runUnassign(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	res, err := s.hub.ClearManualAssignment(commandContext(cmd), kind, args[1])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runTriage(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	t, err := s.hub.Triage(commandContext(cmd))
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), t)
	}
	w := cmd.OutOrStdout()
	if t.Len() == 0 {
		fmt.Fprintln(w, "Nothing to triage.")
		return nil
	}
	for _, d := range t.Duplicates {
		fmt.Fprintf(w, "duplicate  %s  %s (similar to %s)\n", d.ID, d.Title, d.DuplicateOf)
	}
	for _, e := range t.UnmatchedEvents {
		fmt.Fprintf(w, "event      %s  %s  %s\n", e.ID, e.StartTime.Format("2006-01-02 15:04"), e.Title)
	}
	for _, c := range t.UnmatchedCalls {
		fmt.Fprintf(w, "call       %s  %s  %s\n", c.ID, c.StartedAt.Format("2006-01-02 15:04"), c.Title)
	}
	return nil
}

func runTick(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	ids, err := s.hub.MaterializeDueRecurrences(commandContext(cmd), s.hub.Now())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{"created": ids})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %d occurrence(s)\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
	}
	return nil
}
