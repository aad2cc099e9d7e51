package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slack-go/slack"

	"github.com/KafClaw/clienthub/internal/hub"
	"github.com/KafClaw/clienthub/internal/model"
)

const (
	focusLimit   = 10
	overdueLimit = 5
	triageLimit  = 10
)

type message struct {
	text   string
	blocks []slack.Block
}

func header(s string) slack.Block {
	return slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, s, false, false))
}

func section(md string) slack.Block {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, md, false, false), nil, nil)
}

func contextLine(md string) slack.Block {
	return slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, md, false, false))
}

var levelEmoji = map[string]string{
	"ok":      ":large_green_circle:",
	"warning": ":large_yellow_circle:",
	"danger":  ":red_circle:",
}

func morningMessage(d hub.Digest) message {
	v := d.Today
	date := v.Date
	day := date.At(model.TimeOfDay{}, nil).Format("Monday, January 2")

	stats := fmt.Sprintf("%d meetings · %d due today · %d overdue · %d pending",
		v.Meetings.Len(), v.DueToday.Len(), v.OverdueCount, v.PendingCount)
	capacity := fmt.Sprintf("%s Capacity %d/%d min (%s)",
		levelEmoji[string(v.CapacityLevel)], v.CapacityUsed, v.CapacityTotal, v.CapacityLevel)

	blocks := []slack.Block{
		header("Good morning, " + day),
		section(stats + "\n" + capacity),
	}

	meetings := append(append(append([]model.CalendarEvent{}, v.Meetings.Morning...), v.Meetings.Afternoon...), v.Meetings.Evening...)
	sort.SliceStable(meetings, func(i, j int) bool { return meetings[i].StartTime.Before(meetings[j].StartTime) })
	if len(meetings)+len(v.Meetings.AllDay) > 0 {
		var b strings.Builder
		b.WriteString("*Meetings*")
		for _, e := range v.Meetings.AllDay {
			fmt.Fprintf(&b, "\n• all day  %s", e.Title)
		}
		for _, e := range meetings {
			fmt.Fprintf(&b, "\n• %s  %s", e.StartTime.Format("15:04"), e.Title)
		}
		blocks = append(blocks, slack.NewDividerBlock(), section(b.String()))
	}

	focus := append(append(v.Overdue.All(), v.DueToday.All()...), v.Unscheduled.All()...)
	blocks = append(blocks, slack.NewDividerBlock())
	if len(focus) == 0 {
		blocks = append(blocks, section("*Focus*\n_No tasks for today_"))
	} else {
		blocks = append(blocks, section("*Focus*\n"+taskLines(focus, focusLimit, date)))
	}

	return message{
		text:   fmt.Sprintf("Good morning, %s. %s", day, stats),
		blocks: blocks,
	}
}

func eveningMessage(d hub.Digest) message {
	v := d.Today
	date := v.Date
	day := date.At(model.TimeOfDay{}, nil).Format("Monday, January 2")

	summary := fmt.Sprintf("%d completed today · %d still overdue", len(d.Completed), v.OverdueCount)
	blocks := []slack.Block{
		header("Evening wrap-up, " + day),
		section(summary),
	}
	if len(d.Completed) > 0 {
		var b strings.Builder
		b.WriteString("*Completed*")
		for i, t := range d.Completed {
			if i == focusLimit {
				fmt.Fprintf(&b, "\n_and %d more_", len(d.Completed)-focusLimit)
				break
			}
			fmt.Fprintf(&b, "\n• ~%s~%s", t.Title, clientSuffix(t))
		}
		blocks = append(blocks, slack.NewDividerBlock(), section(b.String()))
	}
	if v.Overdue.Len() > 0 {
		blocks = append(blocks, slack.NewDividerBlock(),
			section(fmt.Sprintf("*Overdue (%d)*\n", v.Overdue.Len())+taskLines(v.Overdue.All(), overdueLimit, date)))
	}
	if n := v.DueToday.Len(); n > 0 {
		blocks = append(blocks, contextLine(fmt.Sprintf("%d due today still open", n)))
	}
	return message{
		text:   fmt.Sprintf("Evening wrap-up, %s. %s", day, summary),
		blocks: blocks,
	}
}

func triageMessage(t hub.Triage) message {
	summary := fmt.Sprintf("%d possible duplicates · %d unmatched meetings · %d unmatched calls",
		len(t.Duplicates), len(t.UnmatchedEvents), len(t.UnmatchedCalls))
	blocks := []slack.Block{header("Triage"), section(summary)}

	if len(t.Duplicates) > 0 {
		var b strings.Builder
		b.WriteString("*Possible duplicates*")
		for i, task := range t.Duplicates {
			if i == triageLimit {
				fmt.Fprintf(&b, "\n_and %d more_", len(t.Duplicates)-triageLimit)
				break
			}
			fmt.Fprintf(&b, "\n• %s", task.Title)
			if task.DuplicateOf != "" {
				fmt.Fprintf(&b, " (similar to `%s`)", task.DuplicateOf)
			}
		}
		blocks = append(blocks, slack.NewDividerBlock(), section(b.String()))
	}
	if len(t.UnmatchedEvents) > 0 {
		var b strings.Builder
		b.WriteString("*Meetings without a client*")
		for i, e := range t.UnmatchedEvents {
			if i == triageLimit {
				fmt.Fprintf(&b, "\n_and %d more_", len(t.UnmatchedEvents)-triageLimit)
				break
			}
			fmt.Fprintf(&b, "\n• %s  %s", e.StartTime.Format("Jan 2 15:04"), e.Title)
		}
		blocks = append(blocks, slack.NewDividerBlock(), section(b.String()))
	}
	if len(t.UnmatchedCalls) > 0 {
		var b strings.Builder
		b.WriteString("*Calls without a client*")
		for i, c := range t.UnmatchedCalls {
			if i == triageLimit {
				fmt.Fprintf(&b, "\n_and %d more_", len(t.UnmatchedCalls)-triageLimit)
				break
			}
			fmt.Fprintf(&b, "\n• %s  %s", c.StartedAt.Format("Jan 2 15:04"), c.Title)
		}
		blocks = append(blocks, slack.NewDividerBlock(), section(b.String()))
	}
	return message{text: "Triage: " + summary, blocks: blocks}
}

func taskLines(list []model.Task, limit int, today model.Date) string {
	var b strings.Builder
	for i, t := range list {
		if i == limit {
			fmt.Fprintf(&b, "\n_and %d more_", len(list)-limit)
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "• `%s` %s%s", t.Priority, t.Title, clientSuffix(t))
		if t.DueDate != nil {
			switch {
			case t.DueDate.Before(today):
				fmt.Fprintf(&b, " · overdue %dd", today.Sub(*t.DueDate))
			case *t.DueDate == today:
				b.WriteString(" · due today")
			}
		}
		if t.EstimatedMinutes != nil {
			fmt.Fprintf(&b, " · %dm", *t.EstimatedMinutes)
		}
	}
	return b.String()
}

func clientSuffix(t model.Task) string {
	if t.Client != nil && t.Client.Name != "" {
		return " _" + t.Client.Name + "_"
	}
	return ""
}
