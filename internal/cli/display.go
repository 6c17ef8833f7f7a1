package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"escalarm/internal/api/handlers"
	"escalarm/internal/archive"
	"escalarm/internal/escalation"
	"escalarm/internal/scheduler"
)

// levelColors follow the ladder from calm to alarming (ANSI 256).
var levelColors = map[escalation.Level]lipgloss.Color{
	escalation.LevelGentle:     lipgloss.Color("42"),
	escalation.LevelPersistent: lipgloss.Color("220"),
	escalation.LevelUrgent:     lipgloss.Color("208"),
	escalation.LevelCritical:   lipgloss.Color("196"),
	escalation.LevelEmergency:  lipgloss.Color("201"),
}

// styles binds lipgloss styles to one writer so colour is only emitted to
// terminals.
type styles struct {
	r      *lipgloss.Renderer
	header lipgloss.Style
	dim    lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		r:      r,
		header: r.NewStyle().Bold(true),
		dim:    r.NewStyle().Faint(true),
	}
}

func (s styles) level(l escalation.Level) string {
	st := s.r.NewStyle().Foreground(levelColors[l])
	if l >= escalation.LevelCritical {
		st = st.Bold(true)
	}
	return st.Render(levelLabel(l))
}

func levelLabel(l escalation.Level) string {
	return fmt.Sprintf("L%d %s", int(l), l.String())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// The styled column is always last so escape codes never skew alignment.
func renderAlarms(w io.Writer, alarms []handlers.AlarmView) error {
	st := newStyles(w)
	if len(alarms) == 0 {
		fmt.Fprintln(w, st.dim.Render("no live alarms"))
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTASK\tTITLE\tDUE\tSTATE\tOVERDUE\tLEVEL")
	for _, a := range alarms {
		overdue := "-"
		if a.OverdueMinutes > 0 {
			overdue = fmt.Sprintf("%dm", a.OverdueMinutes)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.TaskID, a.Title, a.DueDate.Format(time.RFC3339), a.State, overdue, st.level(a.Level))
	}
	return tw.Flush()
}

func renderAlarmDetail(w io.Writer, a handlers.AlarmView) error {
	st := newStyles(w)
	fmt.Fprintln(w, st.header.Render(a.Title))
	tw := newTable(w)
	fmt.Fprintf(tw, "id\t%s\n", a.ID)
	fmt.Fprintf(tw, "task\t%s\n", a.TaskID)
	fmt.Fprintf(tw, "due\t%s\n", a.DueDate.Format(time.RFC3339))
	fmt.Fprintf(tw, "state\t%s\n", a.State)
	fmt.Fprintf(tw, "snoozes\t%d\n", a.SnoozeCount)
	if a.SnoozeUntil != nil {
		fmt.Fprintf(tw, "snoozed until\t%s\n", a.SnoozeUntil.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "level\t%s\n", st.level(a.Level))
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(a.History) == 0 {
		return nil
	}
	fmt.Fprintln(w, st.header.Render("history"))
	for _, ev := range a.History {
		fmt.Fprintf(w, "  %s  %s -> %s\n", ev.Timestamp.Format(time.RFC3339), levelLabel(ev.FromLevel), st.level(ev.ToLevel))
	}
	return nil
}

func renderStatistics(w io.Writer, s escalation.Statistics) error {
	st := newStyles(w)
	tw := newTable(w)
	fmt.Fprintf(tw, "total\t%d\n", s.Total)
	fmt.Fprintf(tw, "overdue\t%d\n", s.Overdue)
	fmt.Fprintf(tw, "snoozed\t%d\n", s.Snoozed)
	fmt.Fprintf(tw, "escalated\t%d\n", s.Escalated)
	fmt.Fprintf(tw, "average level\t%.2f\n", s.AverageLevel)
	fmt.Fprintf(tw, "urgency\t%s\n", st.header.Render(s.Urgency))
	return tw.Flush()
}

func renderLadder(w io.Writer, rungs []escalation.Rung) error {
	st := newStyles(w)
	tw := newTable(w)
	fmt.Fprintln(tw, "DELAY\tINTERVAL\tINTENSITY\tLEVEL")
	for _, r := range rungs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Delay, r.Interval, r.Intensity, st.level(r.Level))
	}
	return tw.Flush()
}

func renderPending(w io.Writer, p handlers.PendingResponse) error {
	st := newStyles(w)
	fmt.Fprintf(w, "%s pending\n", st.header.Render(fmt.Sprint(p.Count)))
	if len(p.Requests) == 0 {
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "IDENTIFIER\tFIRES\tTITLE\tLEVEL")
	for _, r := range p.Requests {
		fires := "now"
		if !r.Trigger.Immediate {
			fires = r.Trigger.At.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Identifier, fires, r.Title, st.level(r.Payload.Level))
	}
	return tw.Flush()
}

func renderAdvisories(w io.Writer, advs []scheduler.Advisory) error {
	st := newStyles(w)
	if len(advs) == 0 {
		fmt.Fprintln(w, st.dim.Render("no advisories"))
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "AT\tALARM\tOPERATION\tCODE\tMESSAGE")
	for _, a := range advs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.At.Format(time.RFC3339), a.AlarmID, a.Operation, a.Code, a.Message)
	}
	return tw.Flush()
}

func renderHistory(w io.Writer, recs []archive.Record) error {
	st := newStyles(w)
	if len(recs) == 0 {
		fmt.Fprintln(w, st.dim.Render("no archived alarms"))
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ARCHIVED\tID\tTITLE\tREASON\tESCALATIONS\tFINAL LEVEL")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ArchivedAt.Format(time.RFC3339), r.Alarm.ID, r.Alarm.Title, r.Reason, len(r.Alarm.History), st.level(r.Alarm.Level))
	}
	return tw.Flush()
}
