package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/loykin/snapwatch/internal/backup"
	"github.com/loykin/snapwatch/internal/history"
	"github.com/loykin/snapwatch/internal/tracking"
	"github.com/loykin/snapwatch/pkg/client"
)

// now is replaced in tests to keep relative ages stable.
var now = time.Now

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Format.Footer = text.FormatDefault
	return tbl
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderEntries(w io.Writer, entries []client.Entry) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Process", "Running", "Pending", "Source", "Destination"})
	for _, e := range entries {
		tbl.AppendRow(table.Row{e.Process, yesNo(e.Running), yesNo(e.Pending), e.ResolvedSource, e.ResolvedDestination})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d entries", len(entries))})
	tbl.Render()
}

func renderBackups(w io.Writer, backups []client.Backup) {
	if len(backups) == 0 {
		_, _ = fmt.Fprintln(w, "No backups")
		return
	}
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Name", "Created", "Age", "Size"})
	var total int64
	for _, b := range backups {
		total += b.Size
		tbl.AppendRow(table.Row{
			b.Name,
			b.CreatedAt.Local().Format(time.DateTime),
			humanize.RelTime(b.CreatedAt, now(), "ago", "from now"),
			humanize.IBytes(uint64(max(b.Size, 0))),
		})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d backups", len(backups)), "", "", humanize.IBytes(uint64(max(total, 0)))})
	tbl.Render()
}

func renderHistory(w io.Writer, events []client.Event) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Time", "Process", "Event", "Backup", "Error"})
	for _, e := range events {
		tbl.AppendRow(table.Row{e.OccurredAt.Local().Format(time.DateTime), e.Process, e.Type, e.Backup, e.Error})
	}
	tbl.Render()
}

func renderProcesses(w io.Writer, names []string) {
	for _, n := range names {
		_, _ = fmt.Fprintln(w, n)
	}
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// Conversions from the in-process types to the API representation, so both
// local and remote commands render the same way.

func fromStatus(s tracking.Status) client.Entry {
	e := client.Entry{
		Process:             s.ProcessName,
		Source:              s.Source,
		Destination:         s.Destination,
		Running:             s.Running,
		ResolvedSource:      s.ResolvedSource,
		ResolvedDestination: s.ResolvedDestination,
		Pending:             s.Pending,
	}
	for _, d := range s.Detectors {
		e.Detectors = append(e.Detectors, client.Detector{Type: d.Type, Path: d.Path, PID: d.PID, Command: d.Command, Timeout: d.Timeout})
	}
	return e
}

func fromRecords(recs []backup.Record) []client.Backup {
	out := make([]client.Backup, len(recs))
	for i, r := range recs {
		out[i] = fromRecord(r)
	}
	return out
}

func fromRecord(r backup.Record) client.Backup {
	return client.Backup{Process: r.Process, Name: r.Name, CreatedAt: r.CreatedAt, Path: r.Path, Size: r.Size}
}

func fromEvents(evs []history.Event) []client.Event {
	out := make([]client.Event, len(evs))
	for i, e := range evs {
		out[i] = client.Event{
			ID:         e.ID,
			Type:       string(e.Type),
			OccurredAt: e.OccurredAt,
			Process:    e.Process,
			Source:     e.Source,
			Backup:     e.Backup,
			Error:      e.Error,
		}
	}
	return out
}
