package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/config"
	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/master"
	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(titles ...string) table.Row {
	row := make(table.Row, 0, len(titles))
	for _, title := range titles {
		row = append(row, text.FgHiCyan.Sprint(title))
	}
	return row
}

func colorStatus(status registry.Status) string {
	switch status {
	case registry.StatusRunning:
		return text.FgGreen.Sprint(status)
	case registry.StatusError:
		return text.FgRed.Sprint(status)
	case registry.StatusStarting:
		return text.FgYellow.Sprint(status)
	}
	return text.FgHiBlack.Sprint(status)
}

func yesNo(ok bool) string {
	if ok {
		return text.FgGreen.Sprint("yes")
	}
	return text.FgRed.Sprint("no")
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}

func renderResult(result domain.OperationResult) {
	mark := text.FgGreen.Sprint("✓")
	if !result.Success {
		mark = text.FgRed.Sprint("✗")
	}
	fmt.Printf("%s %s", mark, result.Operation)
	if result.Environment != "" {
		fmt.Printf(" (%s)", result.Environment)
	}
	fmt.Printf(" in %v\n", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))

	if len(result.Phases) > 0 {
		t := newTable()
		t.AppendHeader(header("PHASE", "OK", "DURATION", "MESSAGE"))
		for _, p := range result.Phases {
			t.AppendRow(table.Row{p.Name, yesNo(p.Success), p.Duration.Round(time.Millisecond), p.Message})
		}
		t.Render()
	}

	renderData(result.Data)

	for _, w := range result.Warnings {
		fmt.Printf("%s %s\n", text.FgYellow.Sprint("warning:"), w)
	}
	for _, e := range result.Errors {
		fmt.Printf("%s %s\n", text.FgRed.Sprint("error:"), e)
	}
}

func renderData(data interface{}) {
	switch d := data.(type) {
	case *master.DeployReport:
		if d.Created {
			fmt.Println("Configuration created from template")
		}
		if d.Backup != nil {
			fmt.Printf("Backup: %s\n", d.Backup.BackupPath)
		}
		if d.Diff != nil {
			renderDiff(*d.Diff)
		}
		if len(d.Started) > 0 {
			fmt.Printf("Started: %s\n", strings.Join(d.Started, ", "))
		}
		if d.Health != nil {
			renderVerdicts(d.Health.Verdicts)
		}
	case *master.ServicesReport:
		if len(d.Services) > 0 {
			fmt.Printf("Services: %s\n", strings.Join(d.Services, ", "))
		}
		if d.Health != nil {
			renderVerdicts(d.Health.Verdicts)
		}
	case *master.RestoreReport:
		fmt.Printf("Restored: %s\n", d.Restored.BackupPath)
		if d.Backup != nil {
			fmt.Printf("Previous configuration saved to: %s\n", d.Backup.BackupPath)
		}
		renderDiff(d.Diff)
	case config.DiffResult:
		renderDiff(d)
	case config.BackupHandle:
		t := newTable()
		t.AppendHeader(header("BACKUP", "SIZE", "CHECKSUM", "MANIFEST"))
		t.AppendRow(table.Row{d.BackupPath, d.FileSize, d.Checksum, d.ManifestPath})
		t.Render()
	case *master.CleanReport:
		t := newTable()
		t.AppendHeader(header("ITEM", "COUNT"))
		t.AppendRows([]table.Row{
			{"temporary files removed", len(d.TempFiles)},
			{"backups removed", len(d.RemovedBackups)},
			{"logs compressed", len(d.CompressedLogs)},
			{"logs removed", len(d.RemovedLogs)},
			{"statistics records pruned", d.PrunedRecords},
		})
		t.Render()
	case *master.MonitorReport:
		fmt.Printf("Cycles: %d, checks: %d, failures: %d\n", d.Cycles, d.Checks, d.Failures)
	case registry.ServiceDescriptor:
		renderServices([]registry.ServiceDescriptor{d})
	}
}

func renderDiff(diff config.DiffResult) {
	if diff.IsEmpty() {
		fmt.Println("No differences")
		return
	}
	t := newTable()
	t.AppendHeader(header("CHANGE", "SERVICE", "FIELD", "OLD", "NEW"))
	for _, id := range diff.Added {
		t.AppendRow(table.Row{text.FgGreen.Sprint("added"), id, "", "", ""})
	}
	for _, id := range diff.Removed {
		t.AppendRow(table.Row{text.FgRed.Sprint("removed"), id, "", "", ""})
	}
	for _, change := range diff.Modified {
		t.AppendRow(table.Row{text.FgYellow.Sprint("modified"), change.ServiceID, change.Field, fmt.Sprint(change.Old), fmt.Sprint(change.New)})
	}
	t.Render()
}

func renderStatus(report domain.StatusReport) {
	if report.Lock != nil {
		fmt.Printf("%s %s\n", text.FgYellow.Sprint("locked:"), report.Lock.Holder())
	}

	t := newTable()
	t.AppendHeader(header("ID", "TYPE", "ADDRESS", "STATUS", "PID", "LAST SEEN", "RESTARTS", "UPTIME %", "AVG LATENCY"))
	for _, s := range report.Services {
		pid := "-"
		if s.PID > 0 {
			pid = fmt.Sprint(s.PID)
		}
		restarts := fmt.Sprint(s.Restart.RestartAttempts)
		if s.Restart.Exhausted {
			restarts += text.FgRed.Sprint(" (exhausted)")
		}
		uptime, latency := "-", "-"
		if s.Stats != nil && s.Stats.Checks > 0 {
			uptime = fmt.Sprintf("%.1f", float64(s.Stats.Checks-s.Stats.Failures)*100/float64(s.Stats.Checks))
			latency = s.Stats.AvgLatency.Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{
			s.ID, s.Type, fmt.Sprintf("%s:%d", s.Host, s.Port), colorStatus(s.Status),
			pid, since(s.LastSeen), restarts, uptime, latency,
		})
	}

	keys := make([]string, 0, len(report.Counts))
	for k := range report.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, report.Counts[k]))
	}
	t.AppendFooter(table.Row{strings.Join(parts, ", ")})
	t.Render()
}

func renderVerdicts(verdicts []monitoring.Verdict) {
	if len(verdicts) == 0 {
		fmt.Println(text.FgYellow.Sprint("No services to check"))
		return
	}
	t := newTable()
	t.AppendHeader(header("SERVICE", "HEALTHY", "LATENCY", "REASON", "MESSAGE"))
	for _, v := range verdicts {
		t.AppendRow(table.Row{v.ServiceID, yesNo(v.Healthy), v.Latency.Round(time.Millisecond), string(v.Reason), v.Message})
	}
	t.Render()
}

func renderServices(services []registry.ServiceDescriptor) {
	if len(services) == 0 {
		fmt.Println(text.FgYellow.Sprint("No services registered"))
		return
	}
	t := newTable()
	t.AppendHeader(header("ID", "NAME", "TYPE", "ADDRESS", "AUTO START", "POLICY", "MANAGED", "STATUS"))
	for _, s := range services {
		t.AppendRow(table.Row{
			s.ID, s.Name, s.Type, fmt.Sprintf("%s:%d", s.Host, s.Port),
			yesNo(s.AutoStart), s.RestartPolicy, yesNo(s.Command != ""), colorStatus(s.Status),
		})
	}
	t.Render()
}

func renderDiscovered(found []monitoring.DiscoveredService) {
	if len(found) == 0 {
		fmt.Println(text.FgYellow.Sprint("No unregistered services found"))
		return
	}
	t := newTable()
	t.AppendHeader(header("HOST", "PORT", "NAME", "TYPE", "VERSION"))
	for _, d := range found {
		t.AppendRow(table.Row{d.Host, d.Port, d.Name, d.Type, d.Version})
	}
	t.Render()
}
