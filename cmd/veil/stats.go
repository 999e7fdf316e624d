package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"veil/internal/stats"
)

var (
	flagWatch  bool
	flagRecent bool
	flagExport string
)

// statsSource is swapped in tests.
var statsSource = getStats

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show request statistics from the daemon or the audit log",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
	rootCmd.AddCommand(cmd)

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "refresh every 2s until interrupted")
	cmd.Flags().BoolVar(&flagRecent, "recent", false, "show recent requests")
	cmd.Flags().StringVar(&flagExport, "export", "", "export format: json|csv")
}

func runStats(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if !flagWatch {
		return renderStatsTo(cmd.Context(), out, flagRecent, flagExport)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	tty := flagExport == "" && isTerminal(os.Stdout)
	if tty {
		fmt.Fprint(out, "\033[?25l")
		defer fmt.Fprint(out, "\033[?25h")
	}
	return watchStatsLoop(cmd.Context(), out, tty, ticker.C, sigCh)
}

func watchStatsLoop(ctx context.Context, w io.Writer, clearScreen bool, ticks <-chan time.Time, stop <-chan os.Signal) error {
	for {
		var buf strings.Builder
		if err := renderStatsTo(ctx, &buf, flagRecent, flagExport); err != nil {
			return err
		}
		if clearScreen {
			fmt.Fprint(w, "\033[H\033[2J\033[3J")
		}
		fmt.Fprint(w, buf.String())
		select {
		case <-ticks:
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func renderStatsTo(ctx context.Context, w io.Writer, recent bool, export string) error {
	st, err := statsSource(ctx)
	if err != nil {
		return err
	}
	switch strings.ToLower(export) {
	case "":
		if recent {
			return printRecent(w, st)
		}
		return printSummary(w, st)
	case "json":
		return writeIndentedJSON(w, st)
	case "csv":
		if !recent {
			return fmt.Errorf("csv export requires --recent")
		}
		return exportRecentCSV(w, st.Recent)
	default:
		return fmt.Errorf("unsupported export format %q", export)
	}
}

// getStats asks the daemon first and falls back to reading the audit log.
func getStats(ctx context.Context) (stats.Stats, error) {
	cfg, err := loadConfig()
	if err != nil {
		return stats.Stats{}, err
	}
	var st stats.Stats
	if err := newClient(daemonURL(cfg), 700*time.Millisecond).get(ctx, "/api/stats", &st); err == nil {
		return st, nil
	}
	return stats.CollectFromFile(cfg.AuditLog, stats.Options{Now: time.Now().UTC(), Status: "stopped"})
}

func printSummary(w io.Writer, st stats.Stats) error {
	fmt.Fprintln(w, "Veil Statistics")
	if err := renderTable(w, []string{"Metric", "Value"}, [][]string{
		{"Status", st.Status},
		{"Uptime", (time.Duration(st.UptimeSeconds) * time.Second).String()},
		{"Requests", fmt.Sprintf("%d (%d failed, %.1f/min last 5m)", st.Requests.Total, st.Requests.Failed, st.Requests.PerMinute)},
		{"Latency avg", fmt.Sprintf("detect %.1fms | total %.1fms", st.Latency.DetectMs, st.Latency.TotalMs)},
		{"Findings", fmt.Sprintf("%d", st.Findings.Total)},
	}); err != nil {
		return err
	}

	if len(st.Findings.ByType) > 0 {
		fmt.Fprintln(w, "\nFindings by Type")
		types := make([]string, 0, len(st.Findings.ByType))
		for k := range st.Findings.ByType {
			types = append(types, k)
		}
		sort.Strings(types)
		rows := make([][]string, 0, len(types))
		for _, t := range types {
			v := st.Findings.ByType[t]
			rows = append(rows, []string{t, fmt.Sprintf("%d", v), bar(v, st.Findings.Total)})
		}
		if err := renderTable(w, []string{"Type", "Count", "Share"}, rows); err != nil {
			return err
		}
	}

	if len(st.Engines) > 0 {
		fmt.Fprintln(w, "\nEngines")
		rows := make([][]string, 0, len(st.Engines))
		for _, e := range st.Engines {
			rows = append(rows, []string{e.Engine, fmt.Sprintf("%d", e.Requests), fmt.Sprintf("%d", e.Errors), fmt.Sprintf("%d", e.HybridFailures)})
		}
		return renderTable(w, []string{"Engine", "Requests", "Errors", "Hybrid Failures"}, rows)
	}
	return nil
}

func printRecent(w io.Writer, st stats.Stats) error {
	fmt.Fprintf(w, "Recent Requests (last %d)\n", len(st.Recent))
	rows := make([][]string, 0, len(st.Recent))
	for _, r := range st.Recent {
		tm := r.Timestamp
		if ts, err := time.Parse(time.RFC3339Nano, r.Timestamp); err == nil {
			tm = ts.Format("15:04:05")
		}
		rows = append(rows, []string{tm, r.Engine, r.Status, findingsLabel(r.ByType), fmt.Sprintf("%.1fms", r.TotalMs)})
	}
	if err := renderTable(w, []string{"Time", "Engine", "Status", "Findings", "Latency"}, rows); err != nil {
		return err
	}
	fmt.Fprintf(w, "Showing %d of %d total requests\n", len(st.Recent), st.Requests.Total)
	return nil
}

func bar(v, total int) string {
	if total <= 0 {
		return ""
	}
	p := min(int(float64(v)/float64(total)*20), 20)
	return strings.Repeat("█", p) + strings.Repeat("░", 20-p)
}

func findingsLabel(byType map[string]int) string {
	if len(byType) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(byType))
	for t, c := range byType {
		parts = append(parts, fmt.Sprintf("%d %s", c, t))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func exportRecentCSV(w io.Writer, rows []stats.RecentRequest) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "request_id", "engine", "status", "finding_types", "finding_count", "failed_engines", "detect_ms", "total_ms"}); err != nil {
		return err
	}
	for _, r := range rows {
		types := make([]string, 0, len(r.ByType))
		for t := range r.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		if err := cw.Write([]string{
			r.Timestamp,
			r.RequestID,
			r.Engine,
			r.Status,
			strings.Join(types, "|"),
			fmt.Sprintf("%d", r.Findings),
			strings.Join(r.Failed, "|"),
			fmt.Sprintf("%.3f", r.DetectMs),
			fmt.Sprintf("%.3f", r.TotalMs),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
