package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"veil/internal/config"
	"veil/internal/daemon"
	"veil/internal/detect"
)

func init() {
	cmd := &cobra.Command{
		Use:   "benchmark [text]",
		Short: "Time every available engine on the same text",
		RunE:  runBenchmark,
	}
	rootCmd.AddCommand(cmd)

	cmd.Flags().BoolVar(&flagLocal, "local", false, "load engines in-process instead of calling the daemon")
	cmd.Flags().StringVarP(&flagFile, "file", "f", "", "read text from file (- for stdin)")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd.InOrStdin(), args, flagFile)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sp := newSpinner("benchmarking engines")
	sp.Start()
	var raw json.RawMessage
	if flagLocal {
		raw, err = benchmarkLocal(cmd.Context(), cfg, text)
	} else {
		err = newClient(daemonURL(cfg), 0).post(cmd.Context(), "/benchmark", map[string]string{"text": text}, &raw)
	}
	sp.Stop()
	if err != nil {
		return err
	}

	if flagJSON {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return err
	}
	return printBenchmark(cmd.OutOrStdout(), raw)
}

func benchmarkLocal(ctx context.Context, cfg config.Config, text string) (json.RawMessage, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := daemon.Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer svc.Close()
	return json.Marshal(svc.Benchmark.Run(ctx, text))
}

// printBenchmark renders the wire report as one row per engine. Engines that
// were not loaded have no time entry.
func printBenchmark(w io.Writer, raw json.RawMessage) error {
	var report struct {
		Performance map[string]json.RawMessage `json:"performance"`
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		return fmt.Errorf("parse benchmark report: %w", err)
	}
	var accuracy map[string]int
	if v, ok := report.Performance["accuracy_comparison"]; ok {
		if err := json.Unmarshal(v, &accuracy); err != nil {
			return fmt.Errorf("parse accuracy_comparison: %w", err)
		}
	}

	rows := make([][]string, 0, detect.KindCount)
	for _, k := range detect.Kinds() {
		name := k.String()
		timing := "not loaded"
		if v, ok := report.Performance[name+"_time"]; ok {
			var secs float64
			if err := json.Unmarshal(v, &secs); err != nil {
				return fmt.Errorf("parse %s_time: %w", name, err)
			}
			timing = "failed"
			if secs >= 0 {
				timing = fmt.Sprintf("%.3fs", secs)
			}
		}
		rows = append(rows, []string{name, timing, fmt.Sprintf("%d", accuracy[name+"_findings"])})
	}
	return renderTable(w, []string{"Engine", "Time", "Findings"}, rows)
}
