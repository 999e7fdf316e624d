package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

type healthResponse struct {
	Status       string            `json:"status"`
	ModelsLoaded map[string]bool   `json:"models_loaded"`
	LoadErrors   map[string]string `json:"load_errors,omitempty"`
	Timestamp    float64           `json:"timestamp"`
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Show daemon health and which engines loaded",
		RunE:  runHealth,
	})
}

func runHealth(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()

	var h healthResponse
	if err := newClient(daemonURL(cfg), 0).get(ctx, "/health", &h); err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", daemonURL(cfg), err)
	}
	out := cmd.OutOrStdout()
	if flagJSON {
		return writeIndentedJSON(out, h)
	}

	names := make([]string, 0, len(h.ModelsLoaded))
	for name := range h.ModelsLoaded {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		state := "unavailable"
		if h.ModelsLoaded[name] {
			state = "loaded"
		}
		rows = append(rows, []string{name, state, h.LoadErrors[name]})
	}
	fmt.Fprintf(out, "Status: %s\n", h.Status)
	return renderTable(out, []string{"Engine", "State", "Reason"}, rows)
}
