package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"veil/internal/config"
	"veil/internal/daemon"
	"veil/internal/detect"
	"veil/internal/orchestrator"
)

var (
	flagEngine    string
	flagThreshold float64
	flagEntities  []string
	flagLanguage  string
	flagLocal     bool
	flagFile      string
	flagTimeout   time.Duration
)

func init() {
	cmd := &cobra.Command{
		Use:   "analyze [text]",
		Short: "Detect and anonymize PII in text",
		Long:  "Analyze text with one engine or the hybrid of all loaded engines. Text comes from the arguments, --file, or stdin.",
		RunE:  runAnalyze,
	}
	rootCmd.AddCommand(cmd)

	cmd.Flags().StringVarP(&flagEngine, "engine", "e", detect.HybridName, "presidio|spacy|transformers|pattern|hybrid")
	cmd.Flags().Float64Var(&flagThreshold, "threshold", detect.DefaultThreshold, "minimum confidence (0-1)")
	cmd.Flags().StringSliceVar(&flagEntities, "entities", nil, "only report these entity types (comma-separated)")
	cmd.Flags().StringVar(&flagLanguage, "language", detect.DefaultLanguage, "text language")
	cmd.Flags().BoolVar(&flagLocal, "local", false, "load engines in-process instead of calling the daemon")
	cmd.Flags().StringVarP(&flagFile, "file", "f", "", "read text from file (- for stdin)")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 2*time.Minute, "overall request timeout")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	sel, err := detect.ParseSelector(flagEngine)
	if err != nil {
		return err
	}
	text, err := readInput(cmd.InOrStdin(), args, flagFile)
	if err != nil {
		return err
	}
	acfg := detect.DefaultConfig(sel)
	acfg.ConfidenceThreshold = flagThreshold
	acfg.Entities = flagEntities
	acfg.Language = flagLanguage

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	var res orchestrator.Result
	if flagLocal {
		res, err = analyzeLocal(ctx, cfg, text, acfg)
	} else {
		res, err = analyzeRemote(ctx, daemonURL(cfg), text, acfg)
	}
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res, flagJSON)
}

func analyzeLocal(ctx context.Context, cfg config.Config, text string, acfg detect.Config) (orchestrator.Result, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return orchestrator.Result{}, err
	}
	svc, err := daemon.Build(ctx, cfg, log)
	if err != nil {
		return orchestrator.Result{}, err
	}
	defer svc.Close()
	res, err := svc.Orchestrator.Analyze(ctx, text, acfg)
	if err != nil {
		return res, err
	}
	// match the daemon, which reports code-point spans
	res.Findings = detect.CodePointFindings(text, res.Findings)
	return res, nil
}

func analyzeRemote(ctx context.Context, base, text string, acfg detect.Config) (orchestrator.Result, error) {
	var res orchestrator.Result
	body := map[string]any{"text": text, "config": acfg}
	err := newClient(base, 0).post(ctx, "/analyze/"+acfg.Engine.String(), body, &res)
	return res, err
}

// readInput prefers positional arguments, then --file, then piped stdin.
func readInput(stdin io.Reader, args []string, file string) (string, error) {
	switch {
	case len(args) > 0:
		return strings.Join(args, " "), nil
	case file == "-":
		return readAll(stdin)
	case file != "":
		b, err := os.ReadFile(file)
		return string(b), err
	}
	if f, ok := stdin.(*os.File); ok && isTerminal(f) {
		return "", errors.New("no text given: pass it as an argument, with --file, or on stdin")
	}
	return readAll(stdin)
}

func readAll(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func printResult(w io.Writer, res orchestrator.Result, asJSON bool) error {
	if asJSON {
		return writeIndentedJSON(w, res)
	}
	fmt.Fprintln(w, res.AnonymizedText)
	fmt.Fprintln(w)
	if len(res.Findings) == 0 {
		fmt.Fprintf(w, "No findings (engine: %s)\n", res.ProcessingEngine)
		return nil
	}
	rows := make([][]string, 0, len(res.Findings))
	for _, f := range res.Findings {
		rows = append(rows, []string{
			f.EntityType,
			fmt.Sprintf("%d-%d", f.Start, f.End),
			fmt.Sprintf("%.2f", f.Score),
			f.Text,
		})
	}
	if err := renderTable(w, []string{"Type", "Span", "Score", "Text"}, rows); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d finding(s), engine: %s\n", len(res.Findings), res.ProcessingEngine)
	return nil
}
