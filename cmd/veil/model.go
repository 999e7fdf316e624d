package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"veil/internal/models"
)

var (
	flagModelsDir     string
	flagAll           bool
	flagURL           string
	flagChecksum      string
	flagAllowUnpinned bool
	flagYes           bool
)

func init() {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Manage transformers NER models",
	}
	modelCmd.PersistentFlags().StringVar(&flagModelsDir, "models-dir", "", "model install root (default ~/.veil/models)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog models and their install state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, root, err := modelEnv()
			if err != nil {
				return err
			}
			return modelList(cmd.OutOrStdout(), cat, root)
		},
	}
	info := &cobra.Command{
		Use:   "info <name>",
		Short: "Show details for one model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, root, err := modelEnv()
			if err != nil {
				return err
			}
			return modelInfo(cmd.OutOrStdout(), cat, root, args[0])
		},
	}
	download := &cobra.Command{
		Use:   "download [name]",
		Short: "Download and install a model",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runModelDownload,
	}
	download.Flags().BoolVar(&flagAll, "all", false, "download every recommended model")
	download.Flags().StringVar(&flagURL, "url", "", "archive URL (overrides the catalog)")
	download.Flags().StringVar(&flagChecksum, "checksum", "", "expected archive checksum, sha256:<hex>")
	download.Flags().BoolVar(&flagAllowUnpinned, "allow-unpinned", false, "install archives without a known checksum")
	verify := &cobra.Command{
		Use:   "verify [name...]",
		Short: "Check installed models against their install manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, root, err := modelEnv()
			if err != nil {
				return err
			}
			return modelVerify(cmd.OutOrStdout(), cat, root, args)
		},
	}
	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete an installed model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, root, err := modelEnv()
			if err != nil {
				return err
			}
			return modelRemove(cmd.OutOrStdout(), cmd.InOrStdin(), cat, root, args[0], flagYes)
		},
	}
	remove.Flags().BoolVarP(&flagYes, "yes", "y", false, "do not ask for confirmation")

	modelCmd.AddCommand(list, info, download, verify, remove)
	rootCmd.AddCommand(modelCmd)
}

func modelEnv() (models.Catalog, string, error) {
	cat, err := models.LoadCatalog()
	if err != nil {
		return models.Catalog{}, "", err
	}
	root := flagModelsDir
	if root == "" {
		root, err = models.DefaultModelsRoot()
		if err != nil {
			return models.Catalog{}, "", err
		}
	}
	return cat, root, nil
}

func modelList(w io.Writer, cat models.Catalog, root string) error {
	rows := make([][]string, 0, len(cat.Models))
	installed := 0
	var totalSize int64
	for _, m := range cat.Models {
		status := "not installed"
		if models.IsInstalled(root, m) {
			status = "installed"
			installed++
			totalSize += m.SizeBytes
		}
		name := m.Name
		if m.Recommended {
			name += " *"
		}
		rows = append(rows, []string{name, m.Language, humanBytes(m.SizeBytes), status, strings.Join(m.EntityTypes, ", ")})
	}
	if err := renderTable(w, []string{"Name", "Lang", "Size", "Status", "Types"}, rows); err != nil {
		return err
	}
	fmt.Fprintf(w, "Installed: %d/%d models (%s)\n", installed, len(cat.Models), humanBytes(totalSize))
	fmt.Fprintln(w, "* recommended. Use 'veil model download <name>' to install a model.")
	return nil
}

func modelInfo(w io.Writer, cat models.Catalog, root, name string) error {
	m, ok := cat.Find(name)
	if !ok {
		return fmt.Errorf("model %q not found", name)
	}
	status := "not installed"
	if models.IsInstalled(root, m) {
		status = "installed"
	}
	checksum := m.Checksum
	if checksum == "" {
		checksum = "(not pinned)"
	}
	url := m.URL
	if url == "" {
		url = "(none, use --url)"
	}
	fmt.Fprintf(w, "NER Model: %s\n", m.Name)
	return renderTable(w, []string{"Field", "Value"}, [][]string{
		{"Name", m.DisplayName},
		{"Status", status},
		{"Version", m.Version},
		{"Language", m.Language},
		{"Size", humanBytes(m.SizeBytes)},
		{"Location", models.InstallPath(root, m.Name)},
		{"Source", m.Source},
		{"Entity Types", strings.Join(m.EntityTypes, ", ")},
		{"Architecture", m.Architecture},
		{"License", m.License},
		{"URL", url},
		{"Checksum", checksum},
		{"Description", m.Description},
	})
}

func runModelDownload(cmd *cobra.Command, args []string) error {
	cat, root, err := modelEnv()
	if err != nil {
		return err
	}
	selected, err := selectModels(cat, args, flagAll)
	if err != nil {
		return err
	}
	if (flagURL != "" || flagChecksum != "") && len(selected) != 1 {
		return errors.New("--url and --checksum apply to a single model")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	dl := models.NewDownloader(log)
	dl.AllowUnpinned = flagAllowUnpinned
	out := cmd.OutOrStdout()
	for _, m := range selected {
		if flagURL != "" {
			m.URL = flagURL
		}
		if flagChecksum != "" {
			m.Checksum = flagChecksum
		}
		fmt.Fprintf(out, "Downloading %s %s\n", m.Name, m.Version)
		sp := newSpinner("connecting")
		sp.Start()
		last := time.Time{}
		err := dl.DownloadAndInstall(cmd.Context(), m, root, func(p models.Progress) {
			if time.Since(last) < spinnerRate && p.Downloaded != p.Total {
				return
			}
			last = time.Now()
			sp.UpdateSuffix(" " + progressLine(p))
		})
		sp.Stop()
		if errors.Is(err, models.ErrUnpinned) {
			return fmt.Errorf("%w; pass --checksum, or --allow-unpinned to accept the archive as served", err)
		}
		if err != nil {
			return err
		}
		rep := models.Verify(root, m)
		if !rep.OK() {
			return fmt.Errorf("model %s installed but failed verification: %s", m.Name, reportProblem(rep))
		}
		fmt.Fprintf(out, "Model %s installed at %s (%s)\n", m.Name, rep.Path, rep.Checksum)
	}
	return nil
}

func selectModels(cat models.Catalog, args []string, all bool) ([]models.ModelSpec, error) {
	if all {
		var out []models.ModelSpec
		for _, m := range cat.Models {
			if m.Recommended {
				out = append(out, m)
			}
		}
		return out, nil
	}
	if len(args) != 1 {
		return nil, errors.New("usage: veil model download <name> or veil model download --all")
	}
	m, ok := cat.Find(args[0])
	if !ok {
		return nil, fmt.Errorf("model %q not found", args[0])
	}
	return []models.ModelSpec{m}, nil
}

func progressLine(p models.Progress) string {
	if p.Total <= 0 {
		return fmt.Sprintf("%s | %.2f MB/s", humanBytes(p.Downloaded), p.SpeedMBps)
	}
	pct := float64(p.Downloaded) * 100 / float64(p.Total)
	return fmt.Sprintf("%6.2f%% | %s / %s | %.2f MB/s | ETA %s", pct, humanBytes(p.Downloaded), humanBytes(p.Total), p.SpeedMBps, p.ETA.Truncate(time.Second))
}

// modelVerify checks the named models, or every installed model when names is
// empty. It fails if any checked model does not verify.
func modelVerify(w io.Writer, cat models.Catalog, root string, names []string) error {
	var targets []models.ModelSpec
	if len(names) == 0 {
		for _, m := range cat.Models {
			if models.IsInstalled(root, m) {
				targets = append(targets, m)
			}
		}
	} else {
		for _, n := range names {
			m, ok := cat.Find(n)
			if !ok {
				return fmt.Errorf("model %q not found", n)
			}
			targets = append(targets, m)
		}
	}
	if len(targets) == 0 {
		fmt.Fprintln(w, "No installed models found")
		return nil
	}

	rows := make([][]string, 0, len(targets))
	failures := 0
	for _, m := range targets {
		rep := models.Verify(root, m)
		result := "ok"
		if !rep.OK() {
			failures++
			result = reportProblem(rep)
		}
		checksum := rep.Checksum
		if checksum == "" {
			checksum = "-"
		}
		rows = append(rows, []string{m.Name, checksum, result})
	}
	if err := renderTable(w, []string{"Model", "Checksum", "Result"}, rows); err != nil {
		return err
	}
	if failures > 0 {
		return fmt.Errorf("%d model(s) failed verification", failures)
	}
	return nil
}

func reportProblem(rep models.VerifyReport) string {
	if len(rep.Modified) > 0 {
		return "modified: " + strings.Join(rep.Modified, ", ")
	}
	return rep.Problem
}

func modelRemove(w io.Writer, in io.Reader, cat models.Catalog, root, name string, yes bool) error {
	m, ok := cat.Find(name)
	if !ok {
		return fmt.Errorf("model %q not found", name)
	}
	loc := models.InstallPath(root, m.Name)
	if _, err := os.Stat(loc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(w, "Model %s is not installed\n", name)
			return nil
		}
		return err
	}
	if !yes {
		fmt.Fprintf(w, "Remove model %s? This deletes %s\n", m.Name, loc)
		fmt.Fprint(w, "Continue? (y/N): ")
		resp, _ := bufio.NewReader(in).ReadString('\n')
		resp = strings.TrimSpace(strings.ToLower(resp))
		if resp != "y" && resp != "yes" {
			fmt.Fprintln(w, "Cancelled")
			return nil
		}
	}
	if err := os.RemoveAll(loc); err != nil {
		return err
	}
	fmt.Fprintf(w, "Model %s removed\n", m.Name)
	return nil
}
