package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"veil/internal/config"
	"veil/internal/logging"
)

var (
	flagConfig string
	flagAddr   string
	flagJSON   bool

	version = "0.1.0"
)

// rootCmd is the base command for the veil CLI.
var rootCmd = &cobra.Command{
	Use:           "veil",
	Short:         "Detect and anonymize personal data in text",
	Long:          "veil runs PII detection engines (presidio, spacy, transformers, pattern) alone or as a hybrid and replaces what they find with entity placeholders.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Errors go to stderr with exit status 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.veil/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "daemon address (default: listen_addr from config)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit JSON")
}

func loadConfig() (config.Config, error) {
	path := flagConfig
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return config.Config{}, err
		}
		path = p
	}
	return config.Load(path)
}

// newLogger logs to stderr so command output on stdout stays parseable.
func newLogger(cfg config.Config) (zerolog.Logger, error) {
	return logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: os.Stderr})
}

// daemonURL resolves the base URL of a running veild.
func daemonURL(cfg config.Config) string {
	addr := flagAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + addr
}
