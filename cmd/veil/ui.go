package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
)

const spinnerRate = 100 * time.Millisecond

// Spinner is the subset of spinner behaviour the commands use, so tests can
// swap in a no-op.
type Spinner interface {
	Start()
	Stop()
	UpdateSuffix(suffix string)
}

type realSpinner struct {
	s *spinner.Spinner
}

func (rs *realSpinner) Start() { rs.s.Start() }
func (rs *realSpinner) Stop() { rs.s.Stop() }
func (rs *realSpinner) UpdateSuffix(suffix string) {
	rs.s.Lock()
	rs.s.Suffix = suffix
	rs.s.Unlock()
}

type noopSpinner struct{}

func (noopSpinner) Start() {}
func (noopSpinner) Stop() {}
func (noopSpinner) UpdateSuffix(string) {}

// newSpinner draws on stderr, and only when stderr is a terminal.
var newSpinner = func(suffix string) Spinner {
	if !isTerminal(os.Stderr) {
		return noopSpinner{}
	}
	s := spinner.New(spinner.CharSets[11], spinnerRate, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	return &realSpinner{s}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// renderTable writes rows under header as a bordered table.
func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	h := make([]any, len(header))
	for i, c := range header {
		h[i] = c
	}
	table.Header(h...)
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return err
		}
	}
	return table.Render()
}

func humanBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	const mb = 1024 * 1024
	if n >= mb {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d KB", n/1024)
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
