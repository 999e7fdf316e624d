package audit

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestParseFileEmpty(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, "audit.log")
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := ParseFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected 0 entries, got %d", len(entries))
	}
}

func TestParseFileMissing(t *testing.T) {
	entries, err := ParseFile(filepath.Join(t.TempDir(), "nope.log"))
	if err != nil || entries != nil {
		t.Fatalf("missing file should read as empty, got %v %v", entries, err)
	}
}

func TestLogAndParseRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "audit.log")
	l, err := NewJSONLLogger(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Log(Entry{Engine: "hybrid", Mode: ModeHybrid, Status: StatusOK, FindingCount: 2,
		FindingsByType: map[string]int{"PERSON": 2}, FailedEngines: []string{"spacy"}, TextHash: "abc", TextLength: 12}); err != nil {
		t.Fatal(err)
	}
	if err := l.Log(Entry{Engine: "spacy", Mode: ModeSingle, Status: StatusError, Error: "spacy not available"}); err != nil {
		t.Fatal(err)
	}

	entries, err := ParseFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Timestamp == "" {
		t.Fatal("timestamp must be set")
	}
	if entries[0].FindingsByType["PERSON"] != 2 || entries[0].FailedEngines[0] != "spacy" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if entries[1].Status != StatusError {
		t.Fatalf("unexpected entry %+v", entries[1])
	}
}

func TestParseFileSkipsMalformedLines(t *testing.T) {
	p := filepath.Join(t.TempDir(), "audit.log")
	body := strings.Join([]string{
		`{"engine":"presidio","status":"ok"}`,
		`not json`,
		`{"engine":"pattern","status":"ok"}`,
	}, "\n")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := ParseFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestConcurrentLogging(t *testing.T) {
	p := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewJSONLLogger(p)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Log(Entry{Engine: "pattern", Status: StatusOK})
		}()
	}
	wg.Wait()
	entries, err := ParseFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 50 {
		t.Fatalf("expected 50 entries, got %d", len(entries))
	}
}

func TestParseCountsSkippedLines(t *testing.T) {
	in := strings.Join([]string{
		`{"engine":"hybrid","status":"ok"}`,
		``,
		`{"status":"ok"}`,
		`{"engine":`,
		`  {"engine":"spacy","status":"error"}  `,
	}, "\n")
	entries, skipped, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || skipped != 2 {
		t.Fatalf("got %d entries, %d skipped", len(entries), skipped)
	}
	if entries[1].Engine != "spacy" {
		t.Fatalf("unexpected entry %+v", entries[1])
	}
}
