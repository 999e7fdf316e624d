package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"veil/internal/audit"
)

func TestCollectFromEntriesEmpty(t *testing.T) {
	st := CollectFromEntries(nil, Options{Now: time.Now(), Status: "stopped"})
	if st.Requests.Total != 0 || st.Findings.Total != 0 {
		t.Fatalf("unexpected totals: %+v", st)
	}
	if st.Engines == nil || st.Findings.ByType == nil {
		t.Fatal("empty stats must still encode as objects and arrays")
	}
}

func TestCollectFromEntriesLarge(t *testing.T) {
	now := time.Now().UTC()
	engines := []string{"presidio", "spacy", "hybrid"}
	entries := make([]audit.Entry, 0, 1200)
	for i := 0; i < 1200; i++ {
		e := audit.Entry{
			Timestamp:      now.Add(-time.Duration(i%8) * time.Minute).Format(time.RFC3339Nano),
			RequestID:      fmt.Sprintf("req-%d", i),
			Engine:         engines[i%3],
			Status:         audit.StatusOK,
			FindingCount:   1,
			FindingsByType: map[string]int{"email_address": 1},
			TotalMs:        100,
			DetectMs:       80,
		}
		if i%3 == 2 {
			e.FailedEngines = []string{"transformers"}
		}
		entries = append(entries, e)
	}
	st := CollectFromEntries(entries, Options{Now: now, Status: "running", RecentN: 10})
	if st.Requests.Total != 1200 {
		t.Fatalf("got total=%d", st.Requests.Total)
	}
	if st.Findings.ByType["EMAIL_ADDRESS"] != 1200 || st.Findings.Total != 1200 {
		t.Fatalf("unexpected findings: %+v", st.Findings)
	}
	if st.Latency.TotalMs != 100 || st.Latency.DetectMs != 80 {
		t.Fatalf("unexpected latency: %+v", st.Latency)
	}
	if len(st.Recent) != 10 || st.Recent[0].RequestID != "req-1199" {
		t.Fatalf("recent should be newest first, got %+v", st.Recent)
	}
	var transformers *EngineStats
	for i := range st.Engines {
		if st.Engines[i].Engine == "transformers" {
			transformers = &st.Engines[i]
		}
	}
	if transformers == nil || transformers.HybridFailures != 400 || transformers.Requests != 0 {
		t.Fatalf("unexpected transformers stats: %+v", transformers)
	}
	sum := 0
	for _, n := range st.Requests.Last5Minute {
		sum += n
	}
	if sum != 750 {
		t.Fatalf("expected 750 requests in the last five minutes, got %d", sum)
	}
}

func TestCollectCountsFailures(t *testing.T) {
	entries := []audit.Entry{
		{Engine: "spacy", Status: audit.StatusError, Error: "spacy not available"},
		{Engine: "spacy", Status: audit.StatusOK},
	}
	st := CollectFromEntries(entries, Options{})
	if st.Requests.Failed != 1 {
		t.Fatalf("failed=%d", st.Requests.Failed)
	}
	if len(st.Engines) != 1 || st.Engines[0].Errors != 1 || st.Engines[0].Requests != 2 {
		t.Fatalf("unexpected engines: %+v", st.Engines)
	}
}

func TestCollectFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "audit.log")
	body := `{"engine":"pattern","status":"ok","finding_count":3,"findings_by_type":{"EMAIL_ADDRESS":3}}` + "\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := CollectFromFile(p, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if st.Findings.Total != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
