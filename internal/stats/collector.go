package stats

import (
	"sort"
	"strings"
	"time"

	"veil/internal/audit"
)

type Stats struct {
	Status        string          `json:"status"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Requests      RequestStats    `json:"requests"`
	Findings      FindingStats    `json:"findings"`
	Latency       LatencyStats    `json:"latency"`
	Engines       []EngineStats   `json:"engines"`
	Recent        []RecentRequest `json:"recent,omitempty"`
}

type RequestStats struct {
	Total       int     `json:"total"`
	Failed      int     `json:"failed"`
	PerMinute   float64 `json:"per_minute"`
	Last5Minute []int   `json:"last_5_minute"`
}

type FindingStats struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}

type LatencyStats struct {
	DetectMs float64 `json:"detect_ms"`
	TotalMs  float64 `json:"total_ms"`
}

// EngineStats counts requests per engine selector and how often an engine
// dropped out of a hybrid run.
type EngineStats struct {
	Engine         string `json:"engine"`
	Requests       int    `json:"requests"`
	Errors         int    `json:"errors"`
	HybridFailures int    `json:"hybrid_failures"`
}

type RecentRequest struct {
	Timestamp string         `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
	Engine    string         `json:"engine"`
	Status    string         `json:"status"`
	Findings  int            `json:"finding_count"`
	ByType    map[string]int `json:"findings_by_type,omitempty"`
	Failed    []string       `json:"failed_engines,omitempty"`
	DetectMs  float64        `json:"detect_ms"`
	TotalMs   float64        `json:"total_ms"`
}

type Options struct {
	Now     time.Time
	Status  string
	Uptime  time.Duration
	RecentN int
}

func CollectFromEntries(entries []audit.Entry, opts Options) Stats {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	recentN := opts.RecentN
	if recentN <= 0 {
		recentN = 20
	}

	out := Stats{
		Status:        opts.Status,
		UptimeSeconds: int64(opts.Uptime.Seconds()),
		Findings:      FindingStats{ByType: map[string]int{}},
		Requests:      RequestStats{Last5Minute: make([]int, 5)},
		Engines:       []EngineStats{},
	}
	if out.Status == "" {
		out.Status = "stopped"
	}

	engines := map[string]*EngineStats{}
	engine := func(name string) *EngineStats {
		es, ok := engines[name]
		if !ok {
			es = &EngineStats{Engine: name}
			engines[name] = es
		}
		return es
	}
	var detectSum, totalSum float64
	var detectCount, totalCount int
	recent := make([]RecentRequest, 0, len(entries))

	for _, e := range entries {
		out.Requests.Total++
		name := strings.TrimSpace(e.Engine)
		if name != "" {
			es := engine(name)
			es.Requests++
			if e.Status == audit.StatusError {
				es.Errors++
			}
		}
		if e.Status == audit.StatusError {
			out.Requests.Failed++
		}
		for _, failed := range e.FailedEngines {
			engine(failed).HybridFailures++
		}

		for typ, n := range e.FindingsByType {
			t := strings.ToUpper(strings.TrimSpace(typ))
			if t == "" || n <= 0 {
				continue
			}
			out.Findings.ByType[t] += n
		}
		out.Findings.Total += e.FindingCount

		if e.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
				delta := now.Sub(ts)
				if delta >= 0 && delta < 5*time.Minute {
					idx := int(delta / time.Minute)
					out.Requests.Last5Minute[4-idx]++
				}
			}
		}

		if e.DetectMs > 0 {
			detectSum += e.DetectMs
			detectCount++
		}
		if e.TotalMs > 0 {
			totalSum += e.TotalMs
			totalCount++
		}

		recent = append(recent, RecentRequest{
			Timestamp: e.Timestamp,
			RequestID: e.RequestID,
			Engine:    name,
			Status:    e.Status,
			Findings:  e.FindingCount,
			ByType:    e.FindingsByType,
			Failed:    e.FailedEngines,
			DetectMs:  e.DetectMs,
			TotalMs:   e.TotalMs,
		})
	}

	sum5 := 0
	for _, n := range out.Requests.Last5Minute {
		sum5 += n
	}
	out.Requests.PerMinute = float64(sum5) / 5

	if detectCount > 0 {
		out.Latency.DetectMs = detectSum / float64(detectCount)
	}
	if totalCount > 0 {
		out.Latency.TotalMs = totalSum / float64(totalCount)
	}

	for _, es := range engines {
		out.Engines = append(out.Engines, *es)
	}
	sort.Slice(out.Engines, func(i, j int) bool {
		if out.Engines[i].Requests == out.Engines[j].Requests {
			return out.Engines[i].Engine < out.Engines[j].Engine
		}
		return out.Engines[i].Requests > out.Engines[j].Requests
	})

	for i := len(recent) - 1; i >= 0 && len(out.Recent) < recentN; i-- {
		out.Recent = append(out.Recent, recent[i])
	}
	return out
}

// CollectFromFile reads an audit log and aggregates it.
func CollectFromFile(path string, opts Options) (Stats, error) {
	entries, err := audit.ParseFile(path)
	if err != nil {
		return Stats{}, err
	}
	return CollectFromEntries(entries, opts), nil
}
