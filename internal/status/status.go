// Package status builds and persists the run summary.
package status

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"sort"
	"time"

	"stockfetch/internal/clock"
	"stockfetch/internal/export"
	"stockfetch/internal/health"
)

// Run and universe outcomes.
const (
	Success  = "success"
	Degraded = "degraded"
	Failed   = "failed"
)

// UniverseResult is the outcome of one universe pipeline.
type UniverseResult struct {
	Universe       string   `json:"universe"`
	Name           string   `json:"name"`
	Provider       string   `json:"provider"`
	Status         string   `json:"status"`
	File           string   `json:"file,omitempty"`
	LastTradingDay string   `json:"last_trading_day,omitempty"`
	Requested      int      `json:"requested"`
	Succeeded      int      `json:"succeeded"`
	FailedSymbols  []string `json:"failed_symbols"`
	Rows           int      `json:"rows"`
	Error          string   `json:"error,omitempty"`
	// Err is the pipeline error, if any. Written files are recorded in File.
	Err error `json:"-"`
}

func (r UniverseResult) outcome() string {
	switch {
	case r.Err != nil || r.File == "":
		return Failed
	case len(r.FailedSymbols) > 0:
		return Degraded
	default:
		return Success
	}
}

// ServiceRecord is a provider's health plus the rows it delivered.
type ServiceRecord struct {
	health.ServiceHealth
	Rows int `json:"rows"`
}

// Services maps each universe to its provider and each provider to its
// health. It marshals to a flat object: "<universe>_service" keys hold
// provider names, provider-name keys hold ServiceRecords.
type Services struct {
	Universe map[string]string
	Health   map[string]ServiceRecord
}

func (s Services) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Universe)+len(s.Health))
	for u, name := range s.Universe {
		m[u+"_service"] = name
	}
	for name, rec := range s.Health {
		m[name] = rec
	}
	return json.Marshal(m)
}

// DownloadStatus is the persisted run summary. It is overwritten each run.
type DownloadStatus struct {
	RunID           string                    `json:"run_id"`
	LastUpdate      time.Time                 `json:"last_update"`
	StartTime       time.Time                 `json:"start_time"`
	DurationSeconds float64                   `json:"duration_seconds"`
	TotalSymbols    int                       `json:"total_symbols"`
	Status          string                    `json:"status"`
	Services        Services                  `json:"services"`
	Universes       map[string]UniverseResult `json:"universes"`
}

// Build summarizes a run that started at start and ended at end.
// total_symbols counts symbols fetched successfully across universes.
// The run is failed when no universe produced a file, degraded when any
// universe failed or skipped symbols, and successful otherwise.
func Build(runID string, results []UniverseResult, healths []health.ServiceHealth, start, end time.Time) DownloadStatus {
	st := DownloadStatus{
		RunID:           runID,
		LastUpdate:      end.UTC(),
		StartTime:       start.UTC(),
		DurationSeconds: end.Sub(start).Seconds(),
		Services: Services{
			Universe: make(map[string]string, len(results)),
			Health:   make(map[string]ServiceRecord, len(healths)),
		},
		Universes: make(map[string]UniverseResult, len(results)),
	}

	rows := make(map[string]int)
	var written, degraded int
	for _, r := range results {
		r.Status = r.outcome()
		if r.Err != nil && r.Error == "" {
			r.Error = r.Err.Error()
		}
		if r.FailedSymbols == nil {
			r.FailedSymbols = []string{}
		}
		if r.Status != Failed {
			written++
		}
		if r.Status != Success {
			degraded++
		}
		st.TotalSymbols += r.Succeeded
		rows[r.Provider] += r.Rows
		st.Services.Universe[r.Universe] = r.Provider
		st.Universes[r.Universe] = r
	}
	for _, h := range healths {
		st.Services.Health[h.Provider] = ServiceRecord{ServiceHealth: h, Rows: rows[h.Provider]}
	}

	switch {
	case written == 0:
		st.Status = Failed
	case degraded > 0:
		st.Status = Degraded
	default:
		st.Status = Success
	}
	return st
}

//go:embed page.html.tmpl
var pageSource string

var page = template.Must(template.New("page").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.UTC().Format(time.RFC1123) },
}).Parse(pageSource))

// Reporter persists run summaries.
type Reporter struct {
	// Path is the status JSON file.
	Path string
	// PagePath, when set, receives a static HTML rendering of the status.
	PagePath string
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Report builds the status of a run that started at start and writes it.
// The returned status is valid even when writing fails.
func (r *Reporter) Report(runID string, results []UniverseResult, healths []health.ServiceHealth, start time.Time) (DownloadStatus, error) {
	clk := r.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st := Build(runID, results, healths, start, clk.Now())

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return st, fmt.Errorf("encode status: %w", err)
	}
	if err := export.WriteFileAtomic(r.Path, append(b, '\n')); err != nil {
		return st, err
	}

	if r.PagePath != "" {
		var buf bytes.Buffer
		if err := page.Execute(&buf, pageData(st)); err != nil {
			return st, fmt.Errorf("render status page: %w", err)
		}
		if err := export.WriteFileAtomic(r.PagePath, buf.Bytes()); err != nil {
			return st, err
		}
	}

	logger.Info("status written",
		"run_id", st.RunID,
		"status", st.Status,
		"total_symbols", st.TotalSymbols,
		"duration_seconds", st.DurationSeconds,
		"path", r.Path,
	)
	return st, nil
}

type pageView struct {
	DownloadStatus
	UniverseList []UniverseResult
	HealthList   []ServiceRecord
}

func pageData(st DownloadStatus) pageView {
	v := pageView{DownloadStatus: st}
	for _, u := range st.Universes {
		v.UniverseList = append(v.UniverseList, u)
	}
	sort.Slice(v.UniverseList, func(i, j int) bool { return v.UniverseList[i].Universe < v.UniverseList[j].Universe })
	for _, h := range st.Services.Health {
		v.HealthList = append(v.HealthList, h)
	}
	sort.Slice(v.HealthList, func(i, j int) bool { return v.HealthList[i].Provider < v.HealthList[j].Provider })
	return v
}
