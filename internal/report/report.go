package report

import (
	"strings"
	"time"
)

type StageMetric struct {
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	DurationMS int64              `json:"duration_ms"`
	Counters   map[string]float64 `json:"counters,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Report is what the presentation layer renders. A failed request still
// produces a Report with AppName and ErrorText set.
type Report struct {
	AppName     string        `json:"app_name"`
	Namespace   string        `json:"namespace,omitempty"`
	RequestID   string        `json:"request_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	ErrorLines  []string      `json:"error_lines"`
	Sources     []string      `json:"sources"`
	RCA         string        `json:"rca,omitempty"`
	NoErrors    bool          `json:"no_errors,omitempty"`
	ErrorText   string        `json:"error_text,omitempty"`
	Stages      []StageMetric `json:"stages,omitempty"`
}

type StageHandle struct {
	name    string
	started time.Time
}

// Failed reports whether the request ended in the degraded form.
func (r *Report) Failed() bool {
	return r.ErrorText != ""
}

func (r *Report) BeginStage(name string) StageHandle {
	return StageHandle{name: strings.TrimSpace(name), started: time.Now()}
}

func (r *Report) EndStage(h StageHandle, counters map[string]float64, err error) {
	if r == nil || h.name == "" {
		return
	}
	m := StageMetric{
		Name:       h.name,
		Status:     "ok",
		DurationMS: time.Since(h.started).Milliseconds(),
		Counters:   cleanCounters(counters),
	}
	if err != nil {
		m.Status = "error"
		m.Error = err.Error()
	}
	r.Stages = append(r.Stages, m)
}

func cleanCounters(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
