package daemon

import (
	"bytes"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"time"

	"git.home.luguber.info/inful/dbdepot/internal/audit"
	"git.home.luguber.info/inful/dbdepot/internal/eventstore"
	"git.home.luguber.info/inful/dbdepot/internal/logfields"
	"git.home.luguber.info/inful/dbdepot/internal/metrics"
	"git.home.luguber.info/inful/dbdepot/internal/version"
)

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metricsHandler)
	mux.HandleFunc("/healthz", d.handleHealthz)
	mux.HandleFunc("/status", d.handleStatus)
	mux.HandleFunc("/api/runs", d.handleRuns)
	mux.HandleFunc("/api/audit/trigger", d.handleTrigger)
	return mux
}

type healthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version"`
	Uptime  string         `json:"uptime"`
	LastRun *healthLastRun `json:"last_run,omitempty"`
}

type healthLastRun struct {
	ID         string    `json:"id"`
	Result     string    `json:"result"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// handleHealthz reports liveness plus a one-line view of the last run.
// The process answering at all is the liveness signal, so the status
// code stays 200; "degraded" in the body flags a failed last run.
func (d *Daemon) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	d.mu.RLock()
	res := d.lastResult
	lastErr := d.lastErr
	d.mu.RUnlock()

	health := healthResponse{
		Status:  string(d.GetStatus()),
		Version: version.Version,
		Uptime:  time.Since(d.startTime).Round(time.Second).String(),
	}
	if lastErr != nil {
		health.Status = "degraded"
		health.LastRun = &healthLastRun{Result: string(metrics.ResultFailed), Error: lastErr.Error()}
	} else if res != nil {
		label := metrics.ResultSuccess
		if !res.Clean() {
			label = metrics.ResultWarning
		}
		health.LastRun = &healthLastRun{
			ID:         res.RunID,
			Result:     string(label),
			FinishedAt: res.StartedAt.Add(res.Duration),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		d.logger.Error("encoding health response failed", logfields.Error(err))
	}
}

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>dbdepot status</title>
<style>
body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; margin: 2em auto; max-width: 60em; color: #222; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #ddd; padding: 6px 12px; text-align: left; }
th { background: #f5f5f5; }
.meta { color: #666; font-size: 14px; }
.error { color: #b00020; }
</style>
</head>
<body>
<p class="meta">dbdepot {{.Version}} &middot; {{.Status}} &middot; up {{.Uptime}}{{if .Commit}} &middot; state {{.Commit}}{{end}}</p>
{{if .LastError}}<p class="error">last run failed: {{.LastError}}</p>{{end}}
{{.Report}}
</body>
</html>
`))

type statusPageData struct {
	Version   string
	Status    Status
	Uptime    string
	Commit    string
	LastError string
	Report    template.HTML
}

// handleStatus serves the latest audit report: HTML by default, raw
// markdown with ?format=markdown, the machine report with ?format=json
// or an application/json Accept header.
func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	res := d.lastResult
	lastErr := d.lastErr
	commit := d.stateCommit
	d.mu.RUnlock()

	switch {
	case r.URL.Query().Get("format") == "json" || r.Header.Get("Accept") == "application/json":
		w.Header().Set("Content-Type", "application/json")
		if res == nil {
			_, _ = io.WriteString(w, `{"status":"pending"}`+"\n")
			return
		}
		data, err := audit.EncodeJSON(res)
		if err != nil {
			http.Error(w, "encoding report failed", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(data)
		return

	case r.URL.Query().Get("format") == "markdown":
		if res == nil {
			http.Error(w, "no audit has completed yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, audit.RenderMarkdown(res))
		return
	}

	report := template.HTML("<p>No audit has completed yet.</p>")
	if res != nil {
		var buf bytes.Buffer
		if err := d.markdown.Convert([]byte(audit.RenderMarkdown(res)), &buf); err != nil {
			http.Error(w, "rendering report failed", http.StatusInternalServerError)
			return
		}
		// Goldmark's default renderer escapes raw HTML, so report content
		// derived from release names cannot inject markup here.
		report = template.HTML(buf.String())
	}

	data := statusPageData{
		Version: version.Version,
		Status:  d.GetStatus(),
		Uptime:  time.Since(d.startTime).Round(time.Second).String(),
		Commit:  commit,
		Report:  report,
	}
	if lastErr != nil {
		data.LastError = lastErr.Error()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		d.logger.Error("rendering status page failed", logfields.Error(err))
	}
}

type runJSON struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	StateCommit string          `json:"state_commit,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	DurationMS  float64         `json:"duration_ms"`
	Result      string          `json:"result"`
	Summary     string          `json:"summary"`
	Detail      json.RawMessage `json:"detail,omitempty"`
}

// handleRuns lists recent runs from history, newest first. ?kind= filters
// to audit or repair, ?limit= bounds the page.
func (d *Daemon) handleRuns(w http.ResponseWriter, r *http.Request) {
	if d.store == nil {
		http.Error(w, "run history not enabled", http.StatusNotFound)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	var (
		runs []eventstore.Run
		err  error
	)
	if kind := r.URL.Query().Get("kind"); kind != "" {
		runs, err = d.store.RunsByKind(r.Context(), kind, limit)
	} else {
		runs, err = d.store.RecentRuns(r.Context(), limit)
	}
	if err != nil {
		d.logger.Error("listing run history failed", logfields.Error(err))
		http.Error(w, "listing run history failed", http.StatusInternalServerError)
		return
	}

	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		entry := runJSON{
			ID:          run.ID,
			Kind:        run.Kind,
			StateCommit: run.StateCommit,
			StartedAt:   run.StartedAt,
			FinishedAt:  run.FinishedAt,
			DurationMS:  float64(run.Duration().Milliseconds()),
			Result:      run.Result,
			Summary:     run.Summary,
		}
		if len(run.Detail) > 0 {
			entry.Detail = json.RawMessage(run.Detail)
		}
		out = append(out, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		d.logger.Error("encoding run history failed", logfields.Error(err))
	}
}

// handleTrigger queues a manual run.
func (d *Daemon) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d.Trigger("manual")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, `{"queued":true}`+"\n")
}
