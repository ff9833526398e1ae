// Package probe performs ad-hoc reachability checks against the third-party
// APIs the bot depends on. Probes are diagnostics: their output is captured,
// not parsed, and a failing probe never stops anything.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"botminder/internal/envset"
)

// DefaultTimeout bounds a single probe request.
const DefaultTimeout = 10 * time.Second

// DefaultInterval is the watch-loop period in seconds (once a day).
const DefaultInterval = 86400

// maxDetailLen caps the response snippet kept per probe.
const maxDetailLen = 256

// Target is one endpoint to check.
type Target struct {
	Name    string
	URL     string
	Timeout time.Duration
}

// Result is the captured outcome of probing one target.
type Result struct {
	Target     string    `json:"target"`
	OK         bool      `json:"ok"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Report is the machine-readable shape emitted by --json.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Healthy   bool      `json:"healthy"`
	Results   []Result  `json:"results"`
}

// BuiltinTargets returns probes for the APIs whose keys resolved, always
// including Telegram since the token is required configuration.
func BuiltinTargets(env *envset.Set) []Target {
	targets := []Target{{
		Name: "telegram",
		URL:  fmt.Sprintf("https://api.telegram.org/bot%s/getMe", env.Get("TELEGRAM_BOT_TOKEN")),
	}}

	if env.Has("TWELVE_DATA_API_KEY") {
		targets = append(targets, Target{
			Name: "twelvedata",
			URL: fmt.Sprintf("https://api.twelvedata.com/time_series?symbol=EUR/USD&interval=1min&outputsize=1&apikey=%s",
				env.Get("TWELVE_DATA_API_KEY")),
		})
	}
	if env.Has("EODHD_API_KEY") {
		targets = append(targets, Target{
			Name: "eodhd",
			URL: fmt.Sprintf("https://eodhd.com/api/real-time/EURUSD.FOREX?api_token=%s&fmt=json",
				env.Get("EODHD_API_KEY")),
		})
	}
	if env.Has("FINNHUB_API_KEY") {
		targets = append(targets, Target{
			Name: "finnhub",
			URL: fmt.Sprintf("https://finnhub.io/api/v1/quote?symbol=OANDA:EUR_USD&token=%s",
				env.Get("FINNHUB_API_KEY")),
		})
	}
	if env.Has("ALPHA_VANTAGE_API_KEY") {
		targets = append(targets, Target{
			Name: "alphavantage",
			URL: fmt.Sprintf("https://www.alphavantage.co/query?function=GLOBAL_QUOTE&symbol=IBM&apikey=%s",
				env.Get("ALPHA_VANTAGE_API_KEY")),
		})
	}
	return targets
}

// Recorder persists probe outcomes. Satisfied by *db.DB; nil disables it.
type Recorder interface {
	LogProbeResult(target string, ok bool, statusCode int, latency time.Duration, detail string) error
}

// Prober runs targets sequentially and fans results out to an append-only
// log and the optional recorder.
type Prober struct {
	client   *http.Client
	log      io.Writer
	recorder Recorder
}

func New(log io.Writer, recorder Recorder) *Prober {
	if log == nil {
		log = io.Discard
	}
	return &Prober{
		client:   &http.Client{},
		log:      log,
		recorder: recorder,
	}
}

// RunAll probes every target and returns the captured results. Individual
// failures are recorded in the result, never returned as an error.
func (p *Prober) RunAll(ctx context.Context, targets []Target) Report {
	report := Report{Timestamp: time.Now().UTC(), Healthy: true}

	for _, target := range targets {
		result := p.probeOne(ctx, target)
		report.Results = append(report.Results, result)
		if !result.OK {
			report.Healthy = false
		}

		state := "ok"
		if !result.OK {
			state = "FAIL"
		}
		fmt.Fprintf(p.log, "%s %s %s status=%d latency=%dms %s\n",
			result.Timestamp.Format(time.DateTime), result.Target, state,
			result.StatusCode, result.LatencyMs, result.Detail)

		if p.recorder != nil {
			err := p.recorder.LogProbeResult(result.Target, result.OK, result.StatusCode,
				time.Duration(result.LatencyMs)*time.Millisecond, result.Detail)
			if err != nil {
				slog.Warn("Failed to record probe result", "target", result.Target, "error", err)
			}
		}
	}
	return report
}

func (p *Prober) probeOne(ctx context.Context, target Target) Result {
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := Result{Target: target.Name, Timestamp: time.Now().UTC()}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.URL, nil)
	if err != nil {
		result.Detail = err.Error()
		return result
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	result.Detail = snippet(resp.Body)
	return result
}

// Watch re-probes on a fixed interval until the context is cancelled. The
// targets function is re-evaluated per cycle so secrets-file edits are picked
// up. A failing cycle is logged and the loop continues.
func (p *Prober) Watch(ctx context.Context, interval time.Duration, targets func() ([]Target, error)) {
	for {
		ts, err := targets()
		if err != nil {
			slog.Warn("Probe cycle skipped", "error", err)
		} else {
			report := p.RunAll(ctx, ts)
			slog.Info("Probe cycle complete", "healthy", report.Healthy, "targets", len(report.Results))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// RenderText writes a human-readable report.
func RenderText(w io.Writer, report Report) {
	for _, r := range report.Results {
		state := "ok"
		if !r.OK {
			state = "FAIL"
		}
		fmt.Fprintf(w, "%-14s %-5s status=%d latency=%dms\n", r.Target, state, r.StatusCode, r.LatencyMs)
	}
	if report.Healthy {
		fmt.Fprintln(w, "all probes passed")
	} else {
		fmt.Fprintln(w, "some probes failed")
	}
}

// RenderJSON writes the report as indented JSON.
func RenderJSON(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func snippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxDetailLen))
	s := strings.Join(strings.Fields(string(data)), " ")
	if len(s) > maxDetailLen {
		s = s[:maxDetailLen]
	}
	return s
}
