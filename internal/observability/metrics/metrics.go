package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Download outcomes reported by the download handler.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// Quota decisions reported by the rate limiter.
const (
	QuotaAdmitted = "admitted"
	QuotaRejected = "rejected"
	QuotaError    = "error"
)

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// download outcomes, quota decisions, and credential staging. Concurrent
// writers are coordinated through a RWMutex; the active download gauge is
// atomic.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	downloadOutcomes map[string]uint64
	downloadDuration map[string]time.Duration
	quotaDecisions   map[string]uint64
	stagedCredential uint64
	cleanupFailures  map[string]uint64
	activeDownloads  atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		downloadOutcomes: make(map[string]uint64),
		downloadDuration: make(map[string]time.Duration),
		quotaDecisions:   make(map[string]uint64),
		cleanupFailures:  make(map[string]uint64),
	}
}

// Default returns the process-wide Recorder.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// DownloadStarted increments the active download gauge.
func (r *Recorder) DownloadStarted() {
	r.activeDownloads.Add(1)
}

// DownloadFinished records the outcome of a download and releases its slot
// on the active gauge.
func (r *Recorder) DownloadFinished(outcome string, duration time.Duration) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.downloadOutcomes[normalized]++
	r.downloadDuration[normalized] += duration
	r.mu.Unlock()
	r.decrementGauge(&r.activeDownloads)
}

// ObserveQuotaDecision counts admitted, rejected, and failed quota checks.
func (r *Recorder) ObserveQuotaDecision(decision string) {
	normalized := normalizeName(decision)
	r.mu.Lock()
	r.quotaDecisions[normalized]++
	r.mu.Unlock()
}

// CredentialStaged counts cookie files written for a download.
func (r *Recorder) CredentialStaged() {
	r.mu.Lock()
	r.stagedCredential++
	r.mu.Unlock()
}

// ObserveCleanupFailure counts resources that could not be removed after a
// request, keyed by resource kind ("credential", "download").
func (r *Recorder) ObserveCleanupFailure(resource string) {
	normalized := normalizeName(resource)
	r.mu.Lock()
	r.cleanupFailures[normalized]++
	r.mu.Unlock()
}

// ActiveDownloads exposes the current number of running downloads.
func (r *Recorder) ActiveDownloads() int64 {
	return r.activeDownloads.Load()
}

// DownloadCounts returns a copy of the download outcome counters.
func (r *Recorder) DownloadCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.downloadOutcomes))
	for k, v := range r.downloadOutcomes {
		out[k] = v
	}
	return out
}

// QuotaCounts returns a copy of the quota decision counters.
func (r *Recorder) QuotaCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.quotaDecisions))
	for k, v := range r.quotaDecisions {
		out[k] = v
	}
	return out
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.downloadOutcomes = make(map[string]uint64)
	r.downloadDuration = make(map[string]time.Duration)
	r.quotaDecisions = make(map[string]uint64)
	r.cleanupFailures = make(map[string]uint64)
	r.stagedCredential = 0
	r.activeDownloads.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()

	fmt.Fprintln(w, "# HELP audiofetch_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE audiofetch_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "audiofetch_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP audiofetch_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE audiofetch_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "audiofetch_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP audiofetch_downloads_total Downloads by outcome")
	fmt.Fprintln(w, "# TYPE audiofetch_downloads_total counter")
	for _, outcome := range sortedKeys(r.downloadOutcomes) {
		fmt.Fprintf(w, "audiofetch_downloads_total{outcome=\"%s\"} %d\n", outcome, r.downloadOutcomes[outcome])
	}

	fmt.Fprintln(w, "# HELP audiofetch_download_duration_seconds_sum Cumulative download duration by outcome")
	fmt.Fprintln(w, "# TYPE audiofetch_download_duration_seconds_sum counter")
	for _, outcome := range sortedKeys(r.downloadOutcomes) {
		fmt.Fprintf(w, "audiofetch_download_duration_seconds_sum{outcome=\"%s\"} %f\n", outcome, r.downloadDuration[outcome].Seconds())
	}

	fmt.Fprintln(w, "# HELP audiofetch_active_downloads Current number of running downloads")
	fmt.Fprintln(w, "# TYPE audiofetch_active_downloads gauge")
	fmt.Fprintf(w, "audiofetch_active_downloads %d\n", r.activeDownloads.Load())

	fmt.Fprintln(w, "# HELP audiofetch_quota_decisions_total Rate limit decisions")
	fmt.Fprintln(w, "# TYPE audiofetch_quota_decisions_total counter")
	for _, decision := range sortedKeys(r.quotaDecisions) {
		fmt.Fprintf(w, "audiofetch_quota_decisions_total{decision=\"%s\"} %d\n", decision, r.quotaDecisions[decision])
	}

	fmt.Fprintln(w, "# HELP audiofetch_credentials_staged_total Cookie files staged for downloads")
	fmt.Fprintln(w, "# TYPE audiofetch_credentials_staged_total counter")
	fmt.Fprintf(w, "audiofetch_credentials_staged_total %d\n", r.stagedCredential)

	fmt.Fprintln(w, "# HELP audiofetch_cleanup_failures_total Request resources that could not be removed")
	fmt.Fprintln(w, "# TYPE audiofetch_cleanup_failures_total counter")
	for _, resource := range sortedKeys(r.cleanupFailures) {
		fmt.Fprintf(w, "audiofetch_cleanup_failures_total{resource=\"%s\"} %d\n", resource, r.cleanupFailures[resource])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// normalizePath folds unknown routes into a single label so probes for random
// paths cannot grow the label set without bound.
func normalizePath(path string) string {
	switch path {
	case "/ping", "/download/audio", "/rate-limit", "/history", "/healthz", "/metrics":
		return path
	case "", "/":
		return "/"
	default:
		return "other"
	}
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
