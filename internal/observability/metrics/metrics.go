// Package metrics collects process metrics for HTTP requests, run outcomes
// and tool calls, and renders them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

type histogram struct {
	counts []uint64
	sum    float64
	count  uint64
}

func (h *histogram) observe(buckets []float64, value float64) {
	h.count++
	h.sum += value
	for idx, bound := range buckets {
		if value <= bound {
			h.counts[idx]++
			return
		}
	}
}

// family 是同名指标按标签取值分组后的集合。
type family struct {
	name    string
	help    string
	kind    string
	labels  []string
	buckets []float64

	counters   map[string]uint64
	histograms map[string]*histogram
}

func newCounter(name, help string, labels ...string) *family {
	return &family{name: name, help: help, kind: "counter", labels: labels, counters: make(map[string]uint64)}
}

func newHistogram(name, help string, labels ...string) *family {
	return &family{
		name: name, help: help, kind: "histogram", labels: labels,
		buckets: defaultBuckets, histograms: make(map[string]*histogram),
	}
}

// key 以 \x00 拼接标签值。
func key(values ...string) string {
	return strings.Join(values, "\x00")
}

// Collector 是并发安全的指标集合。
type Collector struct {
	mu            sync.Mutex
	httpRequests  *family
	httpDuration  *family
	runs          *family
	toolCalls     *family
	toolDurations *family
}

// NewCollector 创建空的指标集合。
func NewCollector() *Collector {
	return &Collector{
		httpRequests:  newCounter("agenthive_http_requests_total", "Total number of HTTP requests processed.", "handler", "method", "code"),
		httpDuration:  newHistogram("agenthive_http_request_duration_seconds", "HTTP request duration in seconds.", "handler", "method"),
		runs:          newCounter("agenthive_runs_total", "Runs driven to a terminal state, by status.", "status"),
		toolCalls:     newCounter("agenthive_tool_calls_total", "Tool calls resolved, by tool and outcome.", "tool", "outcome"),
		toolDurations: newHistogram("agenthive_tool_call_duration_seconds", "Tool handler duration in seconds.", "tool"),
	}
}

var defaultCollector = NewCollector()

// Default 返回进程级指标集合。
func Default() *Collector {
	return defaultCollector
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.ObserveHTTPRequest(handler, method, status, duration)
}

// ObserveRun 记录一次到达终态的运行。
func ObserveRun(status string) {
	defaultCollector.ObserveRun(status)
}

// ObserveToolCall 记录一次工具调用。
func ObserveToolCall(tool, outcome string, duration time.Duration) {
	defaultCollector.ObserveToolCall(tool, outcome, duration)
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpRequests.counters[key(handler, method, strconv.Itoa(status))]++
	c.httpDuration.histogram(key(handler, method)).observe(c.httpDuration.buckets, duration.Seconds())
}

// ObserveRun 记录一次到达终态的运行。
func (c *Collector) ObserveRun(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs.counters[key(status)]++
}

// ObserveToolCall 记录一次工具调用。
func (c *Collector) ObserveToolCall(tool, outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolCalls.counters[key(tool, outcome)]++
	c.toolDurations.histogram(key(tool)).observe(c.toolDurations.buckets, duration.Seconds())
}

func (f *family) histogram(k string) *histogram {
	h := f.histograms[k]
	if h == nil {
		h = &histogram{counts: make([]uint64, len(f.buckets))}
		f.histograms[k] = h
	}
	return h
}

// Handler 以 Prometheus 文本格式输出指标。
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, c.Render())
	})
}

// Render 返回全部指标的文本表示，标签组合按字典序排列。
func (c *Collector) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(1024)
	for _, f := range []*family{c.httpRequests, c.httpDuration, c.runs, c.toolCalls, c.toolDurations} {
		f.render(&b)
	}
	return b.String()
}

func (f *family) render(b *strings.Builder) {
	fmt.Fprintf(b, "# HELP %s %s\n", f.name, f.help)
	fmt.Fprintf(b, "# TYPE %s %s\n", f.name, f.kind)

	if f.kind == "counter" {
		for _, k := range sortedKeys(f.counters) {
			fmt.Fprintf(b, "%s{%s} %d\n", f.name, f.labelPairs(k, ""), f.counters[k])
		}
		return
	}

	for _, k := range sortedKeys(f.histograms) {
		h := f.histograms[k]
		var cumulative uint64
		for idx, bound := range f.buckets {
			cumulative += h.counts[idx]
			fmt.Fprintf(b, "%s_bucket{%s} %d\n", f.name, f.labelPairs(k, formatFloat(bound)), cumulative)
		}
		fmt.Fprintf(b, "%s_bucket{%s} %d\n", f.name, f.labelPairs(k, "+Inf"), h.count)
		fmt.Fprintf(b, "%s_sum{%s} %s\n", f.name, f.labelPairs(k, ""), formatFloat(h.sum))
		fmt.Fprintf(b, "%s_count{%s} %d\n", f.name, f.labelPairs(k, ""), h.count)
	}
}

func (f *family) labelPairs(k, le string) string {
	values := strings.Split(k, "\x00")
	pairs := make([]string, 0, len(f.labels)+1)
	for i, label := range f.labels {
		if i < len(values) {
			pairs = append(pairs, fmt.Sprintf("%s=\"%s\"", label, escape(values[i])))
		}
	}
	if le != "" {
		pairs = append(pairs, fmt.Sprintf("le=\"%s\"", le))
	}
	return strings.Join(pairs, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
