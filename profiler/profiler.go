// Package profiler - Periodic runtime and pipeline metrics reporting.
package profiler

import (
	"cmp"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler samples runtime statistics and registered collectors, and
// logs a summary at every report interval.
type RuntimeProfiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int
	clock          clock.Clock
	logger         *zap.SugaredLogger

	mu        sync.RWMutex
	stop      chan struct{}
	wg        sync.WaitGroup
	startTime time.Time
	running   bool

	memStats    runtime.MemStats
	lastGCCount uint32

	customMetrics  map[string]*MetricTracker
	collectors     []MetricsCollector
	operationTimes map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric.
type MetricTracker struct {
	values   []float64
	sum      float64
	min      float64
	max      float64
	count    int64
	lastTime time.Time
}

func (t *MetricTracker) add(value float64, at time.Time, maxSamples int) {
	if t.count == 0 {
		t.min, t.max = value, value
	}
	t.values = append(t.values, value)
	t.sum += value
	if len(t.values) > maxSamples {
		t.sum -= t.values[0]
		t.values = t.values[1:]
	}
	t.count++
	t.min = min(t.min, value)
	t.max = max(t.max, value)
	t.lastTime = at
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

func (t *TimeTracker) add(d time.Duration, maxSamples int) {
	if t.count == 0 {
		t.minTime, t.maxTime = d, d
	}
	t.durations = append(t.durations, d)
	t.totalTime += d
	if len(t.durations) > maxSamples {
		t.totalTime -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.count++
	t.minTime = min(t.minTime, d)
	t.maxTime = max(t.maxTime, d)
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 2s)
	ReportInterval time.Duration
	// SampleInterval specifies how often to collect samples (default: 100ms)
	SampleInterval time.Duration
	// MaxSamples specifies maximum number of samples to keep (default: 600)
	MaxSamples int

	Clock  clock.Clock
	Logger *zap.SugaredLogger
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval == 0 {
		opts.ReportInterval = 2 * time.Second
	}
	if opts.SampleInterval == 0 {
		opts.SampleInterval = 100 * time.Millisecond
	}
	if opts.MaxSamples == 0 {
		opts.MaxSamples = 600 // 1 minute of samples at 100ms intervals
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		clock:          opts.Clock,
		logger:         opts.Logger,
		startTime:      opts.Clock.Now(),
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// Start begins sampling and reporting. Calling it while running is a no-op.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}

	rp.running = true
	rp.startTime = rp.clock.Now()
	rp.stop = make(chan struct{})

	rp.wg.Add(2)
	go rp.loop(rp.stop, rp.clock.Ticker(rp.sampleInterval), rp.sample)
	go rp.loop(rp.stop, rp.clock.Ticker(rp.reportInterval), rp.emitStatusReport)
}

// Stop stops the profiler and waits for its goroutines to complete.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	close(rp.stop)
	rp.mu.Unlock()

	rp.wg.Wait()
}

func (rp *RuntimeProfiler) loop(stop <-chan struct{}, ticker *clock.Ticker, fn func()) {
	defer rp.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// AddMetricsCollector registers a collector sampled at every sample interval.
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordLocked(name, value)
}

func (rp *RuntimeProfiler) recordLocked(name string, value float64) {
	tracker, exists := rp.customMetrics[name]
	if !exists {
		tracker = &MetricTracker{values: make([]float64, 0, min(rp.maxSamples, 64))}
		rp.customMetrics[name] = tracker
	}
	tracker.add(value, rp.clock.Now(), rp.maxSamples)
}

// StartOperation begins timing an operation and returns the function that
// ends it.
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := rp.clock.Now()
	return func() {
		rp.RecordDuration(name, rp.clock.Since(start))
	}
}

// RecordDuration records the completion time of an operation.
func (rp *RuntimeProfiler) RecordDuration(name string, duration time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, exists := rp.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{}
		rp.operationTimes[name] = tracker
	}
	tracker.add(duration, rp.maxSamples)
}

func (rp *RuntimeProfiler) sample() {
	rp.mu.Lock()
	collectors := slices.Clone(rp.collectors)
	runtime.ReadMemStats(&rp.memStats)
	rp.mu.Unlock()

	// Collectors take their own locks; call them outside ours.
	collected := make([]map[string]float64, 0, len(collectors))
	for _, c := range collectors {
		collected = append(collected, c.CollectMetrics())
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()
	for _, metrics := range collected {
		for name, value := range metrics {
			rp.recordLocked(name, value)
		}
	}
}

// MetricSummary is the windowed view of a custom metric.
type MetricSummary struct {
	Name    string  `json:"name"`
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// OperationSummary is the windowed view of an operation's durations.
type OperationSummary struct {
	Name  string        `json:"name"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Count int           `json:"count"`
}

// Stats is a point-in-time view of the profiler.
type Stats struct {
	Uptime     time.Duration      `json:"uptime"`
	Goroutines int                `json:"goroutines"`
	CgoCalls   int64              `json:"cgo_calls"`
	HeapAlloc  uint64             `json:"heap_alloc"`
	Sys        uint64             `json:"sys"`
	GCCycles   uint32             `json:"gc_cycles"`
	Metrics    []MetricSummary    `json:"metrics"`
	Operations []OperationSummary `json:"operations"`
}

// GetCurrentStats returns the current profiling statistics, sorted by name.
func (rp *RuntimeProfiler) GetCurrentStats() Stats {
	rp.mu.Lock()
	runtime.ReadMemStats(&rp.memStats)
	rp.mu.Unlock()

	rp.mu.RLock()
	defer rp.mu.RUnlock()
	return rp.statsLocked()
}

func (rp *RuntimeProfiler) statsLocked() Stats {
	metrics := lo.FilterMap(lo.Entries(rp.customMetrics), func(e lo.Entry[string, *MetricTracker], _ int) (MetricSummary, bool) {
		t := e.Value
		if len(t.values) == 0 {
			return MetricSummary{}, false
		}
		return MetricSummary{
			Name:    e.Key,
			Avg:     t.sum / float64(len(t.values)),
			Min:     t.min,
			Max:     t.max,
			Samples: len(t.values),
		}, true
	})
	slices.SortFunc(metrics, func(a, b MetricSummary) int { return cmp.Compare(a.Name, b.Name) })

	operations := lo.FilterMap(lo.Entries(rp.operationTimes), func(e lo.Entry[string, *TimeTracker], _ int) (OperationSummary, bool) {
		t := e.Value
		if len(t.durations) == 0 {
			return OperationSummary{}, false
		}
		return OperationSummary{
			Name:  e.Key,
			Avg:   t.totalTime / time.Duration(len(t.durations)),
			Min:   t.minTime,
			Max:   t.maxTime,
			Count: len(t.durations),
		}, true
	})
	slices.SortFunc(operations, func(a, b OperationSummary) int { return cmp.Compare(a.Name, b.Name) })

	return Stats{
		Uptime:     rp.clock.Since(rp.startTime),
		Goroutines: runtime.NumGoroutine(),
		CgoCalls:   runtime.NumCgoCall(),
		HeapAlloc:  rp.memStats.HeapAlloc,
		Sys:        rp.memStats.Sys,
		GCCycles:   rp.memStats.NumGC,
		Metrics:    metrics,
		Operations: operations,
	}
}

// emitStatusReport logs the current statistics.
func (rp *RuntimeProfiler) emitStatusReport() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	stats := rp.statsLocked()
	newGC := stats.GCCycles - rp.lastGCCount
	rp.lastGCCount = stats.GCCycles

	fields := []any{
		"uptime", stats.Uptime.Truncate(time.Millisecond),
		"goroutines", stats.Goroutines,
		"cgo_calls", stats.CgoCalls,
		"heap_alloc", formatBytes(stats.HeapAlloc),
		"sys", formatBytes(stats.Sys),
		"gc_cycles", stats.GCCycles,
		"gc_new", newGC,
	}
	for _, m := range stats.Metrics {
		fields = append(fields, m.Name, fmt.Sprintf("avg=%.2f min=%.2f max=%.2f n=%d", m.Avg, m.Min, m.Max, m.Samples))
	}
	for _, o := range stats.Operations {
		fields = append(fields, o.Name, fmt.Sprintf("avg=%v min=%v max=%v n=%d",
			o.Avg.Truncate(time.Microsecond), o.Min.Truncate(time.Microsecond), o.Max.Truncate(time.Microsecond), o.Count))
	}

	rp.logger.Infow("runtime profiler status", fields...)
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
