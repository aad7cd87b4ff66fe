package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages the orchestration metrics exported for scraping.
type MetricsCollector struct {
	meter metric.Meter

	// Tool metrics
	toolInvocations metric.Int64Counter
	toolDuration    metric.Float64Histogram

	// Cache metrics
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	cacheEvictions metric.Int64Counter

	// Stage metrics
	stageDuration metric.Float64Histogram
	runsTotal     metric.Int64Counter

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("opspilot")

	toolInvocations, err := meter.Int64Counter(
		"opspilot.tool.invocations.total",
		metric.WithDescription("Total number of tool invocations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_invocations counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"opspilot.tool.duration",
		metric.WithDescription("Tool invocation duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_duration histogram: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"opspilot.cache.hits.total",
		metric.WithDescription("Tool result cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"opspilot.cache.misses.total",
		metric.WithDescription("Tool result cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_misses counter: %w", err)
	}

	cacheEvictions, err := meter.Int64Counter(
		"opspilot.cache.evictions.total",
		metric.WithDescription("Tool result cache capacity evictions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_evictions counter: %w", err)
	}

	stageDuration, err := meter.Float64Histogram(
		"opspilot.stage.duration",
		metric.WithDescription("Runner stage duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage_duration histogram: %w", err)
	}

	runsTotal, err := meter.Int64Counter(
		"opspilot.runs.total",
		metric.WithDescription("Completed orchestration runs by status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs_total counter: %w", err)
	}

	collector := &MetricsCollector{
		meter:           meter,
		toolInvocations: toolInvocations,
		toolDuration:    toolDuration,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		cacheEvictions:  cacheEvictions,
		stageDuration:   stageDuration,
		runsTotal:       runsTotal,
	}

	if config.PrometheusPort > 0 {
		collector.startPrometheusServer(config.PrometheusPort)
	}

	return collector, nil
}

func (mc *MetricsCollector) startPrometheusServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	mc.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := mc.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Metrics server failure must not take down the orchestrator.
			fmt.Printf("prometheus server error: %v\n", err)
		}
	}()
}

// RecordToolInvocation records one tool call with its outcome.
func (mc *MetricsCollector) RecordToolInvocation(ctx context.Context, toolType, operation string, duration time.Duration, success bool) {
	if mc.toolInvocations == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool_type", toolType),
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)
	mc.toolInvocations.Add(ctx, 1, attrs)
	mc.toolDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordCacheHit records a tool result cache hit.
func (mc *MetricsCollector) RecordCacheHit(ctx context.Context, toolType string) {
	if mc.cacheHits == nil {
		return
	}
	mc.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_type", toolType)))
}

// RecordCacheMiss records a tool result cache miss.
func (mc *MetricsCollector) RecordCacheMiss(ctx context.Context, toolType string) {
	if mc.cacheMisses == nil {
		return
	}
	mc.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_type", toolType)))
}

// RecordCacheEviction records a capacity eviction.
func (mc *MetricsCollector) RecordCacheEviction(ctx context.Context) {
	if mc.cacheEvictions == nil {
		return
	}
	mc.cacheEvictions.Add(ctx, 1)
}

// RecordStage records the elapsed time of one runner stage.
func (mc *MetricsCollector) RecordStage(ctx context.Context, stage string, duration time.Duration) {
	if mc.stageDuration == nil {
		return
	}
	mc.stageDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordRun records a completed run with its terminal status.
func (mc *MetricsCollector) RecordRun(ctx context.Context, status string) {
	if mc.runsTotal == nil {
		return
	}
	mc.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// Shutdown stops the Prometheus scrape endpoint.
func (mc *MetricsCollector) Shutdown(ctx context.Context) error {
	if mc.prometheusServer != nil {
		return mc.prometheusServer.Shutdown(ctx)
	}
	return nil
}
