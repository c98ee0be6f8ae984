package observability

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
	"go.uber.org/zap"
)

// Metric names, without the exporter prefix.
const (
	MetricBulkItems       = "bulk_items_total"
	MetricSessions        = "sessions_active"
	MetricRequests        = "http_requests_total"
	MetricRequestDuration = "http_request_duration"
)

var (
	// TelemetrySystem is nil until InitTelemetry succeeds.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves /metrics on the metrics port.
	PrometheusExporter *exporters.PrometheusExporter
)

// metricsSink is the part of telemetry.System the recorders use.
type metricsSink interface {
	Counter(name string, value float64, tags map[string]string) error
	Histogram(name string, duration time.Duration, tags map[string]string) error
	Gauge(name string, value float64, tags map[string]string) error
}

var (
	sinkMu sync.RWMutex
	sink   metricsSink
)

// InitTelemetry starts the Prometheus exporter on port and routes the
// recorders below to it.
func InitTelemetry(service string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("metrics port %d out of range", port)
	}

	exp := exporters.NewPrometheusExporter(service, fmt.Sprintf(":%d", port))
	if err := exp.Start(); err != nil {
		return fmt.Errorf("start metrics exporter: %w", err)
	}
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exp})
	if err != nil {
		_ = exp.Stop()
		return fmt.Errorf("init telemetry: %w", err)
	}

	PrometheusExporter = exp
	TelemetrySystem = sys
	setSink(sys)
	return nil
}

// ShutdownTelemetry stops the exporter. Safe to call when telemetry never
// started.
func ShutdownTelemetry() error {
	setSink(nil)
	TelemetrySystem = nil
	if PrometheusExporter == nil {
		return nil
	}
	err := PrometheusExporter.Stop()
	PrometheusExporter = nil
	return err
}

// TelemetryReady reports an error until InitTelemetry has succeeded.
func TelemetryReady() error {
	if TelemetrySystem == nil || PrometheusExporter == nil {
		return errors.New("telemetry system not initialized")
	}
	return nil
}

func setSink(s metricsSink) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = s
}

func current() metricsSink {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return sink
}

// RecordBulkItem counts one finished bulk item by action and outcome.
func RecordBulkItem(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	emit(func(s metricsSink) error {
		return s.Counter(MetricBulkItems, 1, map[string]string{"action": action, "outcome": outcome})
	})
}

// RecordRequest counts one served HTTP request and its latency.
func RecordRequest(method string, status int, d time.Duration) {
	tags := map[string]string{"method": method, "status": strconv.Itoa(status)}
	emit(func(s metricsSink) error {
		if err := s.Counter(MetricRequests, 1, tags); err != nil {
			return err
		}
		return s.Histogram(MetricRequestDuration, d, tags)
	})
}

// SetSessions reports the number of live selection sessions.
func SetSessions(n int) {
	emit(func(s metricsSink) error {
		return s.Gauge(MetricSessions, float64(n), nil)
	})
}

func emit(fn func(metricsSink) error) {
	s := current()
	if s == nil {
		return
	}
	if err := fn(s); err != nil {
		ServerLogger.Debug("metric not recorded", zap.Error(err))
	}
}
