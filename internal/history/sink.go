// Package history writes device telemetry to InfluxDB.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/zinguo/internal/config"
)

const (
	connectTimeout        = 10 * time.Second
	millisecondsPerSecond = 1000
)

var ErrClosed = errors.New("history sink closed")

var (
	pointsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zinguo_history_points_total",
		Help: "Points queued for InfluxDB",
	})
	writeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zinguo_history_write_errors_total",
		Help: "Asynchronous InfluxDB write failures",
	})
)

// MetricsCollectors returns collectors for the history sink.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{pointsWritten, writeErrors}
}

type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Sink batches points through the non-blocking write API.
type Sink struct {
	client influxdb2.Client
	writer pointWriter
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Connect pings the server before returning a sink.
func Connect(cfg config.InfluxDBConfig, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(cfg.BatchSize)).
			SetFlushInterval(uint(cfg.FlushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb server not healthy")
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	sink := newSink(writeAPI, logger)
	sink.client = client
	go func() {
		for err := range writeAPI.Errors() {
			writeErrors.Inc()
			sink.logger.Warn("influxdb write failed", "error", err)
		}
	}()
	return sink, nil
}

func newSink(writer pointWriter, logger *slog.Logger) *Sink {
	return &Sink{writer: writer, logger: logger.With("component", "history")}
}

// Write queues one point. It never blocks on the network.
func (s *Sink) Write(measurement string, tags map[string]string, fields map[string]any, at time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if len(fields) == 0 {
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	s.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
	pointsWritten.Inc()
	return nil
}

// Close flushes pending points and releases the client.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
