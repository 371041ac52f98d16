package observability

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/price-summarizer/internal/platform/envutil"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge
	apiReqError *Counter

	conversions       *CounterVec
	conversionLatency *HistogramVec
	rows              *CounterVec
	skippedRows       *CounterVec
	objectBytes       *CounterVec
	deliveries        *CounterVec

	dbStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Current is nil until Init runs with metrics enabled. Every method is nil-safe.
func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	d := envutil.Duration("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// New builds an unregistered metric set. Init wraps it as the process global.
func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("ps_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"ps_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGauge("ps_api_inflight_requests", "In-flight API requests."),
		apiReqError: NewCounter("ps_api_requests_error_total", "API requests answered with a 5xx status."),

		conversions: NewCounterVec("ps_conversions_total", "Conversions by trigger source and outcome status.", []string{"source", "status"}),
		conversionLatency: NewHistogramVec(
			"ps_conversion_duration_seconds",
			"End-to-end conversion latency by outcome status.",
			[]string{"status"},
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		),
		rows:        NewCounterVec("ps_rows_total", "CSV data rows by disposition (read/used/skipped).", []string{"disposition"}),
		skippedRows: NewCounterVec("ps_rows_skipped_total", "Skipped CSV rows by reason.", []string{"reason"}),
		objectBytes: NewCounterVec("ps_object_bytes_total", "Object bytes moved by direction.", []string{"direction"}),
		deliveries:  NewCounterVec("ps_queue_deliveries_total", "Queue deliveries by settlement (ack/nack/reject).", []string{"settlement"}),

		dbStats:   NewGaugeVec("ps_db_pool_stats", "Ledger database connection pool stats.", []string{"stat"}),
		redisUp:   NewGauge("ps_redis_up", "Redis reachability (1 up, 0 down)."),
		redisPing: NewGauge("ps_redis_ping_seconds", "Last Redis ping latency in seconds."),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiReqError,
		m.conversions, m.conversionLatency, m.rows, m.skippedRows, m.objectBytes, m.deliveries,
		m.dbStats, m.redisUp, m.redisPing,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	if isServerErrorStatus(status) {
		m.apiReqError.Inc()
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// RowCounts is the per-conversion row tally fed to ObserveConversion.
type RowCounts struct {
	Read    int
	Used    int
	Skipped map[string]int
}

func (m *Metrics) ObserveConversion(source, status string, dur time.Duration, rows RowCounts) {
	if m == nil {
		return
	}
	m.conversions.Inc(source, status)
	m.conversionLatency.Observe(dur.Seconds(), status)
	skipped := 0
	for reason, n := range rows.Skipped {
		m.skippedRows.Add(float64(n), reason)
		skipped += n
	}
	m.rows.Add(float64(rows.Read), "read")
	m.rows.Add(float64(rows.Used), "used")
	m.rows.Add(float64(skipped), "skipped")
}

func (m *Metrics) AddObjectBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.objectBytes.Add(float64(n), direction)
}

func (m *Metrics) IncDelivery(settlement string) {
	if m == nil {
		return
	}
	m.deliveries.Inc(settlement)
}

func (m *Metrics) DeliveryCount(settlement string) float64 {
	if m == nil {
		return 0
	}
	return m.deliveries.Value(settlement)
}

// ConversionCount is the number of conversions seen for (source, status).
func (m *Metrics) ConversionCount(source, status string) float64 {
	if m == nil {
		return 0
	}
	return m.conversions.Value(source, status)
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.dbStats.Set(float64(stats.OpenConnections), "open_connections")
				m.dbStats.Set(float64(stats.InUse), "in_use")
				m.dbStats.Set(float64(stats.Idle), "idle")
				m.dbStats.Set(float64(stats.WaitCount), "wait_count")
				m.dbStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				m.dbStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
			}
		}
	}()
}

// StartRedisCollector pings rdb on the scrape interval. The caller owns rdb.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb goredis.Cmdable) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				start := time.Now()
				err := rdb.Ping(pingCtx).Err()
				cancel()
				if err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func isServerErrorStatus(status string) bool {
	code, err := strconv.Atoi(strings.TrimSpace(status))
	return err == nil && code >= 500 && code <= 599
}
