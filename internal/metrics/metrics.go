package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the evaluation engine.
type Metrics struct {
	CyclesTotal   prometheus.Counter
	CycleDur      prometheus.Histogram
	CycleOverruns prometheus.Counter
	LastCycleTime prometheus.Gauge

	// Plan shape
	PlanBatches    prometheus.Gauge
	PlanIndicators prometheus.Gauge
	PlanPlaybooks  prometheus.Gauge

	// Batch evaluation
	FetchDur            prometheus.Histogram
	DataSourceErrors    *prometheus.CounterVec // labels: timeframe
	ComputeErrors       prometheus.Counter
	ConditionsEvaluated prometheus.Counter
	BatchPanics         prometheus.Counter

	// Triggers
	TriggersTotal      *prometheus.CounterVec // labels: action, outcome
	DebouncedTotal     prometheus.Counter
	PlaybooksSatisfied prometheus.Counter
	DispatchDur        prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	StateWritesBuffered      prometheus.Counter

	// Outbound fan-out
	PublishErrors *prometheus.CounterVec // labels: sink
	WSClients     prometheus.Gauge

	TriggerLogPruned prometheus.Counter
}

// New builds all metrics and registers them on reg. Pass nil for
// prometheus.DefaultRegisterer; tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "condengine_cycles_total",
			Help: "Evaluation cycles completed",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "condengine_cycle_duration_seconds",
			Help:    "Wall time of one evaluation cycle",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		CycleOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "condengine_cycle_overruns_total",
			Help: "Cycles that took longer than the tick interval",
		}),
		LastCycleTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "condengine_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished",
		}),

		PlanBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "condengine_plan_batches",
			Help: "Symbol/timeframe batches in the current plan",
		}),
		PlanIndicators: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "condengine_plan_indicators",
			Help: "Deduplicated indicator computations in the current plan",
		}),
		PlanPlaybooks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "condengine_plan_playbooks",
			Help: "Subscribed playbooks in the current plan",
		}),

		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "condengine_fetch_duration_seconds",
			Help:    "Candle fetch latency per batch",
			Buckets: prometheus.DefBuckets,
		}),
		DataSourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "condengine_data_source_errors_total",
			Help: "Batches skipped because market data could not be fetched",
		}, []string{"timeframe"}),
		ComputeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "condengine_compute_errors_total",
			Help: "Conditions that could not be evaluated on a bar",
		}),
		ConditionsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "condengine_conditions_evaluated_total",
			Help: "Condition evaluations on freshly closed bars",
		}),
		BatchPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "condengine_batch_panics_total",
			Help: "Batch workers recovered from a panic",
		}),

		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "condengine_triggers_total",
			Help: "Trigger events dispatched (by action and outcome)",
		}, []string{"action", "outcome"}),
		DebouncedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "condengine_debounced_total",
			Help: "Fires suppressed because the subscription already fired on the bar",
		}),
		PlaybooksSatisfied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "condengine_playbooks_satisfied_total",
			Help: "Playbook folds that evaluated true",
		}),
		DispatchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "condengine_dispatch_duration_seconds",
			Help:    "Trigger dispatch latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "condengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "condengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		StateWritesBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "condengine_state_writes_buffered_total",
			Help: "Condition state saves held in memory while Redis was unavailable",
		}),

		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "condengine_publish_errors_total",
			Help: "Trigger publish failures per sink",
		}, []string{"sink"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "condengine_ws_clients",
			Help: "Connected trigger stream clients",
		}),

		TriggerLogPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "condengine_trigger_log_pruned_total",
			Help: "Trigger log rows removed by retention",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDur,
		m.CycleOverruns,
		m.LastCycleTime,
		m.PlanBatches,
		m.PlanIndicators,
		m.PlanPlaybooks,
		m.FetchDur,
		m.DataSourceErrors,
		m.ComputeErrors,
		m.ConditionsEvaluated,
		m.BatchPanics,
		m.TriggersTotal,
		m.DebouncedTotal,
		m.PlaybooksSatisfied,
		m.DispatchDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.StateWritesBuffered,
		m.PublishErrors,
		m.WSClients,
		m.TriggerLogPruned,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool      `json:"-"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"-"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastCycleErr   string    `json:"last_cycle_error,omitempty"`

	// Liveness probe results
	RedisLatencyMs  float64       `json:"redis_latency_ms"`
	SQLiteLatencyMs float64       `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time     `json:"last_check_at"`
	StartedAt       time.Time     `json:"started_at"`
	StaleAfter      time.Duration `json:"-"`
}

// NewHealthStatus returns a default health status. The engine counts as
// stalled when no cycle finished within staleAfter.
func NewHealthStatus(staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		StartedAt:  time.Now(),
		StaleAfter: staleAfter,
	}
}

// CycleDone records the end of an evaluation cycle.
func (h *HealthStatus) CycleDone(at time.Time, err error) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.LastCycleErr = ""
	if err != nil {
		h.LastCycleErr = err.Error()
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// Report is the /healthz body.
type Report struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	LastCycleAt     string  `json:"last_cycle_at"`
	CycleAge        string  `json:"cycle_age"`
	LastCycleError  string  `json:"last_cycle_error,omitempty"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at"`
}

// Snapshot computes the health report and its HTTP status code.
func (h *HealthStatus) Snapshot(now time.Time) (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK

	stalled := h.StaleAfter > 0 && !h.LastCycleAt.IsZero() && now.Sub(h.LastCycleAt) > h.StaleAfter
	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	if stalled || redisDown || sqliteDown {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		status = "unhealthy"
	}

	age := ""
	if !h.LastCycleAt.IsZero() {
		age = now.Sub(h.LastCycleAt).Round(time.Millisecond).String()
	}

	return Report{
		Status:          status,
		Uptime:          now.Sub(h.StartedAt).Round(time.Second).String(),
		LastCycleAt:     h.LastCycleAt.Format(time.RFC3339),
		CycleAge:        age,
		LastCycleError:  h.LastCycleErr,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.Snapshot(time.Now())
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(report)
}

// Server runs a standalone HTTP server exposing /metrics and /healthz, used
// when metrics listen on a different address than the API.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server over gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
