package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the crowdsale ledger
type Metrics struct {
	// Lifecycle counters
	CampaignsCreatedTotal    prometheus.Counter
	InvestmentsTotal         prometheus.Counter
	InvestedAmountTotal      *prometheus.CounterVec
	SettlementsTotal         *prometheus.CounterVec
	TransitionErrorsTotal    *prometheus.CounterVec
	InvariantViolationsTotal prometheus.Counter
	EventsTotal              prometheus.Counter

	// Scheduler
	SchedulerTicksTotal       prometheus.Counter
	SchedulerSubmissionsTotal *prometheus.CounterVec

	// Ledger gauges
	CampaignsLive *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec
	RateLimitedTotal          *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crowdsale_campaigns_created_total",
				Help: "Total number of campaigns created",
			},
		),
		InvestmentsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crowdsale_investments_total",
				Help: "Total number of accepted investments",
			},
		),
		InvestedAmountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsale_invested_amount_total",
				Help: "Total amount invested, after hard cap clamping",
			},
			[]string{"asset"},
		),
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsale_settlements_total",
				Help: "Total number of settled campaigns",
			},
			[]string{"outcome"},
		),
		TransitionErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsale_transition_errors_total",
				Help: "Total number of rejected transitions",
			},
			[]string{"transition", "kind"},
		),
		InvariantViolationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crowdsale_invariant_violations_total",
				Help: "Total number of settlements aborted by an escrow invariant violation",
			},
		),
		EventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crowdsale_events_total",
				Help: "Total number of committed lifecycle events",
			},
		),

		SchedulerTicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crowdsale_scheduler_ticks_total",
				Help: "Total number of scheduler scans",
			},
		),
		SchedulerSubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsale_scheduler_submissions_total",
				Help: "Total number of transitions submitted by the scheduler",
			},
			[]string{"transition"},
		),

		CampaignsLive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crowdsale_campaigns_live",
				Help: "Number of unsettled campaigns by status",
			},
			[]string{"status"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsale_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crowdsale_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsale_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsale_rate_limited_total",
				Help: "Total number of API writes rejected by rate limits",
			},
			[]string{"level"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crowdsale_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crowdsale_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crowdsale_storage_used_bytes",
				Help: "Ledger database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.CampaignsCreatedTotal,
		m.InvestmentsTotal,
		m.InvestedAmountTotal,
		m.SettlementsTotal,
		m.TransitionErrorsTotal,
		m.InvariantViolationsTotal,
		m.EventsTotal,
		m.SchedulerTicksTotal,
		m.SchedulerSubmissionsTotal,
		m.CampaignsLive,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitedTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncCampaignsCreated increments the created campaigns counter
func IncCampaignsCreated() {
	if m := Global(); m != nil {
		m.CampaignsCreatedTotal.Inc()
	}
}

// AddInvestment counts an accepted investment of amount in asset
func AddInvestment(asset string, amount uint64) {
	if m := Global(); m != nil {
		m.InvestmentsTotal.Inc()
		m.InvestedAmountTotal.WithLabelValues(asset).Add(float64(amount))
	}
}

// IncSettlements increments the settlement counter for an outcome
func IncSettlements(outcome string) {
	if m := Global(); m != nil {
		m.SettlementsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncTransitionErrors counts a rejected transition
func IncTransitionErrors(transition, kind string) {
	if m := Global(); m != nil {
		m.TransitionErrorsTotal.WithLabelValues(transition, kind).Inc()
	}
}

// IncInvariantViolations counts an aborted settlement
func IncInvariantViolations() {
	if m := Global(); m != nil {
		m.InvariantViolationsTotal.Inc()
	}
}

// IncEvents counts a committed event
func IncEvents() {
	if m := Global(); m != nil {
		m.EventsTotal.Inc()
	}
}

// IncSchedulerTicks counts a scheduler scan
func IncSchedulerTicks() {
	if m := Global(); m != nil {
		m.SchedulerTicksTotal.Inc()
	}
}

// IncSchedulerSubmissions counts a transition submitted by the scheduler
func IncSchedulerSubmissions(transition string) {
	if m := Global(); m != nil {
		m.SchedulerSubmissionsTotal.WithLabelValues(transition).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	if m := Global(); m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

// IncRateLimited counts a write rejected by the given limit level
func IncRateLimited(level string) {
	if m := Global(); m != nil {
		m.RateLimitedTotal.WithLabelValues(level).Inc()
	}
}
