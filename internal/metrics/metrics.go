package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the paymaster.
// It is passed explicitly to the components that record into it; a nil *Metrics is a no-op.
type Metrics struct {
	// Fee payer pool
	reservationsTotal  *prometheus.CounterVec
	reservationsActive prometheus.Gauge
	reservationsFreed  *prometheus.CounterVec
	payerBalance       *prometheus.GaugeVec
	payerRefreshTotal  *prometheus.CounterVec

	// Circuit breakers
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	// Transaction validation
	validationsTotal *prometheus.CounterVec
	violationsTotal  *prometheus.CounterVec

	// Relay
	relayTotal    *prometheus.CounterVec
	relayDuration *prometheus.HistogramVec

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		reservationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paymaster_reservations_total",
				Help: "Reservation attempts by outcome",
			},
			[]string{"result"},
		),
		reservationsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "paymaster_reservations_active",
				Help: "Reservations currently held across all fee payers",
			},
		),
		reservationsFreed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paymaster_reservations_freed_total",
				Help: "Reservations removed by release or expiry",
			},
			[]string{"reason"},
		),
		payerBalance: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "paymaster_fee_payer_balance_lamports",
				Help: "Last fetched lamport balance per fee payer",
			},
			[]string{"address"},
		),
		payerRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paymaster_fee_payer_refresh_total",
				Help: "Balance refresh attempts per fee payer by status",
			},
			[]string{"address", "status"},
		),

		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "paymaster_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"breaker"},
		),
		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paymaster_circuit_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"breaker", "from", "to"},
		),

		validationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paymaster_validations_total",
				Help: "Transaction validations by verdict",
			},
			[]string{"valid"},
		),
		violationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paymaster_drain_violations_total",
				Help: "Drain-scan violations by instruction",
			},
			[]string{"instruction"},
		),

		relayTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paymaster_relay_total",
				Help: "Relayed transactions by status",
			},
			[]string{"status"},
		),
		relayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paymaster_relay_duration_seconds",
				Help:    "Time from submit to sendTransaction result",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
	}
}

func (m *Metrics) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.reservationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordReservationFreed(reason string, count int) {
	if m == nil {
		return
	}
	m.reservationsFreed.WithLabelValues(reason).Add(float64(count))
}

func (m *Metrics) SetActiveReservations(n int) {
	if m == nil {
		return
	}
	m.reservationsActive.Set(float64(n))
}

func (m *Metrics) RecordPayerBalance(address string, lamports uint64) {
	if m == nil {
		return
	}
	m.payerBalance.WithLabelValues(address).Set(float64(lamports))
}

func (m *Metrics) RecordPayerRefresh(address, status string) {
	if m == nil {
		return
	}
	m.payerRefreshTotal.WithLabelValues(address, status).Inc()
}

// RecordBreakerTransition updates the state gauge and the transition counter
func (m *Metrics) RecordBreakerTransition(name, from, to string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
	m.breakerTransitions.WithLabelValues(name, from, to).Inc()
}

func (m *Metrics) RecordValidation(valid bool, violations []string) {
	if m == nil {
		return
	}
	m.validationsTotal.WithLabelValues(strconv.FormatBool(valid)).Inc()
	for _, v := range violations {
		m.violationsTotal.WithLabelValues(v).Inc()
	}
}

func (m *Metrics) RecordRelay(status string, duration float64) {
	if m == nil {
		return
	}
	m.relayTotal.WithLabelValues(status).Inc()
	m.relayDuration.WithLabelValues(status).Observe(duration)
}

func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(statusCode)).Inc()
}
