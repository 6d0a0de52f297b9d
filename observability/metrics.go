package observability

import (
	"net/http"
	"strconv"

	"github.com/matrix-magiq/qvalidator/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qv"

// Metrics holds the Prometheus collectors of the node.
type Metrics struct {
	registry *prometheus.Registry

	operationsSubmitted prometheus.Counter
	operationsValidated *prometheus.CounterVec
	operationsExpired   prometheus.Counter
	validatorEvents     *prometheus.CounterVec
	correctionStages    *prometheus.CounterVec
	blockHeight         prometheus.Gauge
	httpCalls           *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operationsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "operations", Name: "submitted_total",
			Help: "Number of accepted operations.",
		}),
		operationsValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "operations", Name: "validated_total",
			Help: "Number of finalized validation sessions by outcome.",
		}, []string{"status"}),
		operationsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "operations", Name: "expired_total",
			Help: "Number of operations which expired before validation completed.",
		}),
		validatorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "validators", Name: "events_total",
			Help: "Validator registry changes by kind.",
		}, []string{"kind"}),
		correctionStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "correction", Name: "stage_runs_total",
			Help: "Error correction stage executions.",
		}, []string{"stage", "status"}),
		blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "block_height",
			Help: "Current block height.",
		}),
		httpCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rest_api", Name: "calls_total",
			Help: "How many times the endpoint has been called.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "rest_api", Name: "duration_seconds",
			Help:    "How long it took to serve the request.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operationsSubmitted,
		m.operationsValidated,
		m.operationsExpired,
		m.validatorEvents,
		m.correctionStages,
		m.blockHeight,
		m.httpCalls,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{MaxRequestsInFlight: 1})
}

// Emitter returns event emitter which counts the events.
func (m *Metrics) Emitter() events.Emitter {
	return events.EmitterFunc(func(e events.Event) {
		switch ev := e.(type) {
		case events.OperationSubmittedEvent:
			m.operationsSubmitted.Inc()
		case events.OperationValidatedEvent:
			m.operationsValidated.WithLabelValues(ev.Status.String()).Inc()
		case events.OperationExpiredEvent:
			m.operationsExpired.Inc()
		case events.ValidatorRegisteredEvent, events.ValidatorRemovedEvent, events.ValidatorUpdatedEvent:
			m.validatorEvents.WithLabelValues(e.Kind().String()).Inc()
		}
	})
}

// CorrectionObserver counts correction stage outcomes, to be used with
// correction.WithObserver.
func (m *Metrics) CorrectionObserver() func(stage string, err error) {
	return func(stage string, err error) {
		m.correctionStages.WithLabelValues(stage, ErrStatus(err)).Inc()
	}
}

// SetBlockHeight is suitable as ledger.WithOnBlock callback.
func (m *Metrics) SetBlockHeight(height uint64) {
	m.blockHeight.Set(float64(height))
}

// ObserveHTTP records served request.
func (m *Metrics) ObserveHTTP(route string, statusCode int, seconds float64) {
	code := strconv.Itoa(statusCode)
	m.httpCalls.WithLabelValues(route, code).Inc()
	m.httpDuration.WithLabelValues(route, code).Observe(seconds)
}

/*
ErrStatus returns "ok" if the param err is nil and "err" when it is not.
*/
func ErrStatus(err error) string {
	if err != nil {
		return "err"
	}
	return "ok"
}
