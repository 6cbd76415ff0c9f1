// prometheus.go bridges the Governance Engine's components to a
// Prometheus exposition endpoint, following
// internal/observability/metrics.go's registry/HTTP-server/goroutine
// lifecycle pattern from the teacher almost verbatim, retargeted to
// governance metric names.
//
// Metric naming convention: governor_<subsystem>_<name>_<unit>
// All metrics are registered on a dedicated prometheus.Registry, never
// the default global one.

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter holds every Prometheus metric descriptor for the Governance
// Engine.
type Exporter struct {
	registry *prometheus.Registry

	IntentsTotal          *prometheus.CounterVec // labels: decision
	IntentLatencyHistogram prometheus.Histogram
	RiskScoreHistogram    prometheus.Histogram

	BreakerStateGauge *prometheus.GaugeVec // labels: subsystem (0=CLOSED,1=HALF_OPEN,2=OPEN)
	BreakerTripsTotal *prometheus.CounterVec

	QoSLoadLevelGauge     prometheus.Gauge
	QoSSpeedMultiplier    prometheus.Gauge
	QoSFuelMultiplier     prometheus.Gauge
	QoSRateLimitMultiplier prometheus.Gauge

	AuditChainLength prometheus.Gauge

	FeedbackAdaptationsTotal prometheus.Counter

	PanicActiveGauge prometheus.Gauge

	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewExporter creates and registers every governor Prometheus metric on
// a dedicated registry.
func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()

	e := &Exporter{
		registry:  reg,
		startTime: time.Now(),

		IntentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governor",
			Subsystem: "intents",
			Name:      "total",
			Help:      "Total intents evaluated, by final decision.",
		}, []string{"decision"}),

		IntentLatencyHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "governor",
			Subsystem: "intents",
			Name:      "latency_ms",
			Help:      "Distribution of intent evaluation latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 200, 500, 1000, 2500},
		}),

		RiskScoreHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "governor",
			Subsystem: "risk",
			Name:      "score",
			Help:      "Distribution of composite risk scores.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),

		BreakerStateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "governor",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Current breaker state per subsystem (0=CLOSED, 1=HALF_OPEN, 2=OPEN).",
		}, []string{"subsystem"}),

		BreakerTripsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governor",
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Total CLOSED->OPEN transitions, by subsystem.",
		}, []string{"subsystem"}),

		QoSLoadLevelGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governor",
			Subsystem: "qos",
			Name:      "load_level",
			Help:      "Current QoS load level (0=IDLE .. 4=OVERLOAD).",
		}),

		QoSSpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governor",
			Subsystem: "qos",
			Name:      "speed_multiplier",
			Help:      "Current QoS speed multiplier.",
		}),

		QoSFuelMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governor",
			Subsystem: "qos",
			Name:      "fuel_multiplier",
			Help:      "Current QoS fuel multiplier.",
		}),

		QoSRateLimitMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governor",
			Subsystem: "qos",
			Name:      "rate_limit_multiplier",
			Help:      "Current QoS rate limit multiplier.",
		}),

		AuditChainLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governor",
			Subsystem: "audit",
			Name:      "chain_length",
			Help:      "Current number of entries in the audit chain.",
		}),

		FeedbackAdaptationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "governor",
			Subsystem: "feedback",
			Name:      "adaptations_total",
			Help:      "Total feedback-loop policy adaptations applied.",
		}),

		PanicActiveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governor",
			Subsystem: "panic",
			Name:      "active",
			Help:      "1 if the panic switch is currently active, else 0.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governor",
			Subsystem: "engine",
			Name:      "uptime_seconds",
			Help:      "Seconds since the governance engine started.",
		}),
	}

	reg.MustRegister(
		e.IntentsTotal,
		e.IntentLatencyHistogram,
		e.RiskScoreHistogram,
		e.BreakerStateGauge,
		e.BreakerTripsTotal,
		e.QoSLoadLevelGauge,
		e.QoSSpeedMultiplier,
		e.QoSFuelMultiplier,
		e.QoSRateLimitMultiplier,
		e.AuditChainLength,
		e.FeedbackAdaptationsTotal,
		e.PanicActiveGauge,
		e.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return e
}

// Serve starts the Prometheus HTTP metrics server on addr, serving
// GET /metrics and GET /healthz. Blocks until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go e.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrapf(err, "metrics server on %s", addr)
	}
	return nil
}

func (e *Exporter) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.UptimeSeconds.Set(time.Since(e.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
