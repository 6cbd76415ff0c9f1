// Package main — cmd/governord/main.go
//
// Governance daemon entrypoint.
//
// Startup sequence:
//  1. Parse flags.
//  2. Initialise structured logger (zap).
//  3. Load and validate the policy file.
//  4. Open the audit chain, replaying and verifying it.
//  5. Wire the breaker set, QoS controller, panic switch, metrics
//     collector, and feedback loop.
//  6. Construct the Governance Engine.
//  7. Start the Prometheus metrics server.
//  8. Start the intent-ingestion / status / explain HTTP API.
//  9. Watch the policy file for changes (fsnotify) and schedule the
//     feedback-loop tick and QoS metrics refresh (cron).
// 10. Block on SIGINT/SIGTERM for graceful shutdown.
//
// On policy load failure at startup: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sentrygov/governor/internal/api"
	"github.com/sentrygov/governor/internal/audit"
	"github.com/sentrygov/governor/internal/breaker"
	"github.com/sentrygov/governor/internal/engine"
	"github.com/sentrygov/governor/internal/feedback"
	"github.com/sentrygov/governor/internal/metrics"
	"github.com/sentrygov/governor/internal/obs"
	"github.com/sentrygov/governor/internal/panicswitch"
	"github.com/sentrygov/governor/internal/policy"
	"github.com/sentrygov/governor/internal/qos"
	"github.com/sentrygov/governor/internal/trace"
)

func main() {
	// ── Flags ────────────────────────────────────────────────────────
	policyPath := flag.String("policy", "/etc/governor/policy.yaml", "Path to policy.yaml")
	auditPath := flag.String("audit-log", "/var/lib/governor/audit.jsonl", "Path to the line-delimited audit log")
	panicLockPath := flag.String("panic-lock", "/var/run/governor/panic.lock", "Path to the panic lock file")
	apiAddr := flag.String("addr", "0.0.0.0:8080", "HTTP listen address for the intent/status/explain API")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9091", "Prometheus metrics listen address")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "json", "Log format: json or console")
	feedbackSchedule := flag.String("feedback-schedule", "@every 30s", "Cron schedule for the feedback-loop tick")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("governord %s (commit=%s built=%s)\n", policy.Version, policy.GitCommit, policy.BuildTime)
		os.Exit(0)
	}

	log, err := obs.BuildLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("governord starting",
		zap.String("version", policy.Version),
		zap.String("commit", policy.GitCommit),
		zap.String("policy", *policyPath),
	)

	result, fallbacks, err := policy.Load(*policyPath)
	if err != nil {
		log.Fatal("policy load failed", zap.Error(err), zap.String("path", *policyPath))
	}
	for _, fb := range fallbacks {
		log.Error("policy file: " + fb)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auditChain, err := audit.Open(*auditPath, log)
	if err != nil {
		log.Fatal("audit chain open failed", zap.Error(err), zap.String("path", *auditPath))
	}
	defer auditChain.Close() //nolint:errcheck
	log.Info("audit chain opened", zap.String("path", *auditPath), zap.Int("entries", auditChain.Len()))

	breakers := breaker.NewSet(breaker.DefaultConfig(), log)
	qosCtrl := qos.NewController(qos.Config{
		BackpressureThreshold: result.Policy.QueueBackpressureThreshold,
		LatencyThresholdMs:    200.0,
		CPUThreshold:          0.85,
		MemoryThreshold:       0.90,
		AdaptiveThrottling:    result.Policy.AdaptiveThrottling,
	}, log)
	panicSwitch := panicswitch.New(*panicLockPath, 300, log)
	collector := metrics.NewCollector(300)
	sla := metrics.NewSLAMonitor(collector)
	exporter := metrics.NewExporter()
	feedbackLoop := feedback.New(collector, feedback.DefaultConfig(), log)

	policyStore := policy.NewStore(result.Policy)

	eng := engine.New(engine.Deps{
		PolicyPath:  *policyPath,
		PolicyStore: policyStore,
		Breakers:    breakers,
		QoS:         qosCtrl,
		Audit:       auditChain,
		Panic:       panicSwitch,
		Metrics:     collector,
		Logger:      log,
	})

	go func() {
		if err := exporter.Serve(ctx, *metricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", *metricsAddr))

	apiServer := api.NewServer(eng, log).WithFeedback(feedbackLoop)
	httpSrv := &http.Server{
		Addr:         *apiAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server error", zap.Error(err))
		}
	}()
	log.Info("intent/status/explain API started", zap.String("addr", *apiAddr))

	if err := policy.WatchFile(ctx, *policyPath, log, func() { eng.ReloadPolicy() }); err != nil {
		log.Warn("policy file watcher failed to start; reload via /v1/admin/reload only", zap.Error(err))
	}

	c := cron.New()
	if _, err := c.AddFunc(*feedbackSchedule, func() {
		runFeedbackTick(eng, feedbackLoop, exporter)
	}); err != nil {
		log.Error("failed to schedule feedback-loop tick", zap.Error(err))
	}
	if _, err := c.AddFunc("@every 10s", func() {
		refreshQoSMetrics(eng, collector, exporter)
		refreshPrometheusSnapshot(eng, exporter, sla, log)
	}); err != nil {
		log.Error("failed to schedule QoS metrics refresh", zap.Error(err))
	}
	c.Start()
	defer c.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api server shutdown error", zap.Error(err))
	}

	log.Info("governord shutdown complete")
}

// refreshQoSMetrics derives a qos.Metrics snapshot from what the engine
// has observed about itself (the average intent latency over the last
// 60s; CPU, memory and queue depth are reported as 0) and feeds it to the
// engine's QoS controller. A deployment with a real system-metrics source (load
// average, cgroup memory) would substitute that here; this ambient
// fallback keeps the feedback/QoS loop live with no extra dependency
// (spec §5: "an implementation may schedule ... on a timer tick").
func refreshQoSMetrics(eng *engine.Engine, collector *metrics.Collector, exporter *metrics.Exporter) {
	avgLatency, _ := collector.HistogramAvg("intent_latency_ms", 60)
	adj := eng.UpdateQoS(qos.Metrics{
		CPUUsage:     0,
		MemoryUsage:  0,
		QueueDepth:   0,
		AvgLatencyMs: avgLatency,
	})
	exporter.QoSSpeedMultiplier.Set(adj.SpeedMultiplier)
	exporter.QoSFuelMultiplier.Set(adj.FuelMultiplier)
	exporter.QoSRateLimitMultiplier.Set(adj.RateLimitMultiplier)
}

// runFeedbackTick evaluates the feedback loop against the engine's
// current policy axes and, if it recommends a change, applies it via
// Engine.ApplyFeedbackAction (spec §4.6).
func runFeedbackTick(eng *engine.Engine, loop *feedback.Loop, exporter *metrics.Exporter) {
	pol := eng.Policy()
	lastQoS := eng.LastQoS()
	cpuUsage := 0.0
	if lastQoS.LoadLevel == trace.LoadOverload {
		cpuUsage = 0.9
	}

	action := loop.Evaluate(pol.Profile, pol.Posture, cpuUsage)
	if action == nil {
		return
	}

	eng.ApplyFeedbackAction(action)
	exporter.FeedbackAdaptationsTotal.Inc()
}

func refreshPrometheusSnapshot(eng *engine.Engine, exporter *metrics.Exporter, sla *metrics.SLAMonitor, log *zap.Logger) {
	status := eng.Status()
	auditSection, _ := status["audit"].(map[string]any)
	if length, ok := auditSection["length"].(int); ok {
		exporter.AuditChainLength.Set(float64(length))
	}

	panicSection, _ := status["panic"].(map[string]any)
	if active, ok := panicSection["active"].(bool); ok {
		if active {
			exporter.PanicActiveGauge.Set(1)
		} else {
			exporter.PanicActiveGauge.Set(0)
		}
	}

	if sla.IsDegraded() {
		log.Warn("SLA degraded", zap.Any("report", sla.Report()))
	}
}
