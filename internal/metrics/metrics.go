package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "cohortcal_"

	ResultSuccess = "success"
	ResultError   = "error"

	// ResultNoSelection marks a derivation asked for zero cohorts.
	ResultNoSelection = "no_selection"
)

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()

	deriveTotal   *prometheus.CounterVec
	eventsEmitted prometheus.Counter
	rowsSkipped   *prometheus.CounterVec
	storeWrites   *prometheus.CounterVec
	configSaves   *prometheus.CounterVec
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		deriveTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "derive_total",
				Help: "Derivation runs by output kind and outcome",
			},
			[]string{"kind", "result"},
		)
		eventsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "events_emitted_total",
			Help: "Calendar events produced by derivation",
		})
		rowsSkipped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rows_skipped_total",
				Help: "Input rows dropped by stage",
			},
			[]string{"stage"},
		)
		storeWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "store_writes_total",
				Help: "Schedule store writes by mode and result",
			},
			[]string{"mode", "result"},
		)
		configSaves = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "config_saves_total",
				Help: "Config file saves by result",
			},
			[]string{"result"},
		)

		registry.MustRegister(
			deriveTotal,
			eventsEmitted,
			rowsSkipped,
			storeWrites,
			configSaves,
			collectors.NewGoCollector(),
		)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveDerive records one derivation run with its result label.
func ObserveDerive(kind, result string, events int) {
	Init()
	deriveTotal.WithLabelValues(kind, result).Inc()
	if events > 0 {
		eventsEmitted.Add(float64(events))
	}
}

// ObserveSkipped records rows dropped at an ingestion or load stage.
func ObserveSkipped(stage string, n int) {
	Init()
	if n > 0 {
		rowsSkipped.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveStoreWrite records a schedule store write.
func ObserveStoreWrite(mode string, err error) {
	Init()
	storeWrites.WithLabelValues(mode, Result(err)).Inc()
}

// ObserveConfigSave records a config save.
func ObserveConfigSave(err error) {
	Init()
	configSaves.WithLabelValues(Result(err)).Inc()
}

// Result maps err onto ResultSuccess or ResultError.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
