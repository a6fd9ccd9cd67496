// Package metrics records run events in a Prometheus registry and writes them
// out in the node_exporter textfile format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MaxBondABE/attempt/internal/attempt/engine"
)

const namespace = "attempt"

// Sink is an engine.EventSink backed by its own registry.
type Sink struct {
	reg *prometheus.Registry

	attempts  *prometheus.CounterVec
	decisions *prometheus.CounterVec
	duration  prometheus.Histogram
	waited    prometheus.Counter
	exitCode  *prometheus.GaugeVec
	finished  prometheus.Gauge
}

func NewSink() *Sink {
	s := &Sink{
		reg: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Attempts of the child command by classified outcome.",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Policy decisions by result.",
		}, []string{"decision"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of each attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		waited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backoff_wait_seconds_total",
			Help:      "Total time scheduled for stagger and backoff waits.",
		}),
		exitCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_exit_code",
			Help:      "Exit code of the finished run.",
		}, []string{"reason"}),
		finished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_finished_timestamp_seconds",
			Help:      "Unix time the run finished.",
		}),
	}
	s.reg.MustRegister(s.attempts, s.decisions, s.duration, s.waited, s.exitCode, s.finished)
	return s
}

func (s *Sink) Emit(ev engine.Event) {
	switch ev.Kind {
	case engine.EventOutcomeClassified:
		if ev.Outcome != nil {
			s.attempts.WithLabelValues(string(ev.Outcome.Kind)).Inc()
		}
		s.duration.Observe(float64(ev.DurationMS) / 1000)
	case engine.EventDecisionMade:
		s.decisions.WithLabelValues(string(ev.Decision)).Inc()
	case engine.EventWaitScheduled, engine.EventStaggerScheduled:
		s.waited.Add(ev.Wait.Seconds())
	case engine.EventRunFinished:
		reason := string(ev.Reason)
		code := engine.ExitIOError
		if ev.ExitCode != nil {
			code = *ev.ExitCode
		}
		if reason == "" {
			reason = "error"
		}
		s.exitCode.WithLabelValues(reason).Set(float64(code))
		s.finished.Set(float64(ev.TS.UnixNano()) / 1e9)
	}
}

// SetExitCode overrides the recorded exit code once the caller has mapped a
// run error to its final status.
func (s *Sink) SetExitCode(reason string, code int) {
	s.exitCode.Reset()
	s.exitCode.WithLabelValues(reason).Set(float64(code))
}

// WriteTextfile writes every metric to path atomically.
func (s *Sink) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, s.reg)
}
