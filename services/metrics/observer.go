// Package metricssvc exports unlock run metrics to Prometheus.
package metricssvc

import (
	"time"

	"github.com/pkg/errors"
	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/didisacademy/academy/core/unlock"
)

const defaultNamespace = "academy_unlock"

// PrometheusObserver records the outcome of unlock passes and notification retries.
type PrometheusObserver struct {
	runDuration *promclient.HistogramVec
	runs        *promclient.CounterVec // by kind and status
	outcomes    *promclient.CounterVec // by kind and outcome
	lastSuccess *promclient.GaugeVec
}

var _ unlock.Observer = (*PrometheusObserver)(nil)

func NewPrometheusObserver(namespace string, reg promclient.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	var err error
	o := &PrometheusObserver{}
	if o.runDuration, err = register(reg, promclient.NewHistogramVec(promclient.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of unlock runs.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if o.runs, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Count of unlock runs by status.",
	}, []string{"kind", "status"})); err != nil {
		return nil, err
	}
	if o.outcomes, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "outcomes_total",
		Help:      "Count of per-user and per-record outcomes of unlock runs.",
	}, []string{"kind", "outcome"})); err != nil {
		return nil, err
	}
	if o.lastSuccess, err = register(reg, promclient.NewGaugeVec(promclient.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last run that completed without aborting.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	return o, nil
}

// register returns the already registered collector when an identical one exists.
func register[C promclient.Collector](reg promclient.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are promclient.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "registering collector")
	}
	return c, nil
}

func (o *PrometheusObserver) RecordRun(kind string, rep unlock.Report, took time.Duration, err error) {
	if o == nil {
		return
	}
	o.runDuration.WithLabelValues(kind).Observe(took.Seconds())

	status := "ok"
	if err != nil {
		status = "aborted"
	}
	o.runs.WithLabelValues(kind, status).Inc()
	if err == nil {
		o.lastSuccess.WithLabelValues(kind).Set(float64(rep.StartedAt.Add(took).Unix()))
	}

	for outcome, n := range map[string]int{
		"user_skipped":  rep.Skipped,
		"user_failed":   rep.Failed,
		"unlocked":      rep.Unlocked,
		"duplicate":     rep.Duplicates,
		"notified":      rep.Notified,
		"notify_failed": rep.NotifyFailed,
	} {
		if n > 0 {
			o.outcomes.WithLabelValues(kind, outcome).Add(float64(n))
		}
	}
}
