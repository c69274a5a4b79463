// Package prometheus exports strata runtime metrics to Prometheus.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/strata"
)

const namespace = "strata"

// Provider implements strata.MetricsProvider with Prometheus collectors.
type Provider struct {
	// StatusTransitions counts runtime status changes.
	// Labels: from, to
	StatusTransitions *prometheus.CounterVec

	// ReducerDuration measures reducer application time.
	// Labels: outcome (applied, failed)
	ReducerDuration *prometheus.HistogramVec

	// Instances tracks live collection members.
	// Labels: channel
	Instances *prometheus.GaugeVec

	// InstanceChurn counts members added and removed.
	// Labels: channel, op (added, removed)
	InstanceChurn *prometheus.CounterVec
}

// New creates a Provider and registers its collectors with reg. A nil reg
// means prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Provider, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Provider{
		StatusTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "status_transitions_total",
				Help:      "Runtime status transitions by source and target status",
			},
			[]string{"from", "to"},
		),
		ReducerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reducer",
				Name:      "duration_seconds",
				Help:      "Time spent applying reducers",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
			},
			[]string{"outcome"},
		),
		Instances: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "collection",
				Name:      "instances",
				Help:      "Live collection members by state channel",
			},
			[]string{"channel"},
		),
		InstanceChurn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collection",
				Name:      "instance_changes_total",
				Help:      "Collection members added and removed",
			},
			[]string{"channel", "op"},
		),
	}
	for _, c := range []prometheus.Collector{p.StatusTransitions, p.ReducerDuration, p.Instances, p.InstanceChurn} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// OnStatusChange implements strata.MetricsProvider.
func (p *Provider) OnStatusChange(from, to strata.Status) {
	p.StatusTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// OnReducerApplied implements strata.MetricsProvider.
func (p *Provider) OnReducerApplied(d time.Duration) {
	p.ReducerDuration.WithLabelValues("applied").Observe(d.Seconds())
}

// OnReducerFailed implements strata.MetricsProvider.
func (p *Provider) OnReducerFailed(d time.Duration) {
	p.ReducerDuration.WithLabelValues("failed").Observe(d.Seconds())
}

// OnInstanceAdded implements strata.MetricsProvider.
func (p *Provider) OnInstanceAdded(channel string) {
	p.Instances.WithLabelValues(channel).Inc()
	p.InstanceChurn.WithLabelValues(channel, "added").Inc()
}

// OnInstanceRemoved implements strata.MetricsProvider.
func (p *Provider) OnInstanceRemoved(channel string) {
	p.Instances.WithLabelValues(channel).Dec()
	p.InstanceChurn.WithLabelValues(channel, "removed").Inc()
}

var _ strata.MetricsProvider = (*Provider)(nil)
