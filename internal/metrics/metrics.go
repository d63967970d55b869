// Package metrics exports syncmap engine activity as Prometheus metrics.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/syncmap/internal/action"
	"github.com/roach88/syncmap/internal/syncmap"
)

const namespace = "syncmap"

var _ syncmap.Metrics = (*Metrics)(nil)

// Metrics implements syncmap.Metrics with Prometheus collectors.
type Metrics struct {
	liveStores    *prometheus.GaugeVec
	subscriptions *prometheus.GaugeVec
	filterMembers *prometheus.GaugeVec
	changes       *prometheus.CounterVec
	loadErrors    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		liveStores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_stores",
			Help:      "Entity stores currently alive in the registry.",
		}, []string{"plural"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_subscriptions",
			Help:      "Shared server subscriptions currently open.",
		}, []string{"plural"}),
		filterMembers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filter_members",
			Help:      "Entities currently matched by live filters.",
		}, []string{"plural"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Local changes resolved by the server.",
		}, []string{"plural", "outcome"}),
		loadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_errors_total",
			Help:      "Entity store loads that ended in an error.",
		}, []string{"plural", "kind"}),
	}

	for _, c := range []prometheus.Collector{m.liveStores, m.subscriptions, m.filterMembers, m.changes, m.loadErrors} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) StoreOpened(plural string) { m.liveStores.WithLabelValues(plural).Inc() }

func (m *Metrics) StoreClosed(plural string) { m.liveStores.WithLabelValues(plural).Dec() }

// Subscriptions are counted per plural; entity channels fold into their
// plural's series.
func (m *Metrics) SubscriptionOpened(channel string) {
	m.subscriptions.WithLabelValues(action.ChannelPlural(channel)).Inc()
}

func (m *Metrics) SubscriptionClosed(channel string) {
	m.subscriptions.WithLabelValues(action.ChannelPlural(channel)).Dec()
}

func (m *Metrics) ChangeResolved(plural string, state syncmap.ChangeState) {
	m.changes.WithLabelValues(plural, state.String()).Inc()
}

func (m *Metrics) LoadFailed(plural string, kind syncmap.Kind) {
	m.loadErrors.WithLabelValues(plural, kind.String()).Inc()
}

func (m *Metrics) FilterMembers(plural string, delta int) {
	m.filterMembers.WithLabelValues(plural).Add(float64(delta))
}

// WriteText writes everything g gathers in the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
