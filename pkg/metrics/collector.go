// Package metrics exposes a facade's window and outstanding-table
// sizes as Prometheus gauges via a custom Collector, polled on demand
// rather than updated on every send/receive.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sizes is satisfied by *c110p.Facade; kept narrow so this package
// never imports the facade package back.
type Sizes interface {
	SentSize() int
	ReceivedSize() int
	OutstandingSize() int
}

// Collector reports a single facade's window sizes as gauges under
// prefix.
type Collector struct {
	facade Sizes

	sent        *prometheus.Desc
	received    *prometheus.Desc
	outstanding *prometheus.Desc
}

// New builds a Collector reading from facade, naming its metrics
// "<prefix>_sent_window_size" etc.
func New(prefix string, facade Sizes, constLabels prometheus.Labels) *Collector {
	return &Collector{
		facade: facade,
		sent: prometheus.NewDesc(
			prefix+"_sent_window_size", "Number of commands held in the sent-message window.", nil, constLabels),
		received: prometheus.NewDesc(
			prefix+"_received_window_size", "Number of commands held in the received-message window.", nil, constLabels),
		outstanding: prometheus.NewDesc(
			prefix+"_outstanding_size", "Number of sent commands awaiting acknowledgement.", nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.sent
	descs <- c.received
	descs <- c.outstanding
}

// Collect implements prometheus.Collector, reading the facade's
// current sizes synchronously.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	metrics <- prometheus.MustNewConstMetric(c.sent, prometheus.GaugeValue, float64(c.facade.SentSize()))
	metrics <- prometheus.MustNewConstMetric(c.received, prometheus.GaugeValue, float64(c.facade.ReceivedSize()))
	metrics <- prometheus.MustNewConstMetric(c.outstanding, prometheus.GaugeValue, float64(c.facade.OutstandingSize()))
}
