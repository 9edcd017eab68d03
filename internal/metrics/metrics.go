package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	modbusIface "github.com/tetragramaton/smh-modbus/internal/interface/modbus"
)

const namespace = "smh_modbus"

type Metrics struct {
	registry *prometheus.Registry

	PollCycles    prometheus.Counter
	SkippedCycles prometheus.Counter
	CycleDuration prometheus.Histogram
	Reads         *prometheus.CounterVec
	Writes        *prometheus.CounterVec
	Values        *prometheus.GaugeVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles.",
		}),
		SkippedCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_skipped_total",
			Help:      "Ticks skipped because the previous cycle was still running.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of one poll cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		Reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "point_reads_total",
			Help:      "Point reads by outcome.",
		}, []string{"point", "result"}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "point_writes_total",
			Help:      "Point writes by outcome.",
		}, []string{"point", "result"}),
		Values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "point_value",
			Help:      "Last numeric value of a point (labels are exported as their raw value).",
		}, []string{"point"}),
	}
	m.registry.MustRegister(
		m.PollCycles,
		m.SkippedCycles,
		m.CycleDuration,
		m.Reads,
		m.Writes,
		m.Values,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// WatchConnection exports the transport link state.
func (m *Metrics) WatchConnection(t modbusIface.Transport) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected",
		Help:      "1 while the Modbus TCP session is up.",
	}, func() float64 {
		if t.Connected() {
			return 1
		}
		return 0
	}))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	m.PollCycles.Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRead(name string, raw float64, err error) {
	m.Reads.WithLabelValues(name, Result(err)).Inc()
	if err == nil {
		m.Values.WithLabelValues(name).Set(raw)
	}
}

func (m *Metrics) ObserveWrite(name string, raw uint16, err error) {
	m.Writes.WithLabelValues(name, Result(err)).Inc()
	if err == nil {
		m.Values.WithLabelValues(name).Set(float64(raw))
	}
}

// Result is the outcome label for err.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	switch modbusIface.KindOf(err) {
	case modbusIface.KindDevice:
		return "device_error"
	case modbusIface.KindTransport:
		return "transport_error"
	case modbusIface.KindConnection:
		return "connection_error"
	}
	return "error"
}
