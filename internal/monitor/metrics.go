package monitor

import (
	"net/http"
	"sync"

	"github.com/atlasterm/ezod/ezo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Monitor exports parser events as Prometheus metrics
type Monitor struct {
	registry *prometheus.Registry

	Events         *prometheus.CounterVec
	Status         *prometheus.CounterVec
	Measurement    *prometheus.GaugeVec
	Temperature    prometheus.Gauge
	SupplyVoltage  prometheus.Gauge
	CalibrationSet prometheus.Gauge
	Led            prometheus.Gauge

	// Frames and Dropped are set up by WatchStats
	Frames  prometheus.CounterFunc
	Dropped prometheus.CounterFunc
}

// NewMonitor creates the metrics on their own registry
func NewMonitor() *Monitor {
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ezo_events_total",
			Help: "Parser events by category",
		}, []string{"category"}),
		Status: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ezo_transport_status_total",
			Help: "Transport status responses by kind",
		}, []string{"kind"}),
		Measurement: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ezo_measurement",
			Help: "Last accepted reading by probe type",
		}, []string{"probe"}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ezo_temperature_celsius",
			Help: "Temperature compensation reported by the stamp",
		}),
		SupplyVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ezo_supply_voltage_volts",
			Help: "Supply voltage from the last STATUS response",
		}),
		CalibrationSet: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ezo_calibration_state",
			Help: "Calibration state, -1 unknown, 0 cleared, 1 mid, 2 low, 3 high",
		}),
		Led: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ezo_led_on",
			Help: "1 if the stamp LED is enabled",
		}),
	}
	m.CalibrationSet.Set(float64(ezo.CalUnset))
	m.Led.Set(1)

	m.registry.MustRegister(
		m.Events,
		m.Status,
		m.Measurement,
		m.Temperature,
		m.SupplyVoltage,
		m.CalibrationSet,
		m.Led,
	)
	return m
}

// Handle is an ezo.Handler updating the metrics
func (m *Monitor) Handle(ev ezo.Event) {
	m.Events.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case ezo.TransportStatus:
		m.Status.WithLabelValues(ev.Status.String()).Inc()
	case ezo.LedChanged:
		if ev.Led {
			m.Led.Set(1)
		} else {
			m.Led.Set(0)
		}
	case ezo.MeasurementChanged:
		if v, ok := ev.Props.Measurement().Float(); ok {
			m.Measurement.WithLabelValues(ev.Props.ProbeType).Set(v)
		}
	case ezo.InfoChanged:
		if t, ok := ev.Props.CurrentTemperature.Float(); ok {
			m.Temperature.Set(t)
		}
		m.SupplyVoltage.Set(ev.Props.SupplyVoltage)
		m.CalibrationSet.Set(float64(ev.Props.CalibrationState))
	}
}

// frameTotals accumulates parser counters across sessions. Parser.Reset
// zeroes them on every reconnect; a drop below the last reading starts a
// new session.
type frameTotals struct {
	mu      sync.Mutex
	stats   func() ezo.Stats
	last    ezo.Stats
	frames  uint64
	dropped uint64
}

func (f *frameTotals) update() {
	s := f.stats()
	if s.Frames < f.last.Frames || s.Dropped < f.last.Dropped {
		f.last = ezo.Stats{}
	}
	f.frames += s.Frames - f.last.Frames
	f.dropped += s.Dropped - f.last.Dropped
	f.last = s
}

func (f *frameTotals) Frames() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.update()
	return float64(f.frames)
}

func (f *frameTotals) Dropped() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.update()
	return float64(f.dropped)
}

// WatchStats exports the parser frame counters, read from stats on every
// scrape and summed over sessions
func (m *Monitor) WatchStats(stats func() ezo.Stats) {
	totals := &frameTotals{stats: stats}
	m.Frames = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "ezo_frames_total",
		Help: "Complete frames seen by the parser",
	}, totals.Frames)
	m.Dropped = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "ezo_frames_dropped_total",
		Help: "Frames the parser could not use",
	}, totals.Dropped)
	m.registry.MustRegister(m.Frames, m.Dropped)
}

// Handler serves the registry in the Prometheus text format
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{ErrorLog: log.StandardLogger()})
}

// Registry exposes the underlying registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
