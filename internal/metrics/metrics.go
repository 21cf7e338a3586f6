package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/d21d3q/gosmartmeter/internal/sink"
)

var (
	registerOnce sync.Once

	decodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gosmartmeter",
			Name:      "decode_total",
			Help:      "Receive windows passed to the decoder.",
		},
		[]string{"result"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gosmartmeter",
			Name:      "decode_errors_total",
			Help:      "Failed decodes by pipeline stage and error kind.",
		},
		[]string{"stage", "kind"},
	)
	measurementValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gosmartmeter",
			Name:      "measurement_value",
			Help:      "Last decoded numeric measurement.",
		},
		[]string{"kind", "unit"},
	)
	invocationCounter = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gosmartmeter",
			Name:      "invocation_counter",
			Help:      "Last authenticated invocation counter per system title.",
		},
		[]string{"system_title"},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(decodes, decodeErrors, measurementValue, invocationCounter)
	})
}

func RecordDecode() {
	Register()
	decodes.WithLabelValues("ok").Inc()
}

func RecordDecodeError(stage, kind string) {
	Register()
	decodes.WithLabelValues("error").Inc()
	decodeErrors.WithLabelValues(stage, kind).Inc()
}

// Gauges is a sink exporting numeric measurements as gauges.
type Gauges struct{}

func (Gauges) Name() string { return "metrics" }

func (Gauges) Publish(_ context.Context, r sink.Reading) error {
	Register()
	for _, m := range r.Values.All() {
		if m.IsText() {
			continue
		}
		measurementValue.WithLabelValues(m.Kind.String(), m.Kind.Unit()).Set(m.Value)
	}
	if r.SystemTitle != "" {
		invocationCounter.WithLabelValues(r.SystemTitle).Set(float64(r.Counter))
	}
	return nil
}
