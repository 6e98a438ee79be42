package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/lastmile/core/factory"
	coremetrics "github.com/kilianp07/lastmile/core/metrics"
)

// Sink types accepted in metrics.sinks.
const (
	SinkNop        = "nop"
	SinkPrometheus = "prometheus"
	SinkInflux     = "influx"
)

func init() {
	coremetrics.MustRegisterSink(SinkNop, func(map[string]any) (coremetrics.Sink, error) {
		return coremetrics.NopSink{}, nil
	})
	coremetrics.MustRegisterSink(SinkPrometheus, func(map[string]any) (coremetrics.Sink, error) {
		return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
	})
	coremetrics.MustRegisterSink(SinkInflux, newInfluxSink)
}

// newInfluxSink falls back to a NopSink when the server is unreachable, but
// a config without url or bucket is a mistake worth failing on.
func newInfluxSink(conf map[string]any) (coremetrics.Sink, error) {
	var c InfluxConfig
	if err := factory.Decode(conf, &c); err != nil {
		return nil, err
	}
	if c.URL == "" || c.Bucket == "" {
		return nil, fmt.Errorf("influx: url and bucket are required")
	}
	return NewInfluxSinkWithFallback(c), nil
}
