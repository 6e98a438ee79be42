package metrics

// Package metrics defines interfaces for recording delivery lifecycle and
// dispatch metrics. Sinks like PromSink and InfluxSink record events such
// as status transitions, location updates and scheduler ticks and can be
// combined with NewMultiSink. NewSink returns a MultiSink automatically when
// multiple sinks are configured.
