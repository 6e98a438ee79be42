package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/lastmile/core/logger"
	coremetrics "github.com/kilianp07/lastmile/core/metrics"
	infralogger "github.com/kilianp07/lastmile/infra/logger"
)

// InfluxConfig locates an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes delivery events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

var (
	_ coremetrics.LocationRecorder   = (*InfluxSink)(nil)
	_ coremetrics.AssignmentRecorder = (*InfluxSink)(nil)
	_ coremetrics.TickRecorder       = (*InfluxSink)(nil)
)

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      infralogger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTransition writes one delivery_transition point.
func (s *InfluxSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	p := write.NewPointWithMeasurement("delivery_transition").
		AddTag("delivery_id", ev.DeliveryID).
		AddTag("from", string(ev.From)).
		AddTag("to", string(ev.To))
	if ev.DriverID != "" {
		p = p.AddTag("driver_id", ev.DriverID)
	}
	if ev.StoreID != "" {
		p = p.AddTag("store_id", ev.StoreID)
	}
	p = p.AddField("actor", ev.Actor).SetTime(ev.Time)
	return s.write(p)
}

// RecordLocation writes the live position of a delivery.
func (s *InfluxSink) RecordLocation(ev coremetrics.LocationEvent) error {
	p := write.NewPointWithMeasurement("delivery_location").
		AddTag("delivery_id", ev.DeliveryID)
	if ev.DriverID != "" {
		p = p.AddTag("driver_id", ev.DriverID)
	}
	p = p.AddField("lat", ev.Lat).
		AddField("lng", ev.Lng).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordAssignment writes a driver assignment.
func (s *InfluxSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	p := write.NewPointWithMeasurement("delivery_assignment").
		AddTag("delivery_id", ev.DeliveryID).
		AddTag("driver_id", ev.DriverID).
		AddTag("automatic", strconv.FormatBool(ev.Automatic)).
		AddField("distance_km", round3(ev.DistanceKm)).
		AddField("waited_ticks", ev.WaitedTicks).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordTick writes a scheduler tick summary.
func (s *InfluxSink) RecordTick(ev coremetrics.TickEvent) error {
	p := write.NewPointWithMeasurement("assignment_tick").
		AddTag("component", "scheduler").
		AddField("scanned", ev.Scanned).
		AddField("assigned", ev.Assigned).
		AddField("unassigned", ev.Unassigned).
		AddField("boosted", ev.Boosted).
		AddField("errors", ev.Errors).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// Close flushes and closes the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
