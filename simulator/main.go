package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	coremetrics "github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/infra/logger"
	"github.com/kilianp07/lastmile/infra/metrics"
)

func main() {
	cfg := parseFlags()
	if err := (&cfg).Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}
	level := "warn"
	if cfg.Verbose {
		level = "debug"
	}
	logger.Configure(logger.Options{Level: level, Console: true})
	log := logger.New("simulator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink coremetrics.Sink = coremetrics.NopSink{}
	if cfg.InfluxURL != "" {
		sink = metrics.NewInfluxSinkWithFallback(metrics.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
	}

	tokens := cfg.Tokens
	if len(tokens) == 0 {
		tokens = FleetTokens(cfg.TokenPrefix, cfg.FleetSize)
	}
	starts := Scatter(model.NewLocation(cfg.CenterLat, cfg.CenterLng, ""), cfg.SpreadKm, len(tokens))
	drivers := make([]*SimulatedDriver, len(tokens))
	for i, tok := range tokens {
		drivers[i] = &SimulatedDriver{
			ID:         fmt.Sprintf("sim-%d", i+1),
			Token:      tok,
			URL:        cfg.URL,
			Start:      starts[i],
			StepKm:     cfg.StepKm(),
			Interval:   cfg.Interval,
			FailRate:   cfg.FailRate,
			Deliveries: cfg.Deliveries,
			Metrics:    sink,
			Log:        log,
		}
	}
	runDrivers(ctx, drivers, log)
}

func parseFlags() Config {
	var cfg Config
	var tokens string
	flag.StringVar(&cfg.URL, "url", "ws://localhost:8080/ws", "WebSocket endpoint")
	flag.StringVar(&tokens, "tokens", "", "comma separated driver credentials")
	flag.StringVar(&cfg.TokenPrefix, "token-prefix", "", "generate credentials prefix0001..prefixNNNN")
	flag.IntVar(&cfg.FleetSize, "fleet-size", 0, "number of generated drivers")
	flag.Float64Var(&cfg.CenterLat, "lat", 48.8566, "latitude of the area center")
	flag.Float64Var(&cfg.CenterLng, "lng", 2.3522, "longitude of the area center")
	flag.Float64Var(&cfg.SpreadKm, "spread", 3, "radius in km drivers start within")
	flag.Float64Var(&cfg.SpeedKmh, "speed", 25, "driving speed km/h")
	flag.DurationVar(&cfg.Interval, "interval", 2*time.Second, "position report interval")
	flag.Float64Var(&cfg.FailRate, "fail-rate", 0, "probability a delivery fails")
	flag.IntVar(&cfg.Deliveries, "deliveries", 0, "stop each driver after N deliveries, 0 runs forever")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.StringVar(&cfg.InfluxURL, "influx-url", "", "InfluxDB URL")
	flag.StringVar(&cfg.InfluxToken, "influx-token", "", "InfluxDB token")
	flag.StringVar(&cfg.InfluxOrg, "influx-org", "", "InfluxDB organization")
	flag.StringVar(&cfg.InfluxBucket, "influx-bucket", "", "InfluxDB bucket")
	flag.Parse()
	cfg.Tokens = splitTokens(tokens)
	return cfg
}

func splitTokens(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func runDrivers(ctx context.Context, drivers []*SimulatedDriver, log logger.Logger) {
	var wg sync.WaitGroup
	for _, d := range drivers {
		wg.Add(1)
		go func(d *SimulatedDriver) {
			defer wg.Done()
			if err := d.Run(ctx); err != nil {
				log.Errorw("driver stopped", err, map[string]any{"driver": d.ID})
			}
		}(d)
	}
	wg.Wait()
}
