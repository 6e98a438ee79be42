package plugins

import (
	"fmt"

	"github.com/kilianp07/lastmile/auth"
	"github.com/kilianp07/lastmile/config"
	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/factory"
	"github.com/kilianp07/lastmile/infra/logger"
	"github.com/kilianp07/lastmile/infra/mqtt"
	"github.com/kilianp07/lastmile/infra/store/memory"
	"github.com/kilianp07/lastmile/infra/store/sqldoc"
	"github.com/kilianp07/lastmile/internal/eventbus"
)

type sqliteConf struct {
	Path string `json:"path"`
}

type postgresConf struct {
	DSN string `json:"dsn"`
}

func init() {
	Stores.MustRegister("memory", func(map[string]any) (delivery.Backend, error) {
		return memory.New(), nil
	})
	Stores.MustRegister("sqlite", func(conf map[string]any) (delivery.Backend, error) {
		var c sqliteConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			c.Path = "lastmile.db"
		}
		return sqldoc.OpenSQLite(c.Path)
	})
	Stores.MustRegister("postgres", func(conf map[string]any) (delivery.Backend, error) {
		var c postgresConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.DSN == "" {
			return nil, fmt.Errorf("postgres: dsn is required")
		}
		return sqldoc.OpenPostgres(c.DSN)
	})

	Verifiers.MustRegister("static", func(conf map[string]any) (auth.Verifier, error) {
		var c auth.StaticConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return auth.NewStaticVerifier(c)
	})
	Verifiers.MustRegister("introspection", func(conf map[string]any) (auth.Verifier, error) {
		var c auth.IntrospectionConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return auth.NewIntrospectionVerifier(c)
	})
}

// NewChannels builds the channel registry selected by cfg. The returned bus
// is the in-process fan-out that reaches local subscribers; with mqtt it is
// fed by the broker.
func NewChannels(cfg config.ChannelsConfig, mq mqtt.Config) (channel.Registry, *eventbus.ChannelBus, error) {
	switch cfg.Type {
	case config.ChannelsMemory, "":
		bus := eventbus.NewWithBuffer(cfg.Buffer)
		return bus, bus, nil
	case config.ChannelsMQTT:
		if mq.Buffer <= 0 {
			mq.Buffer = cfg.Buffer
		}
		r, err := mqtt.NewRegistry(mq, logger.New("mqtt"))
		if err != nil {
			return nil, nil, err
		}
		return r, r.Local(), nil
	default:
		return nil, nil, fmt.Errorf("unknown channels type %q", cfg.Type)
	}
}
