package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	path := writeFile(t, "config.yaml", `server:
  addr: ":9000"
  websocket:
    path: "/realtime"
    pong_timeout: "30s"
store:
  type: "sqlite"
  conf:
    path: "lastmile.db"
channels:
  type: "mqtt"
mqtt:
  broker: "tcp://localhost:1883"
  client_id: "api-1"
  qos: 1
auth:
  type: "static"
  conf:
    tokens:
      - token: "t1"
        id: "drv-1"
        roles: ["driver"]
assignment:
  interval_seconds: 10
  radius_km: 3
metrics:
  prometheus_addr: ":9100"
  sinks:
    - type: "prometheus"
logging:
  level: "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"server.addr", cfg.Server.Addr, ":9000"},
		{"websocket.path", cfg.Server.WebSocket.Path, "/realtime"},
		{"websocket.pong_timeout", cfg.Server.WebSocket.PongTimeout, 30 * time.Second},
		{"websocket.ping_interval", cfg.Server.WebSocket.PingInterval, 27 * time.Second},
		{"store.type", cfg.Store.Type, "sqlite"},
		{"store.conf.path", cfg.Store.Conf["path"], "lastmile.db"},
		{"channels.type", cfg.Channels.Type, ChannelsMQTT},
		{"mqtt.client_id", cfg.MQTT.ClientID, "api-1"},
		{"mqtt.qos", cfg.MQTT.QoS, byte(1)},
		{"mqtt.topic_prefix", cfg.MQTT.TopicPrefix, "lastmile/channels"},
		{"mqtt.buffer", cfg.MQTT.Buffer, 64},
		{"auth.type", cfg.Auth.Type, "static"},
		{"assignment.interval", cfg.Assignment.IntervalSeconds, 10},
		{"assignment.radius_km", cfg.Assignment.RadiusKm, 3.0},
		{"assignment.starvation_ticks", cfg.Assignment.StarvationTicks, 5},
		{"metrics.prometheus_addr", cfg.Metrics.PrometheusAddr, ":9100"},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "prometheus", true},
		{"logging.level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: got %v want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/ws", cfg.Server.WebSocket.Path)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "static", cfg.Auth.Type)
	assert.Equal(t, ChannelsMemory, cfg.Channels.Type)
	assert.Equal(t, 30, cfg.Assignment.IntervalSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.MQTT.Broker, "mqtt is untouched unless selected")
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeFile(t, "config.json", `{"assignment": {"radius_km": 3}}`)
	t.Setenv("K_ASSIGNMENT__RADIUS_KM", "8")
	t.Setenv("K_SERVER__ADDR", "127.0.0.1:7000")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8.0, cfg.Assignment.RadiusKm)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"mqtt without broker": "channels:\n  type: mqtt\n",
		"unknown channels":    "channels:\n  type: redis\n",
		"bad growth":          "assignment:\n  radius_growth: 0.5\n",
		"bad level":           "logging:\n  level: loud\n",
		"ping after pong":     "server:\n  websocket:\n    ping_interval: 2m\n    pong_timeout: 1m\n",
		"sample rate":         "sentry:\n  traces_sample_rate: 1.5\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", data))
			assert.Error(t, err)
		})
	}
	_, err := Load(writeFile(t, "config.toml", ""))
	assert.Error(t, err)
}
