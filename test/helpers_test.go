package test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/lastmile/app"
	"github.com/kilianp07/lastmile/config"
	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/factory"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/scheduler"
)

var tokens = []any{
	map[string]any{"token": "t-store", "id": "store-1", "roles": []any{"store"}},
	map[string]any{"token": "t-ops", "id": "ops-1", "roles": []any{"dispatcher"}},
	map[string]any{"token": "t-drv", "id": "drv-1", "roles": []any{"driver"}},
	map[string]any{"token": "t-drv2", "id": "drv-2", "roles": []any{"driver"}},
	map[string]any{"token": "t-cust", "id": "cust-1", "roles": []any{"customer"}},
}

func baseConfig() *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{Addr: "127.0.0.1:0"},
		Auth:       factory.ModuleConfig{Type: "static", Conf: map[string]any{"tokens": tokens}},
		Assignment: scheduler.Config{IntervalSeconds: 1},
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func start(t *testing.T, cfg *config.Config) *app.Service {
	t.Helper()
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	svc, err := app.New(cfg, app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("service did not stop")
		}
		assert.NoError(t, svc.Close())
	})
	select {
	case <-svc.API.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("api not ready")
	}
	return svc
}

func call(t *testing.T, svc *app.Service, method, path, token, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, "http://"+svc.API.Addr()+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, svc *app.Service, token string) *client {
	t.Helper()
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+svc.API.Addr()+"/ws", h)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(name string, payload any) {
	c.t.Helper()
	ev, err := channel.NewEvent(name, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(ev))
}

// expect reads events until one named name arrives and decodes it into v.
func (c *client) expect(name string, v any) {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(c.t, c.conn.SetReadDeadline(deadline))
	for {
		var ev channel.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.t.Fatalf("waiting for %s: %v", name, err)
		}
		if ev.Name == channel.EventError {
			var p channel.ErrorPayload
			_ = ev.Decode(&p)
			c.t.Fatalf("server error while waiting for %s: %s", name, p.Message)
		}
		if ev.Name != name {
			continue
		}
		if v != nil {
			require.NoError(c.t, ev.Decode(v))
		}
		return
	}
}

const orderBody = `{
	"orderId": %q, "customerId": "cust-1",
	"pickupLocation": {"coordinates": [2.3530, 48.8570], "address": "store"},
	"destinationLocation": {"coordinates": [2.3330, 48.8660], "address": "home"},
	"deliveryCost": 7.5
}`

// expectStatus skips earlier status pushes until id reaches st.
func (c *client) expectStatus(id string, st model.Status) channel.DeliveryStatusUpdate {
	c.t.Helper()
	for {
		var up channel.DeliveryStatusUpdate
		c.expect(channel.EventDeliveryStatusUpdate, &up)
		if up.DeliveryID == id && up.Status == st {
			return up
		}
	}
}
