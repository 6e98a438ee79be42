package mqtt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/lastmile/core/channel"
	coremon "github.com/kilianp07/lastmile/core/monitoring"
	"github.com/kilianp07/lastmile/infra/logger"
)

// mockBroker is shared by the mock clients of one test and routes published
// payloads to every client subscribed to the exact topic.
type mockBroker struct {
	mu      sync.Mutex
	clients []*mockClient
}

func (b *mockBroker) route(topic string, payload []byte) {
	b.mu.Lock()
	clients := append([]*mockClient(nil), b.clients...)
	b.mu.Unlock()
	for _, c := range clients {
		c.mu.Lock()
		h := c.handlers[topic]
		c.mu.Unlock()
		if h != nil {
			h(c, mockMessage{topic: topic, p: payload})
		}
	}
}

// mockClient implements pahoClient and paho.Client for tests.
type mockClient struct {
	broker *mockBroker
	opts   *paho.ClientOptions

	mu           sync.Mutex
	handlers     map[string]paho.MessageHandler
	subscribed   []string
	unsubscribed []string
	published    []string
	publishErrs  []error
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	m.published = append(m.published, topic)
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		m.mu.Unlock()
		if err != nil {
			return &dummyToken{err: err}
		}
	} else {
		m.mu.Unlock()
	}
	if m.broker != nil {
		m.broker.route(topic, payload.([]byte))
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	m.mu.Lock()
	if m.handlers == nil {
		m.handlers = map[string]paho.MessageHandler{}
	}
	m.handlers[topic] = cb
	m.subscribed = append(m.subscribed, topic)
	m.mu.Unlock()
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(topics ...string) paho.Token {
	m.mu.Lock()
	for _, t := range topics {
		delete(m.handlers, t)
		m.unsubscribed = append(m.unsubscribed, t)
	}
	m.mu.Unlock()
	return &dummyToken{}
}
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}

// useMock replaces the client constructor for the duration of the test.
func useMock(t *testing.T, b *mockBroker) *[]*mockClient {
	t.Helper()
	var made []*mockClient
	newMQTTClient = func(o *paho.ClientOptions) pahoClient {
		mc := &mockClient{broker: b, opts: o}
		if b != nil {
			b.mu.Lock()
			b.clients = append(b.clients, mc)
			b.mu.Unlock()
		}
		made = append(made, mc)
		return mc
	}
	t.Cleanup(func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } })
	return &made
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	if cfg.Broker == "" {
		cfg.Broker = "tcp://localhost:1883"
	}
	if cfg.BackoffMS == 0 {
		cfg.BackoffMS = 1
	}
	r, err := NewRegistry(cfg, logger.NopLogger{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func receive(t *testing.T, sub channel.Subscription) channel.Message {
	t.Helper()
	select {
	case m := <-sub.C():
		return m
	case <-time.After(time.Second):
		t.Fatalf("no message")
		return channel.Message{}
	}
}

func TestRegistryDeliversAcrossInstances(t *testing.T) {
	broker := &mockBroker{}
	useMock(t, broker)
	a := newTestRegistry(t, Config{ClientID: "a"})
	b := newTestRegistry(t, Config{ClientID: "b"})

	customer, err := b.Subscribe(channel.Customer("c1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	driver, err := b.Subscribe(channel.Driver("d2"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ev, _ := channel.NewEvent(channel.EventDeliveryStatusUpdate, channel.DeliveryStatusUpdate{DeliveryID: "del-1"})
	if err := a.Publish(context.Background(), ev, channel.Customer("c1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	m := receive(t, customer)
	if m.Channel != channel.Customer("c1") || m.Event.Name != channel.EventDeliveryStatusUpdate {
		t.Fatalf("unexpected message %+v", m)
	}
	select {
	case m := <-driver.C():
		t.Fatalf("driver channel received %+v", m)
	default:
	}
}

func TestRegistryDeliversMultiChannelEventOnce(t *testing.T) {
	broker := &mockBroker{}
	useMock(t, broker)
	a := newTestRegistry(t, Config{ClientID: "a"})
	b := newTestRegistry(t, Config{ClientID: "b"})

	both, err := b.Subscribe(channel.Customer("c1"), channel.Store("s1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	store, err := b.Subscribe(channel.Store("s1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ev, _ := channel.NewEvent(channel.EventDeliveryStatusUpdate, channel.DeliveryStatusUpdate{DeliveryID: "del-1"})
	if err := a.Publish(context.Background(), ev, channel.Customer("c1"), channel.Store("s1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for name, sub := range map[string]channel.Subscription{"both": both, "store": store} {
		m := receive(t, sub)
		if m.Event.Name != channel.EventDeliveryStatusUpdate {
			t.Fatalf("%s: unexpected message %+v", name, m)
		}
		select {
		case extra := <-sub.C():
			t.Fatalf("%s: received the event twice: %+v", name, extra)
		case <-time.After(50 * time.Millisecond):
		}
	}

	// A second publish of the same event is a new delivery.
	if err := a.Publish(context.Background(), ev, channel.Customer("c1"), channel.Store("s1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	receive(t, both)
}

func TestRegistryRefCountsBrokerSubscriptions(t *testing.T) {
	made := useMock(t, nil)
	r := newTestRegistry(t, Config{TopicPrefix: "fleet/"})
	mc := (*made)[0]

	s1, err := r.Subscribe(channel.Store("s1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	s2, err := r.Subscribe(channel.Store("s1"), channel.Customer("c1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(mc.subscribed) != 2 || mc.subscribed[0] != "fleet/store_s1" || mc.subscribed[1] != "fleet/customer_c1" {
		t.Fatalf("unexpected broker subscriptions %v", mc.subscribed)
	}
	s1.Unsubscribe()
	if len(mc.unsubscribed) != 0 {
		t.Fatalf("store_s1 still followed by s2, got %v", mc.unsubscribed)
	}
	s2.Unsubscribe()
	s2.Unsubscribe()
	if len(mc.unsubscribed) != 2 {
		t.Fatalf("expected both topics released, got %v", mc.unsubscribed)
	}
	if _, ok := <-s2.C(); ok {
		t.Fatalf("expected closed subscription")
	}
}

func TestRegistryResubscribesOnReconnect(t *testing.T) {
	made := useMock(t, nil)
	r := newTestRegistry(t, Config{})
	mc := (*made)[0]
	if _, err := r.Subscribe(channel.Driver("d1")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mc.opts.OnConnect(mc)
	if len(mc.subscribed) != 2 || mc.subscribed[1] != "lastmile/channels/driver_d1" {
		t.Fatalf("expected resubscription, got %v", mc.subscribed)
	}
}

func TestRegistryPublishRetries(t *testing.T) {
	made := useMock(t, nil)
	r := newTestRegistry(t, Config{MaxRetries: 1})
	mc := (*made)[0]
	mc.publishErrs = []error{fmt.Errorf("net fail"), nil}
	ev := channel.ErrorEvent("x")
	if err := r.Publish(context.Background(), ev, channel.Driver("d1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(mc.published) != 2 {
		t.Fatalf("expected retries, got %d", len(mc.published))
	}
}

type recordMonitor struct {
	mu   sync.Mutex
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	r.err = err
	r.tags = tags
	r.mu.Unlock()
}
func (r *recordMonitor) RecoverValue(any)    {}
func (r *recordMonitor) Flush(time.Duration) {}

func TestRegistryPublishErrorCaptured(t *testing.T) {
	made := useMock(t, nil)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	r := newTestRegistry(t, Config{MaxRetries: 1})
	mc := (*made)[0]
	mc.publishErrs = []error{fmt.Errorf("net fail"), fmt.Errorf("net fail")}
	if err := r.Publish(context.Background(), channel.ErrorEvent("x"), channel.Store("s1")); err == nil {
		t.Fatalf("expected error")
	}
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if mon.err == nil || mon.tags["channel"] != "store_s1" || mon.tags["module"] != "mqtt" {
		t.Fatalf("error not captured: %v %v", mon.err, mon.tags)
	}
}

func TestRegistryRejectsWildcardChannels(t *testing.T) {
	useMock(t, nil)
	r := newTestRegistry(t, Config{})
	if _, err := r.Subscribe(channel.Name("driver_#")); err == nil {
		t.Fatalf("expected error")
	}
	if err := r.Publish(context.Background(), channel.ErrorEvent("x"), channel.Name("store_a/b")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRegistryClosed(t *testing.T) {
	useMock(t, nil)
	r := newTestRegistry(t, Config{})
	sub, _ := r.Subscribe(channel.Driver("d1"))
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed subscription")
	}
	if _, err := r.Subscribe(channel.Driver("d1")); err != channel.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := r.Publish(context.Background(), channel.ErrorEvent("x"), channel.Driver("d1")); err != channel.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	sub.Unsubscribe()
}
