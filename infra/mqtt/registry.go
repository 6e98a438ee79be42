// Package mqtt bridges the channel registry over an MQTT broker so that every
// instance of the service sees events published by the others. Each channel
// maps to the topic <prefix>/<channel>. Events published here go to the
// broker only; local subscribers receive them back through the broker
// subscription, which keeps a single delivery path.
//
// One publish sends the same envelope to every target topic. The first copy
// an instance receives is fanned out to all the envelope's channels at once
// and later copies are dropped, so a subscriber following several of the
// channels gets the event once.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/monitoring"
	"github.com/kilianp07/lastmile/internal/eventbus"
)

const (
	seenSize = 4096
	seenTTL  = time.Minute
)

// envelope is the broker payload of one publish.
type envelope struct {
	ID       string         `json:"id"`
	Channels []channel.Name `json:"channels"`
	Payload  channel.Event  `json:"payload"`
}

// Registry implements channel.Registry on top of an MQTT connection.
type Registry struct {
	cli     pahoClient
	local   *eventbus.ChannelBus
	prefix  string
	qos     byte
	retries int
	backoff time.Duration
	log     logger.Logger

	seenMu sync.Mutex
	seen   *expirable.LRU[string, struct{}]

	mu     sync.Mutex
	refs   map[channel.Name]int
	closed bool
}

var _ channel.Registry = (*Registry)(nil)

// NewRegistry connects to the broker described by cfg.
func NewRegistry(cfg Config, log logger.Logger) (*Registry, error) {
	if log == nil {
		return nil, fmt.Errorf("mqtt: nil logger")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		local:   eventbus.NewWithBuffer(cfg.Buffer),
		prefix:  cfg.TopicPrefix,
		qos:     cfg.QoS,
		retries: cfg.MaxRetries,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
		log:     log,
		seen:    expirable.NewLRU[string, struct{}](seenSize, nil, seenTTL),
		refs:    map[channel.Name]int{},
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		r.resubscribe(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	r.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return r, nil
}

// Local exposes the in-process fan-out, mainly for drop accounting.
func (r *Registry) Local() *eventbus.ChannelBus { return r.local }

func (r *Registry) topic(n channel.Name) (string, error) {
	if n == "" || strings.ContainsAny(string(n), "+#/") {
		return "", fmt.Errorf("mqtt: invalid channel name %q", n)
	}
	return r.prefix + "/" + string(n), nil
}

func (r *Registry) channelOf(topic string) (channel.Name, bool) {
	name, ok := strings.CutPrefix(topic, r.prefix+"/")
	if !ok || name == "" {
		return "", false
	}
	return channel.Name(name), true
}

// resubscribe restores broker subscriptions after a (re)connect.
func (r *Registry) resubscribe(c subscriber) {
	r.mu.Lock()
	names := make([]channel.Name, 0, len(r.refs))
	for n := range r.refs {
		names = append(names, n)
	}
	r.mu.Unlock()
	for _, n := range names {
		topic, err := r.topic(n)
		if err != nil {
			continue
		}
		if token := c.Subscribe(topic, r.qos, r.onMessage); token.Wait() && token.Error() != nil {
			r.log.Errorf("resubscribe %s: %v", topic, token.Error())
		}
	}
}

type subscriber interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

func (r *Registry) onMessage(_ paho.Client, msg paho.Message) {
	n, ok := r.channelOf(msg.Topic())
	if !ok {
		r.log.Warnf("message on unexpected topic %s", msg.Topic())
		return
	}
	var env envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		r.log.Errorf("failed to decode event on %s: %v", msg.Topic(), err)
		return
	}
	targets := []channel.Name{n}
	if env.ID != "" {
		if !r.firstSighting(env.ID) {
			return
		}
		if len(env.Channels) > 0 {
			targets = env.Channels
		}
	}
	if err := r.local.Publish(context.Background(), env.Payload, targets...); err != nil {
		r.log.Debugf("local publish on %v: %v", targets, err)
	}
}

// firstSighting records id and reports whether it was new.
func (r *Registry) firstSighting(id string) bool {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	if r.seen.Contains(id) {
		return false
	}
	r.seen.Add(id, struct{}{})
	return true
}

// Subscribe registers a local subscription and subscribes the broker to
// channels not yet followed by this instance.
func (r *Registry) Subscribe(channels ...channel.Name) (channel.Subscription, error) {
	for _, n := range channels {
		if _, err := r.topic(n); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, channel.ErrClosed
	}
	sub, err := r.local.Subscribe(channels...)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	var fresh []channel.Name
	for _, n := range sub.Channels() {
		r.refs[n]++
		if r.refs[n] == 1 {
			fresh = append(fresh, n)
		}
	}
	r.mu.Unlock()

	for _, n := range fresh {
		topic, _ := r.topic(n)
		token := r.cli.Subscribe(topic, r.qos, r.onMessage)
		if token.Wait() && token.Error() != nil {
			r.release(sub.Channels())
			sub.Unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
	}
	return &subscription{Subscription: sub, reg: r}, nil
}

// release drops references and unsubscribes the broker from channels nobody
// follows any more.
func (r *Registry) release(channels []channel.Name) {
	r.mu.Lock()
	var gone []string
	for _, n := range channels {
		if r.refs[n] == 0 {
			continue
		}
		r.refs[n]--
		if r.refs[n] == 0 {
			delete(r.refs, n)
			if topic, err := r.topic(n); err == nil {
				gone = append(gone, topic)
			}
		}
	}
	closed := r.closed
	r.mu.Unlock()
	if closed || len(gone) == 0 {
		return
	}
	if token := r.cli.Unsubscribe(gone...); token.Wait() && token.Error() != nil {
		r.log.Warnf("unsubscribe %v: %v", gone, token.Error())
	}
}

// Publish sends ev to the broker topic of every channel, retrying failed
// publishes with exponential backoff. Every copy carries the same id so
// receivers deliver it once per subscription.
func (r *Registry) Publish(ctx context.Context, ev channel.Event, channels ...channel.Name) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return channel.ErrClosed
	}
	var valid []channel.Name
	for _, n := range channels {
		if _, err := r.topic(n); err == nil {
			valid = append(valid, n)
		}
	}
	payload, err := json.Marshal(envelope{ID: uuid.NewString(), Channels: valid, Payload: ev})
	if err != nil {
		return err
	}
	var firstErr error
	for _, n := range channels {
		topic, err := r.topic(n)
		if err == nil {
			err = r.publish(ctx, topic, payload)
		}
		if err != nil {
			monitoring.CaptureException(err, map[string]string{"module": "mqtt", "channel": string(n), "event": ev.Name})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Registry) publish(ctx context.Context, topic string, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		token := r.cli.Publish(topic, r.qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			r.log.Debugf("published to %s", topic)
			return nil
		}
		r.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt == r.retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff * time.Duration(1<<attempt)):
		}
	}
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Close ends local subscriptions and disconnects from the broker.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.refs = map[channel.Name]int{}
	r.mu.Unlock()
	_ = r.local.Close()
	if r.cli != nil && r.cli.IsConnected() {
		r.cli.Disconnect(250)
	}
	return nil
}

type subscription struct {
	channel.Subscription
	reg  *Registry
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.Subscription.Unsubscribe()
		s.reg.release(s.Subscription.Channels())
	})
}
