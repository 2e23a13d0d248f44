package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/gazestream/internal/monitoring"
)

// MQTTConfig holds configuration for the MQTT provider.
type MQTTConfig struct {
	Broker      string // e.g. "tcp://localhost:1883"
	ClientID    string
	TopicPrefix string
	QoS         byte

	// PublishTimeout bounds the wait for each publish token.
	PublishTimeout time.Duration

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration
}

// MQTTProvider publishes each stream on its own topic:
//
//	<prefix>/<stream>/info     retained descriptor JSON
//	<prefix>/<stream>/samples  one JSON sample per message
type MQTTProvider struct {
	cfg    MQTTConfig
	client mqtt.Client

	connected atomic.Bool
	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
}

// NewMQTTProvider creates an unconnected provider.
func NewMQTTProvider(cfg MQTTConfig) *MQTTProvider {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 50 * time.Millisecond
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")
	return &MQTTProvider{cfg: cfg, published: make(map[string]uint64)}
}

// newMQTTProviderWithClient wires an existing client, used by tests.
func newMQTTProviderWithClient(cfg MQTTConfig, client mqtt.Client) *MQTTProvider {
	p := NewMQTTProvider(cfg)
	p.client = client
	p.connected.Store(client.IsConnected())
	return p
}

// Start connects to the broker. Auto-reconnect stays on afterwards.
func (p *MQTTProvider) Start() error {
	if p.client != nil && p.connected.Load() {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		p.connected.Store(true)
		monitoring.Logf("[MQTT] Connected to %s as %s", p.cfg.Broker, p.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.connected.Store(false)
		monitoring.Logf("[MQTT] Connection lost, will auto-reconnect: %v", err)
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(p.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.connected.Store(true)
	return nil
}

// Close disconnects from the broker.
func (p *MQTTProvider) Close() error {
	if p.client == nil {
		return nil
	}
	p.connected.Store(false)
	p.client.Disconnect(250)
	return nil
}

// Open publishes the retained descriptor and returns the stream's outlet.
func (p *MQTTProvider) Open(desc Descriptor) (Outlet, error) {
	if p.client == nil {
		return nil, ErrNotRunning
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor %s: %w", desc.Name(), err)
	}
	base := p.cfg.TopicPrefix + "/" + desc.Name()
	if err := p.publish(base+"/info", true, payload); err != nil {
		return nil, fmt.Errorf("publish descriptor %s: %w", desc.Name(), err)
	}
	monitoring.Logf("[MQTT] Opened stream %s on %s/samples", desc, base)
	return &mqttOutlet{provider: p, name: desc.Name(), topic: base + "/samples"}, nil
}

// Published returns the number of successful publishes per topic.
func (p *MQTTProvider) Published() map[string]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		out[k] = v
	}
	return out
}

// Errors returns the number of failed publishes.
func (p *MQTTProvider) Errors() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errors
}

func (p *MQTTProvider) publish(topic string, retained bool, payload []byte) error {
	if !p.connected.Load() {
		p.countError()
		return fmt.Errorf("mqtt not connected: %w", ErrNotRunning)
	}
	token := p.client.Publish(topic, p.cfg.QoS, retained, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		p.countError()
		return fmt.Errorf("publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}
	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()
	return nil
}

func (p *MQTTProvider) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

type mqttOutlet struct {
	provider *MQTTProvider
	name     string
	topic    string
	closed   atomic.Bool
}

func (o *mqttOutlet) Push(s Sample) error {
	if o.closed.Load() {
		return ErrNotRunning
	}
	payload, err := EncodeSampleJSON(o.name, s)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	return o.provider.publish(o.topic, false, payload)
}

func (o *mqttOutlet) Close() error {
	o.closed.Store(true)
	return nil
}
