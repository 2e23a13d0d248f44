package stream

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotRunning is returned by Push on an outlet whose transport has
	// been stopped or has not started.
	ErrNotRunning = errors.New("transport not running")

	// ErrUnknownStream is returned when a subscriber asks for a stream that
	// was never opened.
	ErrUnknownStream = errors.New("unknown stream")
)

// Sample is one accepted record: a fixed-length value vector and the
// monotonic timestamp captured when the publisher accepted it.
type Sample struct {
	Values    []float64
	Timestamp float64
}

// Outlet is one open output stream. Push must return within a bounded time;
// a slow subscriber loses its own copy rather than stalling the caller.
type Outlet interface {
	Push(s Sample) error
	Close() error
}

// Provider owns a transport and opens one Outlet per stream descriptor.
type Provider interface {
	Start() error
	Open(desc Descriptor) (Outlet, error)
	Close() error
}

// Transport selects a Provider implementation.
type Transport string

const (
	TransportGRPC      Transport = "grpc"
	TransportMQTT      Transport = "mqtt"
	TransportWebSocket Transport = "websocket"
)

// IsValid reports whether t names a known transport.
func (t Transport) IsValid() bool {
	switch t {
	case TransportGRPC, TransportMQTT, TransportWebSocket:
		return true
	}
	return false
}

// ProviderConfig carries the settings for every transport; each reads only
// its own.
type ProviderConfig struct {
	GRPCListen       string
	MQTTBroker       string
	MQTTClientID     string
	MQTTTopicPrefix  string
	MQTTQoS          byte
	WebSocketListen  string
	PublishTimeout   time.Duration
	SubscriberBuffer int
}

// NewProvider builds the provider for t. It does not start it.
func NewProvider(t Transport, cfg ProviderConfig) (Provider, error) {
	switch t {
	case TransportGRPC:
		return NewHub(HubConfig{
			ListenAddr:       cfg.GRPCListen,
			SubscriberBuffer: cfg.SubscriberBuffer,
		}), nil
	case TransportMQTT:
		return NewMQTTProvider(MQTTConfig{
			Broker:         cfg.MQTTBroker,
			ClientID:       cfg.MQTTClientID,
			TopicPrefix:    cfg.MQTTTopicPrefix,
			QoS:            cfg.MQTTQoS,
			PublishTimeout: cfg.PublishTimeout,
		}), nil
	case TransportWebSocket:
		return NewWebSocketHub(WebSocketConfig{
			ListenAddr:       cfg.WebSocketListen,
			SubscriberBuffer: cfg.SubscriberBuffer,
			WriteTimeout:     cfg.PublishTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", t)
	}
}
