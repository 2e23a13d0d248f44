package stream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/gazestream/internal/monitoring"
)

const hubServiceName = "gazestream.v1.StreamHub"

// hubService is the gRPC handler contract. Messages are well-known types so
// no generated code is needed: requests are a StringValue stream name,
// responses are Structs from codec.go.
type hubService interface {
	Describe(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Subscribe(*wrapperspb.StringValue, grpc.ServerStream) error
}

var hubServiceDesc = grpc.ServiceDesc{
	ServiceName: hubServiceName,
	HandlerType: (*hubService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Describe", Handler: describeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "gazestream/v1/hub.proto",
}

func describeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(hubService).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + hubServiceName + "/Describe",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(hubService).Describe(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv interface{}, ss grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := ss.RecvMsg(in); err != nil {
		return err
	}
	return srv.(hubService).Subscribe(in, ss)
}

// HubConfig holds configuration for the gRPC hub.
type HubConfig struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061").
	ListenAddr string

	// SubscriberBuffer is the per-subscriber queue depth. A subscriber whose
	// queue is full misses samples.
	SubscriberBuffer int
}

// Hub serves every opened stream over one gRPC server. Push fans out to
// per-subscriber queues without blocking.
type Hub struct {
	config   HubConfig
	server   *grpc.Server
	listener net.Listener

	mu      sync.RWMutex
	streams map[string]*hubStream

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type hubStream struct {
	desc Descriptor
	info *structpb.Struct

	mu     sync.RWMutex
	subs   map[string]chan *structpb.Struct
	closed bool

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// HubStats is a snapshot of hub counters.
type HubStats struct {
	Running     bool
	Streams     int
	Subscribers int
	Pushed      uint64
	Dropped     uint64
}

// NewHub creates a Hub. Call Start before pushing.
func NewHub(cfg HubConfig) *Hub {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}
	return &Hub{
		config:  cfg,
		streams: make(map[string]*hubStream),
		stopCh:  make(chan struct{}),
	}
}

// Start binds the listener and serves in the background.
func (h *Hub) Start() error {
	if h.running.Load() {
		return fmt.Errorf("hub already running")
	}

	lis, err := net.Listen("tcp", h.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	h.listener = lis

	h.server = grpc.NewServer()
	h.server.RegisterService(&hubServiceDesc, h)
	h.running.Store(true)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		monitoring.Logf("[StreamHub] gRPC server listening on %s", lis.Addr())
		if err := h.server.Serve(lis); err != nil && h.running.Load() {
			monitoring.Logf("[StreamHub] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (h *Hub) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Close stops the server and ends every subscription.
func (h *Hub) Close() error {
	if !h.running.Load() {
		return nil
	}
	h.running.Store(false)
	close(h.stopCh)

	if h.server != nil {
		h.server.GracefulStop()
	}
	h.wg.Wait()
	monitoring.Logf("[StreamHub] gRPC server stopped")
	return nil
}

// Open registers desc and returns its outlet. Stream names are unique.
func (h *Hub) Open(desc Descriptor) (Outlet, error) {
	info, err := DescriptorToStruct(desc)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.streams[desc.Name()]; exists {
		return nil, fmt.Errorf("stream %s already open", desc.Name())
	}
	s := &hubStream{
		desc: desc,
		info: info,
		subs: make(map[string]chan *structpb.Struct),
	}
	h.streams[desc.Name()] = s
	monitoring.Logf("[StreamHub] Opened stream %s", desc)
	return &hubOutlet{hub: h, stream: s}, nil
}

// Stats returns current hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := HubStats{Running: h.running.Load(), Streams: len(h.streams)}
	for _, s := range h.streams {
		s.mu.RLock()
		st.Subscribers += len(s.subs)
		s.mu.RUnlock()
		st.Pushed += s.pushed.Load()
		st.Dropped += s.dropped.Load()
	}
	return st
}

func (h *Hub) lookup(name string) (*hubStream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.streams[name]
	return s, ok
}

// Describe implements hubService.
func (h *Hub) Describe(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	s, ok := h.lookup(req.GetValue())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "%v: %s", ErrUnknownStream, req.GetValue())
	}
	return s.info, nil
}

// Subscribe implements hubService. It streams samples until the client goes
// away, the outlet closes or the hub stops.
func (h *Hub) Subscribe(req *wrapperspb.StringValue, ss grpc.ServerStream) error {
	s, ok := h.lookup(req.GetValue())
	if !ok {
		return status.Errorf(codes.NotFound, "%v: %s", ErrUnknownStream, req.GetValue())
	}

	id := uuid.NewString()
	ch := make(chan *structpb.Struct, h.config.SubscriberBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return status.Errorf(codes.Unavailable, "stream %s closed", req.GetValue())
	}
	s.subs[id] = ch
	n := len(s.subs)
	s.mu.Unlock()
	monitoring.Logf("[StreamHub] Subscriber %s joined %s (total: %d)", id, s.desc.Name(), n)

	defer func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		monitoring.Logf("[StreamHub] Subscriber %s left %s", id, s.desc.Name())
	}()

	ctx := ss.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.stopCh:
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := ss.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

type hubOutlet struct {
	hub    *Hub
	stream *hubStream
}

// Push fans the sample out without blocking. A subscriber with a full queue
// misses this sample; the push still succeeds.
func (o *hubOutlet) Push(smp Sample) error {
	if !o.hub.running.Load() {
		return ErrNotRunning
	}
	s := o.stream
	msg := SampleToStruct(s.desc.Name(), smp)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrNotRunning
	}
	for _, ch := range s.subs {
		select {
		case ch <- msg:
		default:
			s.dropped.Add(1)
		}
	}
	s.pushed.Add(1)
	return nil
}

// Close ends the stream's subscriptions and unregisters it.
func (o *hubOutlet) Close() error {
	s := o.stream
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
	}
	s.mu.Unlock()

	o.hub.mu.Lock()
	delete(o.hub.streams, s.desc.Name())
	o.hub.mu.Unlock()
	return nil
}
