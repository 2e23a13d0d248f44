package perception

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/gazestream/internal/monitoring"
)

// DatagramStats counts ingest outcomes.
type DatagramStats interface {
	AddPacket(bytes int)
	AddMalformed()
	AddDropped()
}

// Stats is the default DatagramStats.
type Stats struct {
	packets   atomic.Uint64
	bytes     atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
}

func (s *Stats) AddPacket(bytes int) {
	s.packets.Add(1)
	s.bytes.Add(uint64(bytes))
}
func (s *Stats) AddMalformed() { s.malformed.Add(1) }
func (s *Stats) AddDropped()   { s.dropped.Add(1) }

// StatsSnapshot is a copy of the counters.
type StatsSnapshot struct {
	Packets   uint64
	Bytes     uint64
	Malformed uint64
	Dropped   uint64
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Packets:   s.packets.Load(),
		Bytes:     s.bytes.Load(),
		Malformed: s.malformed.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// noopStats is used when no stats collector is supplied.
type noopStats struct{}

func (noopStats) AddPacket(int) {}
func (noopStats) AddMalformed() {}
func (noopStats) AddDropped()   {}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address string
	RcvBuf  int
	Queue   *Queue
	Stats   DatagramStats
	Now     func() time.Time
}

// UDPListener receives perception datagrams and queues decoded frames.
type UDPListener struct {
	address string
	rcvBuf  int
	queue   *Queue
	stats   DatagramStats
	now     func() time.Time

	conn  atomic.Pointer[net.UDPConn]
	ready chan struct{}
}

// NewUDPListener creates a listener. Start binds the socket.
func NewUDPListener(cfg UDPListenerConfig) *UDPListener {
	stats := cfg.Stats
	if stats == nil {
		stats = noopStats{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &UDPListener{
		address: cfg.Address,
		rcvBuf:  cfg.RcvBuf,
		queue:   cfg.Queue,
		stats:   stats,
		now:     now,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the socket is bound.
func (l *UDPListener) Ready() <-chan struct{} { return l.ready }

// LocalAddr returns the bound address, or nil before Ready.
func (l *UDPListener) LocalAddr() net.Addr {
	if c := l.conn.Load(); c != nil {
		return c.LocalAddr()
	}
	return nil
}

// Start reads datagrams until ctx is cancelled. The queue is closed on
// return so the frame loop sees io.EOF.
func (l *UDPListener) Start(ctx context.Context) error {
	defer l.queue.Close()

	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()
	l.conn.Store(conn)
	close(l.ready)

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("[Perception] Warning: failed to set UDP receive buffer to %d: %v", l.rcvBuf, err)
		}
	}
	monitoring.Logf("[Perception] UDP listener started on %s", conn.LocalAddr())

	buffer := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[Perception] UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// Read deadline lets the loop notice cancellation.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("[Perception] UDP read error: %v", err)
			continue
		}
		l.handleDatagram(buffer[:n])
	}
}

func (l *UDPListener) handleDatagram(b []byte) {
	l.stats.AddPacket(len(b))
	f, err := DecodeDatagram(b, l.now())
	if err != nil {
		l.stats.AddMalformed()
		return
	}
	if !l.queue.Offer(f) {
		l.stats.AddDropped()
	}
}
