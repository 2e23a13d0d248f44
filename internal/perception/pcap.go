//go:build pcap
// +build pcap

package perception

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/gazestream/internal/monitoring"
)

// ReadPCAPFile replays captured perception datagrams on udpPort into q,
// paced by their capture timestamps. The queue is closed at end of file.
// This function is only available when building with the 'pcap' build tag.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, q *Queue, stats DatagramStats) error {
	defer q.Close()
	if stats == nil {
		stats = noopStats{}
	}

	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter '%s': %w", filterStr, err)
	}
	monitoring.Logf("[Perception] PCAP BPF filter set: %s", filterStr)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetCount := 0
	var firstCapture, replayStart time.Time

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[Perception] PCAP replay stopping due to context cancellation (processed %d packets)", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				monitoring.Logf("[Perception] PCAP replay complete: %d packets", packetCount)
				return nil
			}
			packetCount++

			udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}
			stats.AddPacket(len(udp.Payload))

			captured := packet.Metadata().Timestamp
			if firstCapture.IsZero() {
				firstCapture, replayStart = captured, time.Now()
			}
			if wait := captured.Sub(firstCapture) - time.Since(replayStart); wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}

			f, err := DecodeDatagram(udp.Payload, captured)
			if err != nil {
				stats.AddMalformed()
				continue
			}
			if err := q.Put(ctx, f); err != nil {
				return err
			}
		}
	}
}
