//go:build !pcap
// +build !pcap

package perception

import (
	"context"
	"fmt"
)

// ReadPCAPFile is a stub implementation when PCAP support is disabled.
// Build with -tags=pcap to enable PCAP replay.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, q *Queue, stats DatagramStats) error {
	q.Close()
	return fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable PCAP replay")
}
