// Command gaze-tail subscribes to one stream on a gazestream gRPC hub and
// prints its descriptor followed by every received sample.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/gazestream/internal/stream"
)

var (
	addr       = flag.String("addr", "localhost:50061", "gRPC hub address")
	streamName = flag.String("stream", "EyeGaze", "Stream to subscribe to")
	count      = flag.Int("n", 0, "Exit after N samples (0 runs until interrupted)")
	precision  = flag.Int("precision", 4, "Digits printed after the decimal point")
)

var errDone = errors.New("sample limit reached")

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := stream.Dial(*addr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	desc, err := client.Describe(dctx, *streamName)
	cancel()
	if err != nil {
		log.Fatalf("Failed to describe stream: %v", err)
	}
	fmt.Fprintf(os.Stdout, "# %s\n# labels: %s\n", desc, strings.Join(desc.Labels(), ","))

	n := 0
	err = client.Subscribe(ctx, *streamName, func(s stream.Sample) error {
		fmt.Fprintln(os.Stdout, formatSample(s, *precision))
		n++
		if *count > 0 && n >= *count {
			return errDone
		}
		return nil
	})
	switch {
	case err == nil, errors.Is(err, errDone), ctx.Err() != nil:
	default:
		log.Fatalf("Subscription ended: %v", err)
	}
	log.Printf("Received %d samples", n)
}

// formatSample renders a sample as "<timestamp> v1 v2 ...", with NaN for the
// sentinel.
func formatSample(s stream.Sample, prec int) string {
	var b strings.Builder
	b.WriteString(strconv.FormatFloat(s.Timestamp, 'f', 6, 64))
	for _, v := range s.Values {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(v, 'f', prec, 64))
	}
	return b.String()
}
