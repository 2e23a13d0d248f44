// Command gazestream republishes per-frame gaze and face landmark estimates
// from the perception process as two validated telemetry streams.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/gazestream/internal/config"
	"github.com/banshee-data/gazestream/internal/engine"
	"github.com/banshee-data/gazestream/internal/gaze"
	"github.com/banshee-data/gazestream/internal/landmarks"
	"github.com/banshee-data/gazestream/internal/monitoring"
	"github.com/banshee-data/gazestream/internal/perception"
	"github.com/banshee-data/gazestream/internal/publish"
	"github.com/banshee-data/gazestream/internal/recorder"
	"github.com/banshee-data/gazestream/internal/smoothing"
	"github.com/banshee-data/gazestream/internal/stream"
	"github.com/banshee-data/gazestream/internal/timeutil"
	"github.com/banshee-data/gazestream/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the JSON pipeline configuration")
	synthetic  = flag.Bool("synthetic", false, "Generate synthetic frames instead of listening for perception datagrams")
	frames     = flag.Int("frames", 0, "Stop the synthetic source after N frames (0 runs until interrupted)")
	pcapFile   = flag.String("pcap", "", "Replay perception datagrams from a PCAP file (requires the pcap build tag)")
	pcapPort   = flag.Int("pcap-port", 5005, "UDP port of the perception datagrams in the PCAP file")
	queueDepth = flag.Int("queue", 4, "Frames buffered between ingest and the frame loop")
	showVer    = flag.Bool("version", false, "Print build information and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}
	if *synthetic && *pcapFile != "" {
		log.Fatal("-synthetic and -pcap are mutually exclusive")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Starting %s with config %s", version.String(), *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}
	mono := timeutil.NewMonotonic(clock)

	// Smoothing
	smoother, err := smoothing.New(cfg.GetSmoothingMethod(), cfg.SmoothingParams(), clock)
	if err != nil {
		log.Fatalf("Failed to create smoother: %v", err)
	}
	calibration, err := config.LoadCalibration(cfg.GetCalibrationPath())
	if err != nil {
		log.Fatalf("Failed to load calibration: %v", err)
	}
	if err := smoother.Tune(calibration); err != nil {
		log.Fatalf("Failed to tune smoother: %v", err)
	}
	log.Printf("Smoother %s tuned from %d calibration samples", cfg.GetSmoothingMethod(), len(calibration))

	// Builders
	policy := cfg.GetTransmissionPolicy()
	profile, err := cfg.ResolveLandmarkProfile()
	if err != nil {
		log.Fatalf("Invalid landmark profile: %v", err)
	}
	gazeBuilder, err := gaze.NewBuilder(gaze.BuilderConfig{
		Smoother:   smoother,
		Predictor:  perception.Remote{},
		Width:      cfg.GetScreenWidth(),
		Height:     cfg.GetScreenHeight(),
		Policy:     policy,
		ExtremePx:  cfg.GetGazeExtremePx(),
		CursorStep: cfg.GetCursorStep(),
	})
	if err != nil {
		log.Fatalf("Failed to create gaze builder: %v", err)
	}
	landmarkBuilder, err := landmarks.NewBuilder(landmarks.BuilderConfig{
		Profile: profile,
		Policy:  policy,
		Extreme: cfg.GetLandmarkExtreme(),
		ZBound:  cfg.GetLandmarkZBound(),
	})
	if err != nil {
		log.Fatalf("Failed to create landmark builder: %v", err)
	}

	// Stream descriptors
	gazeDesc, err := gaze.NewDescriptor(gaze.DescriptorConfig{
		Name:        cfg.GetGazeStreamName(),
		Type:        cfg.GetGazeStreamType(),
		SourceID:    cfg.GetGazeSourceID(),
		NominalRate: cfg.GetGazeRateHz(),
	})
	if err != nil {
		log.Fatalf("Invalid gaze stream: %v", err)
	}
	landmarkDesc, err := landmarks.NewDescriptor(profile, landmarks.DescriptorConfig{
		Name:        cfg.GetLandmarkStreamName(),
		Type:        cfg.GetLandmarkStreamType(),
		SourceID:    cfg.GetLandmarkSourceID(),
		NominalRate: cfg.GetLandmarkRateHz(),
	})
	if err != nil {
		log.Fatalf("Invalid landmark stream: %v", err)
	}

	// Transport
	provider, err := stream.NewProvider(cfg.GetTransport(), stream.ProviderConfig{
		GRPCListen:       cfg.GetGRPCListen(),
		MQTTBroker:       cfg.GetMQTTBroker(),
		MQTTClientID:     cfg.GetMQTTClientID(),
		MQTTTopicPrefix:  cfg.GetMQTTTopicPrefix(),
		MQTTQoS:          byte(cfg.GetMQTTQoS()),
		WebSocketListen:  cfg.GetWebSocketListen(),
		PublishTimeout:   cfg.GetPublishTimeout(),
		SubscriberBuffer: cfg.GetSubscriberBuffer(),
	})
	if err != nil {
		log.Fatalf("Failed to create %s transport: %v", cfg.GetTransport(), err)
	}
	if err := provider.Start(); err != nil {
		log.Fatalf("Failed to start %s transport: %v", cfg.GetTransport(), err)
	}
	defer provider.Close()

	gazeOutlet := openOutlet(provider, gazeDesc, cfg.GetOnStreamError())
	landmarkOutlet := openOutlet(provider, landmarkDesc, cfg.GetOnStreamError())

	// Optional session recorder
	var rec *recorder.Recorder
	var tap publish.Tap
	if path := cfg.GetRecorderPath(); path != "" {
		rec, err = recorder.Open(recorder.Config{
			Path:        path,
			Transport:   string(cfg.GetTransport()),
			Descriptors: []stream.Descriptor{gazeDesc, landmarkDesc},
		})
		if err != nil {
			log.Fatalf("Failed to open recorder: %v", err)
		}
		defer rec.Close()
		tap = rec
	}

	board := monitoring.NewStatusBoard(cfg.GetStatusInterval(), "Gaze", "FaceMesh")
	publisher, err := publish.New(publish.Config{
		Policy: policy,
		Gaze: publish.ChannelConfig{
			Label:      "Gaze",
			Descriptor: gazeDesc,
			Outlet:     gazeOutlet,
			Bounds:     gaze.Bounds(cfg.GetGazeFinalAbsMax()),
		},
		Landmarks: publish.ChannelConfig{
			Label:       "FaceMesh",
			Descriptor:  landmarkDesc,
			Outlet:      landmarkOutlet,
			Bounds:      landmarks.Bounds(cfg.GetLandmarkZBound(), cfg.GetLandmarkFinalAbsMax()),
			BlockedText: "BLOCKED (out of range)",
		},
		Clock:  mono,
		Status: board,
		Tap:    tap,
	})
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}
	defer publisher.Close()

	var wg sync.WaitGroup

	// Frame source
	var (
		source perception.Source
		stats  perception.Stats
	)
	switch {
	case *synthetic:
		sc := perception.DefaultSyntheticConfig()
		sc.Width, sc.Height = cfg.GetScreenWidth(), cfg.GetScreenHeight()
		sc.Frames = *frames
		sc.Clock = clock
		source = perception.NewSynthetic(sc)
		log.Printf("Using synthetic frames at %.0f fps", sc.FrameRate)
	case *pcapFile != "":
		q := perception.NewQueue(*queueDepth)
		source = q
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := perception.ReadPCAPFile(ctx, *pcapFile, *pcapPort, q, &stats); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("PCAP replay error: %v", err)
			}
		}()
	default:
		q := perception.NewQueue(*queueDepth)
		source = q
		listener := perception.NewUDPListener(perception.UDPListenerConfig{
			Address: cfg.GetPerceptionListen(),
			RcvBuf:  cfg.GetPerceptionRcvBuf(),
			Queue:   q,
			Stats:   &stats,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Perception listener error: %v", err)
			}
		}()
	}
	defer source.Close()

	eng, err := engine.New(engine.Config{
		Source:    source,
		Extractor: perception.Remote{},
		Detector:  perception.Remote{},
		Gaze:      gazeBuilder,
		Landmarks: landmarkBuilder,
		Publisher: publisher,
		Board:     board,
		Clock:     clock,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	// Status server
	if addr := cfg.GetStatusListen(); addr != "" {
		server := monitoring.NewServer(monitoring.ServerConfig{Address: addr, Board: board})
		server.Register("build", func() any { return version.Get() })
		server.Register("engine", func() any { return eng.Stats() })
		server.Register("ingest", func() any { return stats.Snapshot() })
		if hub, ok := provider.(*stream.Hub); ok {
			server.Register("transport", func() any { return hub.Stats() })
		}
		if rec != nil {
			server.Register("recorder", func() any { return rec.Stats() })
			if err := rec.AttachAdminRoutes(server.Mux()); err != nil {
				log.Fatalf("Failed to attach recorder admin routes: %v", err)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				log.Printf("Status server error: %v", err)
			}
		}()
	}

	if err := eng.Run(ctx); err != nil {
		log.Printf("Frame loop stopped: %v", err)
	}

	// Stop ingest and the status server before the deferred closes run.
	stop()
	wg.Wait()
	log.Printf("Shut down after %d frames", eng.Stats().Frames)
}

// openOutlet opens desc on provider. A failure disables the stream or, in
// fail mode, aborts startup.
func openOutlet(p stream.Provider, desc stream.Descriptor, mode config.StreamErrorMode) stream.Outlet {
	outlet, err := p.Open(desc)
	if err == nil {
		return outlet
	}
	if mode == config.StreamErrorFail {
		log.Fatalf("Failed to open stream %s: %v", desc.Name(), err)
	}
	log.Printf("Failed to open stream %s, disabling it: %v", desc.Name(), err)
	return nil
}
