package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roboregion/c110p/pkg/c110p"
	"github.com/roboregion/c110p/pkg/command"
	"github.com/roboregion/c110p/pkg/metrics"
	"github.com/roboregion/c110p/pkg/serialstream"
	"github.com/roboregion/c110p/pkg/telemetry"
	"github.com/roboregion/c110p/pkg/trace"
)

// Configuration flags
var (
	serialDevice = flag.String("serial", "/dev/ttymxc1", "Serial device path")
	baudRate     = flag.Int("baud", 115200, "Serial baud rate")
	region       = flag.String("region", "body", "This node's region: body or dome")
	timeoutMs    = flag.Uint64("timeout-ms", 500, "Per-message ack timeout, in milliseconds")
	maxRetries   = flag.Uint("max-retries", 3, "Maximum resend attempts per outbound message")

	redisAddr   = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass   = flag.String("redis-pass", "", "Redis password")
	redisDB     = flag.Int("redis-db", 0, "Redis database number")
	redisPrefix = flag.String("redis-key-prefix", "c110p", "Prefix for stats/ack hash keys and the command list key")

	tracePath     = flag.String("trace-file", "", "If set, write a CBOR trace of every tx/rx frame to this path (truncated at startup)")
	metricsListen = flag.String("metrics-listen", ":9110", "Address to serve Prometheus metrics on")
)

func parseRegion(s string) command.Region {
	switch s {
	case "dome":
		return command.RegionDome
	case "body":
		return command.RegionBody
	default:
		log.Fatalf("unrecognized -region %q (want body or dome)", s)
		return command.RegionUnspecified
	}
}

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting c110p bridge")
	log.Printf("Serial device: %s", *serialDevice)
	log.Printf("Baud rate: %d", *baudRate)
	log.Printf("Region: %s", *region)
	log.Printf("Redis address: %s", *redisAddr)

	stream, err := serialstream.Open(*serialDevice, *baudRate)
	if err != nil {
		log.Fatalf("Failed to open serial device: %v", err)
	}
	defer stream.Close()
	log.Printf("Opened serial link")

	facade := c110p.New(stream, parseRegion(*region), *timeoutMs)
	facade.SetMaxRetries(uint32(*maxRetries))

	redisClient, err := telemetry.New(*redisAddr, *redisPass, *redisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Printf("Connected to Redis")

	bridge := telemetry.NewBridge(redisClient, facade, *redisPrefix+":commands")
	go bridge.Run()
	defer bridge.Stop()

	facade.SetLedHandler(func(cmd command.Command) {
		log.Printf("rx led id=%d start=%d end=%d duration=%d", cmd.ID, cmd.Led.Start, cmd.Led.End, cmd.Led.Duration)
	})
	facade.SetSoundHandler(func(cmd command.Command) {
		log.Printf("rx sound id=%d sound_id=%d play=%v sync=%v", cmd.ID, cmd.Sound.ID, cmd.Sound.Play, cmd.Sound.SyncToLeds)
	})
	facade.SetMoveHandler(func(cmd command.Command) {
		log.Printf("rx move id=%d target=%v x=%d y=%d z=%d", cmd.ID, cmd.Move.Target, cmd.Move.X, cmd.Move.Y, cmd.Move.Z)
	})

	if *tracePath != "" {
		recorder, err := trace.Open(*tracePath)
		if err != nil {
			log.Fatalf("Failed to open trace file: %v", err)
		}
		defer recorder.Close()
		facade.SetObserver(recorder.Observer(facade.Now))
		log.Printf("Tracing to %s", *tracePath)
	}

	collector := metrics.New(*redisPrefix, facade, prometheus.Labels{"region": *region})
	prometheus.MustRegister(collector)
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Printf("Serving metrics on %s/metrics", *metricsListen)
		if err := http.ListenAndServe(*metricsListen, nil); err != nil {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	statsTicker := time.NewTicker(1 * time.Second)
	defer statsTicker.Stop()

	log.Printf("Entering main loop")
	for {
		select {
		case <-sigCh:
			log.Printf("Shutting down...")
			return
		case <-ticker.C:
			facade.ProcessQueue()
		case <-statsTicker.C:
			if err := redisClient.PublishStats(*redisPrefix+":stats", facade.SentSize(), facade.ReceivedSize(), facade.OutstandingSize()); err != nil {
				log.Printf("Failed to publish stats: %v", err)
			}
		}
	}
}
