// Command camnode runs the connectivity and power control loop of a
// battery-powered camera node.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/camnode/internal/config"
	"github.com/sweeney/camnode/internal/gpio"
	"github.com/sweeney/camnode/internal/link"
	"github.com/sweeney/camnode/internal/logging"
	"github.com/sweeney/camnode/internal/mesh"
	"github.com/sweeney/camnode/internal/mqtt"
	"github.com/sweeney/camnode/internal/ota"
	"github.com/sweeney/camnode/internal/power"
	"github.com/sweeney/camnode/internal/radio"
	"github.com/sweeney/camnode/internal/state"
	"github.com/sweeney/camnode/internal/status"
	"github.com/sweeney/camnode/internal/store"
	"github.com/sweeney/camnode/internal/task"
	"github.com/sweeney/camnode/internal/upload"
	"github.com/sweeney/camnode/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults are used when empty)")
	nodeID := flag.String("node", "", "Node ID (default: hostname)")
	broker := flag.String("broker", "", "MQTT broker address")
	redisAddr := flag.String("redis", "", "Redis address")
	httpAddr := flag.String("http", "", `HTTP status address ("off" to disable)`)
	logLevel := flag.String("log-level", "", "Log level: none, error, warn, info, debug")
	printConfig := flag.Bool("print-config", false, "Print the effective config and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "node":
			cfg.NodeID = *nodeID
		case "broker":
			cfg.Endpoints.Broker = *broker
		case "redis":
			cfg.Endpoints.Redis = *redisAddr
		case "http":
			cfg.Endpoints.HTTPAddr = *httpAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if cfg.NodeID == "" {
		cfg.NodeID = defaultNodeID()
	}

	if *printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		os.Stdout.Write(out)
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// defaultNodeID is the hostname, or a random ID when it is unavailable.
func defaultNodeID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "camnode-" + uuid.NewString()[:8]
}

func run(cfg config.Config) error {
	// Inconsistent thresholds must never reach the power controller.
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(log.Default(), level)

	normal := state.Profile{
		CPUFrequencyHz: cfg.Profiles.Normal.CPUFrequencyHz,
		SleepDuration:  cfg.Profiles.Normal.Sleep,
	}
	powerSave := state.Profile{
		PowerSave:      true,
		CPUFrequencyHz: cfg.Profiles.PowerSave.CPUFrequencyHz,
		SleepDuration:  cfg.Profiles.PowerSave.Sleep,
	}
	shared := state.New(normal)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Endpoints.Redis})
	defer rdb.Close()

	line, err := gpio.NewRealLine(cfg.Endpoints.RadioChip, cfg.Endpoints.RadioPin, true)
	if err != nil {
		return fmt.Errorf("init radio power line: %w", err)
	}
	defer line.Close()

	client := mqtt.NewRealClient(cfg.Endpoints.Broker, "camnode-"+cfg.NodeID)
	defer client.Disconnect()
	rad := radio.New(line, client, cfg.NodeID, cfg.Endpoints.Interface)

	ctrl, err := power.NewController(power.Thresholds{
		LowVolts:      cfg.Battery.LowVolts,
		HighVolts:     cfg.Battery.HighVolts,
		MinValidVolts: cfg.Battery.MinValidVolts,
		MaxValidVolts: cfg.Battery.MaxValidVolts,
		MaxAge:        cfg.Battery.MaxAge,
	}, normal, powerSave, shared, power.Actuators{
		CPU:     power.NewSysfsCPU(cfg.Endpoints.CPUFreq),
		Radio:   rad,
		Capture: power.NewRedisCaptureSignal(rdb),
	}, logger)
	if err != nil {
		return err
	}
	powerTask := power.NewTask(power.NewRedisSampler(rdb), ctrl, shared, cfg.Timeouts.Sample, logger)

	linkMgr := link.NewManager(link.Config{
		Enabled:        cfg.LinkEnabled,
		BaseDelay:      cfg.Backoff.Base,
		MaxDelay:       cfg.Backoff.Max,
		ConnectTimeout: cfg.Timeouts.Connect,
	}, rad, shared, logger)

	queue := upload.NewQueue(upload.Config{
		Enabled:   cfg.UploadEnabled,
		NodeID:    cfg.NodeID,
		Interval:  cfg.Intervals.Upload,
		Timeout:   cfg.Timeouts.Upload,
		BatchSize: cfg.Upload.BatchSize,
	}, store.New(store.NewRedisIndex(rdb), ""), rad, shared, logger)

	verifier, err := ota.NewVerifier(cfg.OTA.PublicKey)
	if err != nil {
		return err
	}
	otaEnabled := cfg.OTAEnabled && cfg.OTA.URL != ""
	if cfg.OTAEnabled && cfg.OTA.URL == "" {
		logger.Warnf("ota enabled but no url configured, update checks disabled")
	}
	running := cfg.OTA.RunningVersion
	var flasher ota.Flasher
	if slots, err := ota.NewSlotFlasher(cfg.OTA.SlotDir); err == nil {
		flasher = slots
		running = runningVersion(slots.RunningVersion(), cfg.OTA.RunningVersion)
		logger.Infof("running slot %s version %s", slots.Running(), running)
	} else if otaEnabled {
		return err
	} else {
		logger.Warnf("firmware slots unavailable: %v", err)
	}
	checker := ota.NewChecker(ota.Config{
		Enabled:        otaEnabled,
		Interval:       cfg.Intervals.OTACheck,
		Timeout:        cfg.Timeouts.OTA,
		RunningVersion: running,
		AutoApply:      cfg.OTA.AutoApply,
	}, ota.NewHTTPTransport(&http.Client{}, cfg.OTA.URL), verifier, flasher, shared, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	peers := mesh.NewZeroconfDriver(cfg.NodeID, cfg.Mesh.Service, cfg.Mesh.Port, nil)
	if cfg.MeshEnabled {
		if err := peers.Start(ctx); err != nil {
			logger.Warnf("mesh discovery unavailable: %v", err)
		}
		defer peers.Close()
	}
	monitor := mesh.NewMonitor(mesh.Config{
		Enabled:   cfg.MeshEnabled,
		Interval:  cfg.Intervals.MeshCheck,
		Heartbeat: cfg.Mesh.Heartbeat,
		Timeout:   cfg.Timeouts.Connect,
	}, peers, shared, logger)

	tracker := status.NewTracker(time.Now(), status.Config{
		NodeID:      cfg.NodeID,
		Broker:      cfg.Endpoints.Broker,
		HTTPAddr:    cfg.Endpoints.HTTPAddr,
		NetworkTick: cfg.Intervals.NetworkTick,
		StatusLog:   cfg.Intervals.StatusLog,
	})

	pub := mqtt.NewBuffered(client, mqtt.DefaultBufferSize)
	network := task.New(task.Config{
		NodeID:         cfg.NodeID,
		StatusInterval: cfg.Intervals.StatusLog,
	}, task.Deps{
		Link:    linkMgr,
		Upload:  queue,
		OTA:     checker,
		Mesh:    monitor,
		Tracker: tracker,
		Pub:     pub,
	}, shared, logger)

	// Start HTTP status server
	if addr := cfg.Endpoints.HTTPAddr; addr != "" && addr != "off" {
		srv := web.New(addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", addr)
	}

	log.Printf("started: node=%s broker=%s tick=%v battery=%.2f/%.2fV",
		cfg.NodeID, cfg.Endpoints.Broker, cfg.Intervals.NetworkTick, cfg.Battery.LowVolts, cfg.Battery.HighVolts)

	ticker := time.NewTicker(cfg.Intervals.NetworkTick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	err = runLoops(ctx, powerTask, network, time.Now, time.After, ticker.C, sigCh)
	if n := pub.Pending(); n > 0 {
		log.Printf("mqtt: %d status message(s) unsent at exit, %d dropped", n, pub.Dropped())
	}
	return err
}

// runningVersion prefers the version recorded in the booted slot over the
// configured one, which only describes a factory image.
func runningVersion(recorded, configured string) string {
	if recorded != "" {
		return recorded
	}
	return configured
}

// powerStepper is the power loop body.
type powerStepper interface {
	Step(ctx context.Context, now time.Time) power.Mode
	SleepDuration() time.Duration
}

// networkTicker is the network loop body.
type networkTicker interface {
	Tick(ctx context.Context, now time.Time) bool
	Emit(ctx context.Context, now time.Time, event, reason string)
}

// runLoops runs the power loop in its own goroutine and the network loop in
// the caller's, until a signal arrives. The power loop sleeps for the
// current profile's duration between steps, so a transition to power save
// lengthens the very next sleep.
func runLoops(ctx context.Context, p powerStepper, n networkTicker, now func() time.Time, after func(time.Duration) <-chan time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			p.Step(ctx, now())
			select {
			case <-ctx.Done():
				return
			case <-after(p.SleepDuration()):
			}
		}
	}()

	n.Emit(ctx, now(), task.EventStartup, "")

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			cancel()
			wg.Wait()

			// Give the final report its own deadline; the loop context is gone.
			fctx, fcancel := context.WithTimeout(context.Background(), 5*time.Second)
			n.Emit(fctx, now(), task.EventShutdown, signalName(s))
			fcancel()
			return nil

		case <-tick:
			n.Tick(ctx, now())
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
