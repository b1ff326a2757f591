package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/sumobot/internal/api"
	"github.com/banshee-data/sumobot/internal/command"
	"github.com/banshee-data/sumobot/internal/config"
	"github.com/banshee-data/sumobot/internal/control"
	"github.com/banshee-data/sumobot/internal/db"
	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/hal/bridge"
	"github.com/banshee-data/sumobot/internal/monitoring"
	"github.com/banshee-data/sumobot/internal/program"
	"github.com/banshee-data/sumobot/internal/robot"
	"github.com/banshee-data/sumobot/internal/serialmux"
	"github.com/banshee-data/sumobot/internal/telemetry"
	"github.com/banshee-data/sumobot/internal/version"
	"github.com/banshee-data/sumobot/internal/websocket"
)

var (
	server      = flag.String("server", "localhost:8081", "Relay host[:port] used to build the command channel URI")
	robotID     = flag.String("id", "", "Robot id in the relay room name (defaults to the host name)")
	uri         = flag.String("uri", "", "Command channel URI; overrides -server and -id")
	calibration = flag.String("calibration", "calibration.json", "Calibration file")
	tick        = flag.Duration("tick", control.DefaultTick, "Control loop period")
	recvTimeout = flag.Duration("recv-timeout", command.DefaultRecvTimeout, "Command channel receive timeout")
	serialPort  = flag.String("serial", "/dev/ttyACM0", "I/O co-processor serial port (ignored in dev mode)")
	baud        = flag.Int("baud", serialmux.DefaultBaudRate, "I/O co-processor baud rate")
	devMode     = flag.Bool("dev", false, "Run against simulated hardware")
	listen      = flag.String("listen", ":8080", "HTTP listen address; empty disables the API")
	dbPath      = flag.String("db", "", "Journal database path; empty disables the journal")
	mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL; empty disables telemetry publishing")
	mqttTopic   = flag.String("mqtt-topic", telemetry.DefaultPrefix, "MQTT topic prefix")
	startup     = flag.String("program", "", "Program file to load at boot")
	debug       = flag.Bool("debug", false, "Development logging")
)

func main() {
	flag.Parse()

	logger, err := monitoring.NewLogger(*debug)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	monitoring.UseZap(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		monitoring.Logf("sumobot: %v", err)
		os.Exit(1)
	}
	monitoring.Logf("Graceful shutdown complete")
}

func run(ctx context.Context) error {
	monitoring.Logf("sumobot %s", version.String())

	g, ctx := errgroup.WithContext(ctx)

	hw, mux, err := openHardware(ctx, g)
	if err != nil {
		return err
	}
	// Closed after g.Wait so the loop can still stop the wheels on exit.
	defer mux.Close()

	store := config.NewFileStore(*calibration)
	h, err := hal.New(hw, store, hal.Options{})
	if err != nil {
		return err
	}
	r := robot.New(h)

	watcher := config.NewWatcher(store, func(cal *config.Calibration) {
		if err := h.ReplaceCalibration(cal); err != nil {
			monitoring.Logf("calibration: ignoring external edit: %v", err)
		}
	})
	g.Go(func() error {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			monitoring.Logf("calibration watcher stopped: %v", err)
		}
		return nil
	})

	var journal *db.DB
	if *dbPath != "" {
		journal, err = db.Open(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer journal.Close()
	}

	dispatcherOpts := command.DispatcherOptions{ProgramOutput: os.Stdout}
	loopCfg := control.Config{Robot: r, Tick: *tick}
	var commands api.CommandLister
	if journal != nil {
		dispatcherOpts.Journal = journal
		loopCfg.Recorder = journal
		commands = journal
	}
	dispatcher := command.NewDispatcher(r, dispatcherOpts)

	if *startup != "" {
		if err := loadProgram(r, *startup); err != nil {
			monitoring.Logf("startup program: %v", err)
		}
	}

	loop := control.New(loopCfg)
	g.Go(func() error { return loop.Run(ctx) })

	channel := command.NewChannel(command.ChannelConfig{
		Dial:        command.WebSocketDialer(channelURI(), websocket.Options{}),
		Dispatcher:  dispatcher,
		Robot:       r,
		RecvTimeout: *recvTimeout,
	})
	g.Go(func() error { return channel.Supervise(ctx) })

	if *mqttBroker != "" {
		client, err := telemetry.Connect(*mqttBroker, nil)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		startPublisher(ctx, g, client, r, dispatcher)
	}

	if *listen != "" {
		httpMux := api.NewServer(r, dispatcher, commands).ServeMux()
		mux.AttachAdminRoutes(httpMux)
		if journal != nil {
			journal.AttachAdminRoutes(httpMux)
		}
		serveHTTP(ctx, g, *listen, api.LoggingMiddleware(httpMux))
	}

	return g.Wait()
}

// openHardware returns the robot's Hardware and the serial mux behind it. In
// dev mode both are simulated.
func openHardware(ctx context.Context, g *errgroup.Group) (hal.Hardware, serialmux.SerialMuxInterface, error) {
	if *devMode {
		fake := hal.NewFakeHardware()
		fake.SetDistance(80)
		return fake, serialmux.NewDisabledSerialMux(), nil
	}

	mux, err := serialmux.NewRealSerialMux(*serialPort, serialmux.PortOptions{BaudRate: *baud})
	if err != nil {
		return nil, nil, err
	}
	if err := mux.Initialise(); err != nil {
		mux.Close()
		return nil, nil, fmt.Errorf("failed to initialise co-processor: %w", err)
	}

	g.Go(func() error {
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("serial monitor: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		serialmux.LogEvents(ctx, mux, monitoring.Logf)
		return nil
	})
	return bridge.New(mux), mux, nil
}

func startPublisher(ctx context.Context, g *errgroup.Group, client mqtt.Client, r *robot.Robot, d *command.Dispatcher) {
	pub := telemetry.NewPublisher(telemetry.Config{
		Client:   client,
		Prefix:   *mqttTopic,
		Name:     func() string { return r.HAL.Calibration().GetName() },
		Source:   r.LiveTelemetry,
		Commands: d,
	})
	g.Go(func() error { return pub.Run(ctx) })
}

func serveHTTP(ctx context.Context, g *errgroup.Group, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		monitoring.Logf("HTTP API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
		}
		return nil
	})
}

// loadProgram compiles the program in path and makes it active.
func loadProgram(r *robot.Robot, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	p, err := program.Compile(string(src), program.Options{Output: os.Stdout})
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	r.SetProgram(p, false)
	monitoring.Logf("loaded startup program %s from %s", p.ID, path)
	return nil
}

func channelURI() string {
	if *uri != "" {
		return *uri
	}
	id := *robotID
	if id == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "robot"
		}
		id = strings.ToLower(strings.SplitN(host, ".", 2)[0])
	}
	return command.DefaultURI(*server, id)
}
