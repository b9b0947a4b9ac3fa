// Command evacsim reads a SimulationInput JSON from a file argument (or
// stdin), runs the evacuation, and writes the Output JSON to stdout.
//
// A YAML configuration file may replace the config embedded in the input.
// With -listen, per-tick counters are served over HTTP and websocket while
// the run is going, and the final result stays available on /result until
// the process is interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cxd309/evacsim/internal/config"
	"github.com/cxd309/evacsim/internal/engine"
	"github.com/cxd309/evacsim/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (overrides the input's config)")
	listen := flag.String("listen", "", "serve telemetry on this address, e.g. :8080")
	resume := flag.String("resume", "", "resume from a snapshot file written by -snapshot")
	snapshotPath := flag.String("snapshot", "", "write the snapshot here when the run stops on its budget")
	flag.Parse()

	if err := run(flag.Arg(0), *configPath, *listen, *resume, *snapshotPath); err != nil {
		fmt.Fprintf(os.Stderr, "simulation error: %v\n", err)
		if config.IsConfigError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(inputPath, configPath, listen, resume, snapshotPath string) error {
	var (
		data []byte
		err  error
	)
	if inputPath != "" {
		data, err = os.ReadFile(inputPath)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	var input engine.SimulationInput
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("invalid input JSON: %w", err)
	}
	cfg, err := loadConfig(input, configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		opts   []engine.Option
		served chan error
	)
	if listen != "" {
		ln, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", listen, err)
		}
		rec := &telemetry.Recorder{}
		hub := telemetry.NewHub(logrus.WithField("component", "telemetry"))
		opts = append(opts, engine.WithSink(rec), engine.WithSink(hub))
		served = make(chan error, 1)
		go func() { served <- serveTelemetry(ctx, ln, telemetry.NewRouter(rec, hub)) }()
	}

	var sim *engine.Sim
	if resume != "" {
		snap, err := os.ReadFile(resume)
		if err != nil {
			return fmt.Errorf("reading snapshot: %w", err)
		}
		sim, err = engine.Restore(input, cfg, snap, opts...)
		if err != nil {
			return fmt.Errorf("resuming: %w", err)
		}
	} else {
		sim, err = engine.NewSim(input, cfg, opts...)
		if err != nil {
			return fmt.Errorf("setting up simulation: %w", err)
		}
	}

	out := engine.Output{Result: sim.Run(), Snapshot: sim.Snapshot(), Trace: sim.Trace()}
	if snapshotPath != "" && out.Snapshot != nil {
		if err := os.WriteFile(snapshotPath, out.Snapshot, 0o644); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
		out.Snapshot = nil
	}
	result, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}
	fmt.Println(string(result))

	if served == nil {
		return nil
	}
	logrus.WithField("addr", listen).Info("run finished; serving the result until interrupted")
	if err := <-served; err != nil {
		return fmt.Errorf("telemetry server: %w", err)
	}
	return nil
}

// serveTelemetry serves h on ln until ctx is done, then shuts the server
// down gracefully.
func serveTelemetry(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loadConfig(input engine.SimulationInput, path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return engine.DecodeConfig(input.Config)
}
