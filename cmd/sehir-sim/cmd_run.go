package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/sehir-simulator/core"
	"github.com/signalsfoundry/sehir-simulator/internal/config"
	"github.com/signalsfoundry/sehir-simulator/internal/httpapi"
	"github.com/signalsfoundry/sehir-simulator/internal/logging"
	"github.com/signalsfoundry/sehir-simulator/internal/observability"
	"github.com/signalsfoundry/sehir-simulator/model"
	"github.com/signalsfoundry/sehir-simulator/network"
	"github.com/signalsfoundry/sehir-simulator/rng"
	"github.com/signalsfoundry/sehir-simulator/timectrl"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and print the compartment time series",
		Long: `Run builds the contact network, seeds the population and advances it
step by step. The series of per-compartment counts is printed when the run
ends, as a table or as JSON with --json.

With --listen the snapshot series, agent states and Prometheus metrics are
served over HTTP while the run progresses. Add --hold to keep serving after
the last step until interrupted.`,
		Example: `  sehir-sim run --nodes 100 --avg-degree 4 --steps 60
  sehir-sim run -c configs/sehir.yaml --listen :8080 --hold
  sehir-sim run --graph-kind file --graph configs/graph.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			hold, _ := cmd.Flags().GetBool("hold")
			jsonOut, _ := cmd.Flags().GetBool("json")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			snaps, err := runSimulation(ctx, cfg, cmd.ErrOrStderr(), hold)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), snaps)
			}
			return writeTable(cmd.OutOrStdout(), snaps)
		},
	}

	f := cmd.Flags()
	f.String("graph-kind", "", "Graph kind: erdos_renyi, complete or file")
	f.String("graph", "", "JSON edge-list file (implies --graph-kind file)")
	f.Int("nodes", 0, "Number of agents for generated graphs")
	f.Float64("avg-degree", 0, "Average node degree for erdos_renyi (p = avg-degree / nodes)")
	f.Int("initial-outbreak-size", 0, "Number of initially Infected agents")
	f.Uint64("seed", 0, "Random seed")
	f.Int("steps", 0, "Number of steps; 0 runs until interrupted")
	f.Duration("tick", 0, "Wall-clock interval per step in realtime mode")
	f.String("mode", "", "Clock mode: accelerated or realtime")
	f.Int("workers", 0, "Goroutines computing next states")
	f.String("exposure", "", "Susceptible exposure: ambient or contact")
	f.String("listen", "", "Serve the HTTP observer on this address, e.g. :8080")
	f.Bool("hold", false, "Keep serving HTTP after the run until interrupted")
	return cmd
}

// loadConfig resolves defaults, the --config file, SEHIR_* variables and
// then explicit flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	// validate has none of the run flags registered
	if f.Lookup("graph-kind") == nil {
		return nil
	}
	if f.Changed("graph-kind") {
		cfg.Graph.Kind, _ = f.GetString("graph-kind")
	}
	if f.Changed("graph") {
		cfg.Graph.Path, _ = f.GetString("graph")
		if !f.Changed("graph-kind") {
			cfg.Graph.Kind = config.GraphFile
		}
	}
	if f.Changed("nodes") {
		cfg.Graph.Nodes, _ = f.GetInt("nodes")
	}
	if f.Changed("avg-degree") {
		cfg.Graph.AvgDegree, _ = f.GetFloat64("avg-degree")
	}
	if f.Changed("initial-outbreak-size") {
		cfg.Seeds.InitialOutbreakSize, _ = f.GetInt("initial-outbreak-size")
	}
	if f.Changed("seed") {
		cfg.Run.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("steps") {
		cfg.Run.Steps, _ = f.GetInt("steps")
	}
	if f.Changed("tick") {
		cfg.Run.Tick, _ = f.GetDuration("tick")
	}
	if f.Changed("mode") {
		cfg.Run.Mode, _ = f.GetString("mode")
	}
	if f.Changed("workers") {
		cfg.Run.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("exposure") {
		cfg.Exposure, _ = f.GetString("exposure")
	}
	if f.Changed("listen") {
		cfg.HTTP.Listen, _ = f.GetString("listen")
	}
	return nil
}

// buildGraph constructs the contact network. Generated graphs draw from
// src so that one seed fixes both topology and dynamics.
func buildGraph(cfg *config.Config, src *rng.PCG) (*network.ContactGraph, error) {
	switch cfg.Graph.Kind {
	case config.GraphComplete:
		return network.Complete(cfg.Graph.Nodes)
	case config.GraphFile:
		f, err := os.Open(cfg.Graph.Path)
		if err != nil {
			return nil, fmt.Errorf("open graph %s: %w", cfg.Graph.Path, err)
		}
		defer f.Close()
		return network.LoadGraph(f)
	default:
		return network.ErdosRenyiAvgDegree(cfg.Graph.Nodes, cfg.Graph.AvgDegree, src.Rand())
	}
}

func runSimulation(ctx context.Context, cfg *config.Config, logOut io.Writer, hold bool) ([]model.Snapshot, error) {
	base := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOut,
	})
	ctx, log := logging.WithRunLogger(ctx, base)
	runID := logging.RunIDFromContext(ctx)

	// stdout carries the result table
	if cfg.Tracing.Writer == nil {
		cfg.Tracing.Writer = logOut
	}
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimulationCollector(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	src := rng.New(cfg.Run.Seed)
	g, err := buildGraph(cfg, src)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "contact network built",
		logging.String("kind", cfg.Graph.Kind),
		logging.Int("nodes", g.NodeCount()),
		logging.Int("edges", g.EdgeCount()),
	)

	eng, err := core.New(g, src, cfg.ModelRates(), cfg.SeedPlan(),
		core.WithRule(cfg.Rule()),
		core.WithWorkers(cfg.Run.Workers),
		core.WithLogger(log),
		core.WithMetricsRecorder(collector),
	)
	if err != nil {
		return nil, err
	}

	mode, err := cfg.ClockMode()
	if err != nil {
		return nil, err
	}
	clock := timectrl.NewController(time.Now().UTC(), cfg.Run.Tick, mode)
	clock.AddListener(func(tick int, _ time.Time) error {
		_, err := eng.Step(logging.ContextWithLogger(ctx, log.With(logging.Int("tick", tick))))
		return err
	})
	if mode == timectrl.RealTime {
		// paced runs are long; report every step at info
		unregister := eng.RegisterStepListener(func(s model.Snapshot) {
			log.Info(ctx, "step progress", logging.Int("step", s.Step), logging.Counts(s.Counts))
		})
		defer unregister()
	}

	var srv *http.Server
	if cfg.HTTP.Listen != "" {
		srv = serveHTTP(cfg, eng, clock, collector, log, runID)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	err = clock.Run(ctx, cfg.Run.Steps)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		log.Info(ctx, "run interrupted", logging.Int("steps", eng.StepCount()))
	default:
		return nil, err
	}

	latest := eng.Latest()
	log.Info(ctx, "run complete", logging.Int("steps", latest.Step), logging.Counts(latest.Counts))

	if srv != nil && hold && ctx.Err() == nil {
		log.Info(ctx, "holding HTTP observer open; interrupt to exit", logging.String("addr", cfg.HTTP.Listen))
		<-ctx.Done()
	}
	return eng.Snapshots(), nil
}

func serveHTTP(cfg *config.Config, eng *core.Engine, clock timectrl.SimClock, collector *observability.SimulationCollector, log logging.Logger, runID string) *http.Server {
	srv := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: httpapi.NewRouter(eng, httpapi.Options{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Metrics:        collector.Handler(),
			Clock:          clock,
			Logger:         log,
			RunID:          runID,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "http observer exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving HTTP observer", logging.String("addr", cfg.HTTP.Listen))
	return srv
}
