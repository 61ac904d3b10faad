// Command pald hosts the audio HAL resource manager: it tracks the sound
// card, drives subsystem restart of registered streams and serves the
// debug/control API.
// Run with -mock to use a simulated card state node and mock sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/micro-nova/amplipi-pal/internal/api"
	"github.com/micro-nova/amplipi-pal/internal/config"
	"github.com/micro-nova/amplipi-pal/internal/events"
	"github.com/micro-nova/amplipi-pal/internal/hardware"
	"github.com/micro-nova/amplipi-pal/internal/metrics"
	"github.com/micro-nova/amplipi-pal/internal/models"
	"github.com/micro-nova/amplipi-pal/internal/rm"
	"github.com/micro-nova/amplipi-pal/internal/session"
	"github.com/micro-nova/amplipi-pal/internal/zeroconf"
)

var version = "dev"

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML config file (default: built-in defaults)")
		mock    = flag.Bool("mock", false, "use a simulated card state node and mock sessions")
		addr    = flag.String("addr", "", "HTTP listen address (overrides config)")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			slog.Error("cannot load config", "path", *cfgPath, "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *addr != "" {
		cfg.HTTP.Address = *addr
	}
	if *mock {
		cfg.Backend = config.BackendMock
	}

	// Configure logging
	logFile, err := cfg.Logging.ConfigureLogger()
	if err != nil {
		slog.Error("cannot configure logging", "err", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Session backend for streams created over the API
	factory, err := session.NewFactory(session.OptionsFromConfig(cfg))
	if err != nil {
		slog.Error("session backend", "err", err)
		os.Exit(1)
	}

	// Sound card
	stateNode := cfg.Card.StateNode
	if *mock {
		dir, err := os.MkdirTemp("", "pald-card")
		if err != nil {
			slog.Error("cannot create mock state node", "err", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		node, err := hardware.NewMockNode(dir)
		if err != nil {
			slog.Error("cannot create mock state node", "err", err)
			os.Exit(1)
		}
		stateNode = node.Path()
		slog.Info("using mock card state node", "path", stateNode)
	} else if cfg.Card.Name != "" {
		idx, err := hardware.DetectCard(cfg.Card.Name)
		if err != nil {
			slog.Error("sound card detection failed", "name", cfg.Card.Name, "err", err)
			os.Exit(1)
		}
		cfg.Card.Index = idx
	}

	initial, err := hardware.ReadCardState(stateNode)
	if err != nil {
		slog.Warn("card state node unreadable, assuming online", "path", stateNode, "err", err)
		initial = models.CardStatusOnline
	}
	slog.Info("sound card", "index", cfg.Card.Index, "state", initial.String(), "backend", cfg.Backend)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	// Event bus
	bus := events.NewBus()

	// Resource manager
	mgr := rm.New(rm.Options{
		SoundCard:    cfg.Card.Index,
		Router:       cfg,
		Bus:          bus,
		Metrics:      met,
		InitialState: &initial,
	})
	if err := mgr.Start(ctx); err != nil {
		slog.Error("resource manager start failed", "err", err)
		os.Exit(1)
	}

	// Card monitor
	monitor := hardware.NewCardMonitor(stateNode, cfg.Card.PollInterval, mgr.SSRHandler)
	go func() {
		if err := monitor.Run(ctx); err != nil {
			slog.Warn("card monitor stopped", "err", err)
		}
	}()

	host := api.NewStreamHost(mgr, factory, met)

	var srv *http.Server
	if cfg.HTTP.Enabled {
		info := api.Info{
			Version:   version,
			Backend:   cfg.Backend,
			SoundCard: cfg.Card.Index,
			StateNode: stateNode,
		}
		router := api.NewRouter(mgr, bus, host, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), info)
		srv = &http.Server{
			Addr:         cfg.HTTP.Address,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // 0 = no timeout (needed for SSE)
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			slog.Info("pald listening", "addr", cfg.HTTP.Address, "mock", *mock)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("server error", "err", err)
			}
		}()

		// Zeroconf mDNS registration
		if cfg.HTTP.MDNS {
			hostname, _ := os.Hostname()
			zc := zeroconf.New(hostname, listenPort(cfg.HTTP.Address), "version="+version, "backend="+cfg.Backend)
			go func() {
				if err := zc.Start(ctx, bus); err != nil {
					slog.Warn("zeroconf failed", "err", err)
				}
			}()
		}
	}

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	// Graceful HTTP shutdown
	if srv != nil {
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("server shutdown error", "err", err)
		}
	}
	if err := host.CloseAll(); err != nil {
		slog.Warn("stream shutdown error", "err", err)
	}
	if err := mgr.Stop(); err != nil {
		slog.Warn("resource manager shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}

// listenPort extracts the port of a listen address, defaulting to 80.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 80
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 80
	}
	return port
}
