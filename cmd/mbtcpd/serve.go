package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheCount/go-modbus-tcp/internal/config"
	"github.com/TheCount/go-modbus-tcp/internal/logging"
	"github.com/TheCount/go-modbus-tcp/internal/metrics"
	"github.com/TheCount/go-modbus-tcp/modbus"
	"github.com/TheCount/go-modbus-tcp/modbus/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	configPath  string
	listen      string
	logLevel    string
	metricsAddr string
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Modbus/TCP server",
		Long: `Serve the configured data model over Modbus/TCP until interrupted.

Without --config, the default configuration is used (see print-default).
Flags override the corresponding configuration settings.`,
		Example: `  # Serve the default data model on 127.0.0.1:502
  mbtcpd serve

  # Use a configuration file and expose metrics
  mbtcpd serve --config mbtcpd.yaml --metrics-addr 127.0.0.1:9502`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "configuration file")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "listen address (host:port)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// loadServeConfig loads the configuration and applies flag overrides.
func loadServeConfig(flags *serveFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		var err error
		if cfg, err = config.Load(flags.configPath); err != nil {
			return nil, fmt.Errorf("%s: %w", flags.configPath, err)
		}
	}
	if flags.listen != "" {
		cfg.Listen.Address = flags.listen
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = flags.metricsAddr
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// noClose closes nothing.
type noClose struct{}

func (noClose) Close() error { return nil }

// openStorage opens the configured storage backend.
func openStorage(cfg *config.Config) (modbus.Storage, io.Closer, error) {
	model, err := cfg.Data.Model()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Server.Storage {
	case "sqlite":
		store, err := sqlstore.Open(cfg.Server.SQLitePath, model)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		data, err := modbus.NewData(model)
		if err != nil {
			return nil, nil, err
		}
		return data, noClose{}, nil
	}
}

// listenOptions converts the listener configuration into TCP options.
func listenOptions(lc config.ListenConfig, log zerolog.Logger) ([]modbus.TCPOption, error) {
	opts := []modbus.TCPOption{
		modbus.WithListenAddress(lc.Address),
		modbus.WithTCPTimeout(lc.Timeout),
		modbus.WithLogger(log),
		modbus.WithResponseUnitID(modbus.UnitID(lc.ResponseUnitID)),
	}
	if lc.Insecure {
		opts = append(opts, modbus.WithInsecure())
	} else {
		tlsConfig, err := lc.TLS.Load()
		if err != nil {
			return nil, err
		}
		opts = append(opts, modbus.WithTLSConfig(tlsConfig))
	}
	if len(lc.AllowedHosts) > 0 {
		opts = append(opts, modbus.WithAllowedHosts(lc.AllowedHosts...))
	}
	if lc.MaxConnections > 0 {
		opts = append(opts, modbus.WithMaxConnections(lc.MaxConnections))
	}
	return opts, nil
}

// runServe serves until ctx is done.
func runServe(ctx context.Context, cfg *config.Config) error {
	log, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	storage, storageCloser, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storageCloser.Close()
	if err := cfg.Data.Apply(storage); err != nil {
		return fmt.Errorf("initial values: %w", err)
	}

	var identity *modbus.Identity
	if cfg.Identity != nil {
		identity = cfg.Identity.Identity()
		if err := identity.Validate(); err != nil {
			return fmt.Errorf("identity: %w", err)
		}
	}
	handler := modbus.NewHandler(storage, identity)
	handler.SetExceptionStatus(cfg.Server.ExceptionStatus)
	srv := modbus.NewServer()
	if err := handler.AddToServer(srv, modbus.UnitID(cfg.Server.UnitID)); err != nil {
		return err
	}

	opts, err := listenOptions(cfg.Listen, log)
	if err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, modbus.WithObserver(metrics.NewCollector(reg)))
		ms, err := metrics.Serve(cfg.Metrics.Address,
			metrics.NewRouter(reg, cfg.Metrics.Path), log)
		if err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ms.Shutdown(shutdownCtx)
		}()
	}

	l, err := modbus.ListenTCP(srv, opts...)
	if err != nil {
		return err
	}
	log.Info().
		Str("storage", cfg.Server.Storage).
		Uint8("unit", cfg.Server.UnitID).
		Int("functions", len(handler.Functions())).
		Msg("serving")
	<-ctx.Done()
	log.Info().Msg("shutting down")
	return l.Close()
}
