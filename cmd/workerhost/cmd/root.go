// Package cmd implements the workerhost command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	workers "github.com/reglet-dev/reglet-workers"
	"github.com/reglet-dev/reglet-workers/config"
	"github.com/reglet-dev/reglet-workers/domain/ports"
	"github.com/reglet-dev/reglet-workers/host"
	"github.com/reglet-dev/reglet-workers/infrastructure/memstore"
	"github.com/reglet-dev/reglet-workers/infrastructure/sqlite"
)

// app is the state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	logger  *slog.Logger
	cfgFile string
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the workerhost command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "workerhost",
		Short: "Serve a WebAssembly worker",
		Long: `workerhost loads a worker manifest and its compiled module and serves
fetch, scheduled, queue, RPC and durable object invocations over HTTP.
A critical fault in guest code retires the module instance; the next
request runs against a fresh one.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "host config file (YAML)")
	flags.String("manifest", "worker.yaml", "worker manifest path")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	_ = a.v.BindPFlag("manifest", flags.Lookup("manifest"))
	_ = a.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("logging.format", flags.Lookup("log-format"))

	root.AddCommand(
		newServeCommand(a),
		newInspectCommand(a),
		newSchemaCommand(),
	)
	return root
}

func (a *app) load(logOut io.Writer) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Logging.Logger(logOut)
	return nil
}

// runtime loads the manifest and module and wires a Runtime around them.
func (a *app) runtime(ctx context.Context, reg prometheus.Registerer) (*workers.Runtime, error) {
	worker, err := host.NewLoader().Load(a.cfg.Manifest)
	if err != nil {
		return nil, err
	}

	store, err := a.stateStore()
	if err != nil {
		return nil, err
	}

	opts := []workers.Option{
		workers.WithLogger(a.logger),
		workers.WithStateStore(store),
		workers.WithMemoryLimitPages(a.cfg.Runtime.MemoryLimitPages),
		workers.WithCompilationCacheDir(a.cfg.Runtime.CompilationCacheDir),
		workers.WithStrictRegistry(a.cfg.Runtime.StrictRegistry),
	}
	if reg != nil {
		opts = append(opts, workers.WithMetricsRegisterer(reg))
	}
	return workers.New(ctx, worker.Manifest, worker.Wasm, opts...)
}

func (a *app) stateStore() (ports.StateStore, error) {
	switch a.cfg.Storage.Driver {
	case "sqlite":
		s, err := sqlite.Open(a.cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		return s, nil
	default:
		return memstore.New(), nil
	}
}

func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
