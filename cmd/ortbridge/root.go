package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amikos-tech/ortbridge/internal/config"
	"github.com/amikos-tech/ortbridge/internal/logging"
	"github.com/amikos-tech/ortbridge/worker"
)

// app carries what PersistentPreRunE loaded to the subcommands.
type app struct {
	configFile string
	cfg        config.Config
	logger     *zap.Logger
	// engine overrides the ONNX Runtime engine for thread isolation.
	engine worker.EngineFactory
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "ortbridge",
		Short:         "Run ONNX models through an isolated ONNX Runtime worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Flags:      cmd.Flags(),
				ConfigFile: a.configFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			logger, err := logging.New(loaded.Log.Level, loaded.Log.Format)
			if err != nil {
				return err
			}
			a.cfg = loaded
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newProvidersCmd(a))
	cmd.AddCommand(newBootstrapCmd(a))
	cmd.AddCommand(newWorkerCmd(a))
	return cmd
}
