package main

import (
	"github.com/spf13/cobra"

	"github.com/amikos-tech/ortbridge/worker"
)

// newWorkerCmd is the child side of process isolation. stdout carries the
// framed protocol, so logs go to stderr.
func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Serve an isolate over stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []worker.Option{worker.WithLogger(a.logger)}
			if a.engine != nil {
				opts = append(opts, worker.WithEngineFactory(a.engine))
			}
			return worker.Serve(cmd.InOrStdin(), cmd.OutOrStdout(), opts...)
		},
	}
}
