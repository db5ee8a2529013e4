package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amikos-tech/ortbridge/ort"
)

func newProvidersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List platform default and runtime-available execution providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			defaults := ort.DefaultProvidersForPlatform(runtime.GOOS)
			names := make([]string, len(defaults))
			for i, p := range defaults {
				names[i] = p.ProviderName()
			}
			_, _ = fmt.Fprintf(out, "platform defaults (%s): %s\n", runtime.GOOS, strings.Join(names, ", "))

			rt, err := ort.NewRuntime(ort.RuntimeConfig{
				LibraryPath: a.cfg.Runtime.LibraryPath,
				Bootstrap:   a.cfg.Runtime.Bootstrap,
				Logger:      a.logger,
			})
			if err != nil {
				a.logger.Warn("runtime unavailable; skipping provider discovery", zap.Error(err))
				_, _ = fmt.Fprintln(out, "available: unknown (ONNX Runtime library not loaded)")
				return nil
			}
			defer func() {
				if err := rt.Close(); err != nil {
					a.logger.Warn("failed to close runtime", zap.Error(err))
				}
			}()

			available, err := rt.AvailableProviders()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "onnxruntime %s (%s)\n", rt.Version(), rt.LibraryPath())
			_, _ = fmt.Fprintf(out, "available: %s\n", strings.Join(available, ", "))
			return nil
		},
	}
}
