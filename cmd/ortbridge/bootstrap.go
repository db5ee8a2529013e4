package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amikos-tech/ortbridge/ort"
)

func newBootstrapCmd(a *app) *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Download ONNX Runtime into the local cache and print the library path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := ort.EnsureOnnxRuntimeSharedLibrary(a.cfg.BootstrapOptions(a.logger)...)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
			if !verify {
				return nil
			}

			rt, err := ort.NewRuntime(ort.RuntimeConfig{LibraryPath: path, Logger: a.logger})
			if err != nil {
				return fmt.Errorf("verify %s: %w", path, err)
			}
			defer func() {
				if err := rt.Close(); err != nil {
					a.logger.Warn("failed to close runtime", zap.Error(err))
				}
			}()
			if _, err := rt.Environment(); err != nil {
				return fmt.Errorf("verify %s: %w", path, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "onnxruntime %s (api %d)\n", rt.Version(), rt.APIVersion())
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "Load the library and create an environment after resolving it")
	return cmd
}
