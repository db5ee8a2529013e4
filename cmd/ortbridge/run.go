package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amikos-tech/ortbridge/ort"
	"github.com/amikos-tech/ortbridge/worker"
)

const previewLimit = 16

type runFlags struct {
	shapes       []string
	data         []string
	int64Inputs  []string
	outputCounts []int
	repeat       int
	timeout      time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Spawn a worker for --model and run one or more inference requests",
		Example: `  ortbridge run -m mnist.onnx --input-shape 1,1,28,28 --output-count 10
  ortbridge run -m bert.onnx --isolation process --int64-input input_ids \
    --input-shape input_ids:1,4 --input-data input_ids=101,2023,2003,102 --output-count 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInference(cmd.Context(), a, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringArrayVar(&f.shapes, "input-shape", nil, "Input shape as name:1,3,224,224 (name optional for single-input models)")
	cmd.Flags().StringArrayVar(&f.data, "input-data", nil, "Input values as name=1,2,3 (defaults to 1..n)")
	cmd.Flags().StringSliceVar(&f.int64Inputs, "int64-input", nil, "Inputs to send as int64 instead of float32")
	cmd.Flags().IntSliceVar(&f.outputCounts, "output-count", []int{1}, "Leading floats to read per output; a single value applies to all outputs")
	cmd.Flags().IntVar(&f.repeat, "repeat", 1, "Number of sequential requests to send")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Per-request wait limit (0 waits indefinitely)")
	return cmd
}

func runInference(ctx context.Context, a *app, f runFlags, out io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1, got %d", f.repeat)
	}
	wc, err := a.cfg.ToWorkerConfig()
	if err != nil {
		return err
	}
	opts, err := a.cfg.WorkerOptions(a.logger)
	if err != nil {
		return err
	}
	if a.engine != nil {
		opts = append(opts, worker.WithEngineFactory(a.engine))
	}

	ch, err := worker.Spawn(ctx, wc, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, ch.Dispose(context.Background()))
	}()

	inputs, err := buildInputs(ch.InputNames(), f)
	if err != nil {
		return err
	}
	outputNames := ch.OutputNames()
	counts, err := expandCounts(f.outputCounts, len(outputNames))
	if err != nil {
		return err
	}

	for i := range f.repeat {
		reqCtx, cancel := ctx, context.CancelFunc(func() {})
		if f.timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, f.timeout)
		}
		start := time.Now()
		outputs, err := ch.Run(reqCtx, inputs, counts)
		cancel()
		if err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}
		a.logger.Debug("request completed", zap.Int("request", i+1), zap.Duration("elapsed", time.Since(start)))

		if f.repeat > 1 {
			_, _ = fmt.Fprintf(out, "request %d:\n", i+1)
		}
		for j, values := range outputs {
			printPreview(out, outputNames[j], values)
		}
	}
	return nil
}

// buildInputs matches --input-shape and --input-data entries to the
// model's inputs. Unnamed entries are accepted for single-input models.
func buildInputs(names []string, f runFlags) (map[string]worker.TensorData, error) {
	shapes, err := namedEntries(f.shapes, ":", names, "--input-shape")
	if err != nil {
		return nil, err
	}
	data, err := namedEntries(f.data, "=", names, "--input-data")
	if err != nil {
		return nil, err
	}
	asInt64 := make(map[string]bool, len(f.int64Inputs))
	for _, name := range f.int64Inputs {
		asInt64[strings.TrimSpace(name)] = true
	}

	inputs := make(map[string]worker.TensorData, len(names))
	for _, name := range names {
		rawShape, ok := shapes[name]
		if !ok {
			return nil, fmt.Errorf("missing --input-shape for input %q (model inputs: %v)", name, names)
		}
		shape, err := ort.ParseShape(rawShape)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		count, err := ort.ShapeElementCount(shape)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}

		if asInt64[name] {
			values, err := parseValues(data[name], count, func(s string) (int64, error) {
				return strconv.ParseInt(s, 10, 64)
			}, func(i int) int64 { return int64(i + 1) })
			if err != nil {
				return nil, fmt.Errorf("input %q: %w", name, err)
			}
			inputs[name] = worker.Int64Tensor(shape, values)
			continue
		}
		values, err := parseValues(data[name], count, func(s string) (float32, error) {
			v, err := strconv.ParseFloat(s, 32)
			return float32(v), err
		}, func(i int) float32 { return float32(i + 1) })
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		inputs[name] = worker.Float32Tensor(shape, values)
	}
	return inputs, nil
}

func namedEntries(entries []string, sep string, names []string, flag string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		name, value, ok := strings.Cut(entry, sep)
		if !ok {
			if len(names) != 1 {
				return nil, fmt.Errorf("%s %q needs a name%svalue form for models with %d inputs", flag, entry, sep, len(names))
			}
			name, value = names[0], entry
		}
		name = strings.TrimSpace(name)
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%s given twice for input %q", flag, name)
		}
		out[name] = value
	}
	return out, nil
}

func parseValues[T any](raw string, expected int, parse func(string) (T, error), fill func(int) T) ([]T, error) {
	values := make([]T, expected)
	if strings.TrimSpace(raw) == "" {
		for i := range values {
			values[i] = fill(i)
		}
		return values, nil
	}

	parts := strings.Split(raw, ",")
	if len(parts) != expected {
		return nil, fmt.Errorf("expected %d elements, got %d", expected, len(parts))
	}
	for i, part := range parts {
		part = strings.TrimSpace(part)
		v, err := parse(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value at index %d (%q): %w", i, part, err)
		}
		values[i] = v
	}
	return values, nil
}

func expandCounts(counts []int, outputs int) ([]int, error) {
	if len(counts) == 1 && outputs != 1 {
		expanded := make([]int, outputs)
		for i := range expanded {
			expanded[i] = counts[0]
		}
		return expanded, nil
	}
	if len(counts) != outputs {
		return nil, fmt.Errorf("--output-count has %d values for %d outputs", len(counts), outputs)
	}
	return counts, nil
}

func printPreview(out io.Writer, name string, values []float32) {
	if len(values) == 0 {
		_, _ = fmt.Fprintf(out, "%s: []\n", name)
		return
	}
	end := min(len(values), previewLimit)
	_, _ = fmt.Fprintf(out, "%s (%d/%d): %v\n", name, end, len(values), values[:end])
}
