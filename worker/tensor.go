package worker

import (
	"fmt"
	"maps"
	"slices"

	"github.com/amikos-tech/ortbridge/ort"
)

// TensorData is a tensor as plain data: a shape plus exactly one populated
// element slice matching Type.
type TensorData struct {
	Type    ort.TensorElementDataType
	Shape   ort.Shape
	Float32 []float32
	Int64   []int64
}

// Float32Tensor builds a float32 TensorData. data is not copied.
func Float32Tensor(shape ort.Shape, data []float32) TensorData {
	return TensorData{Type: ort.TensorElementDataTypeFloat, Shape: shape, Float32: data}
}

// Int64Tensor builds an int64 TensorData. data is not copied.
func Int64Tensor(shape ort.Shape, data []int64) TensorData {
	return TensorData{Type: ort.TensorElementDataTypeInt64, Shape: shape, Int64: data}
}

func (t TensorData) validate(name string) error {
	count, err := ort.ShapeElementCount(t.Shape)
	if err != nil {
		return fmt.Errorf("input %q: %w", name, err)
	}
	var got, other int
	switch t.Type {
	case ort.TensorElementDataTypeFloat:
		got, other = len(t.Float32), len(t.Int64)
	case ort.TensorElementDataTypeInt64:
		got, other = len(t.Int64), len(t.Float32)
	default:
		return fmt.Errorf("%w: input %q has unsupported element type %s", ort.ErrInvalidArgument, name, t.Type)
	}
	if other != 0 {
		return fmt.Errorf("%w: input %q carries data for more than one element type", ort.ErrInvalidArgument, name)
	}
	if got != count {
		return fmt.Errorf("%w: input %q has %d elements, shape %v needs %d", ort.ErrInvalidArgument, name, got, t.Shape, count)
	}
	return nil
}

func (t TensorData) clone() TensorData {
	return TensorData{
		Type:    t.Type,
		Shape:   t.Shape.Clone(),
		Float32: slices.Clone(t.Float32),
		Int64:   slices.Clone(t.Int64),
	}
}

func cloneInputs(in map[string]TensorData) map[string]TensorData {
	if in == nil {
		return nil
	}
	out := make(map[string]TensorData, len(in))
	for name, t := range in {
		out[name] = t.clone()
	}
	return out
}

func cloneOutputs(in [][]float32) [][]float32 {
	if in == nil {
		return nil
	}
	out := make([][]float32, len(in))
	for i, o := range in {
		out[i] = slices.Clone(o)
		if out[i] == nil {
			out[i] = []float32{}
		}
	}
	return out
}

func cloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Providers = slices.Clone(c.Providers)
	if c.ProviderOptions != nil {
		cp.ProviderOptions = make(map[string]map[string]string, len(c.ProviderOptions))
		for id, opts := range c.ProviderOptions {
			cp.ProviderOptions[id] = maps.Clone(opts)
		}
	}
	return &cp
}
