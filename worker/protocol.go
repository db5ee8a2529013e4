package worker

import (
	"fmt"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/amikos-tech/ortbridge/internal/wire"
	"github.com/amikos-tech/ortbridge/ort"
)

type kind uint8

const (
	kindPort kind = iota + 1
	kindReady
	kindError
	kindInfer
	kindResult
	kindDispose
	kindDisposed
	// kindInit delivers the Config to a process isolate.
	kindInit
)

var kindNames = [...]string{"", "port", "ready", "error", "infer", "result", "dispose", "disposed", "init"}

func (k kind) String() string {
	if int(k) < len(kindNames) && k != 0 {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// message is one unit exchanged between controller and isolate. port is
// only set by in-process isolates; pid only by process isolates.
type message struct {
	kind        kind
	id          string
	pid         int
	port        chan<- message
	inputNames  []string
	outputNames []string
	err         *RemoteError
	inputs      map[string]TensorData
	counts      []int
	outputs     [][]float32
	config      *Config
}

// clone deep-copies everything but the port endpoint.
func (m message) clone() message {
	cp := m
	cp.inputNames = slices.Clone(m.inputNames)
	cp.outputNames = slices.Clone(m.outputNames)
	if m.err != nil {
		e := *m.err
		cp.err = &e
	}
	cp.inputs = cloneInputs(m.inputs)
	cp.counts = slices.Clone(m.counts)
	cp.outputs = cloneOutputs(m.outputs)
	cp.config = cloneConfig(m.config)
	return cp
}

func errorMessage(id string, err error) message {
	return message{kind: kindError, id: id, err: remoteError(err)}
}

const (
	fieldKind       protowire.Number = 1
	fieldID         protowire.Number = 2
	fieldPID        protowire.Number = 3
	fieldInputName  protowire.Number = 4
	fieldOutputName protowire.Number = 5
	fieldError      protowire.Number = 6
	fieldTensor     protowire.Number = 7
	fieldCounts     protowire.Number = 8
	fieldOutput     protowire.Number = 9
	fieldConfig     protowire.Number = 10
)

func encodeMessage(m message) []byte {
	var b []byte
	b = wire.AppendVarint(b, fieldKind, uint64(m.kind))
	if m.id != "" {
		b = wire.AppendString(b, fieldID, m.id)
	}
	if m.pid != 0 {
		b = wire.AppendInt(b, fieldPID, int64(m.pid))
	}
	for _, name := range m.inputNames {
		b = wire.AppendString(b, fieldInputName, name)
	}
	for _, name := range m.outputNames {
		b = wire.AppendString(b, fieldOutputName, name)
	}
	if m.err != nil {
		b = wire.AppendBytes(b, fieldError, encodeError(m.err))
	}
	names := make([]string, 0, len(m.inputs))
	for name := range m.inputs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		b = wire.AppendBytes(b, fieldTensor, encodeTensor(name, m.inputs[name]))
	}
	if len(m.counts) > 0 {
		counts := make([]int64, len(m.counts))
		for i, c := range m.counts {
			counts[i] = int64(c)
		}
		b = wire.AppendInt64s(b, fieldCounts, counts)
	}
	for _, out := range m.outputs {
		b = wire.AppendBytes(b, fieldOutput, wire.AppendFloat32s(nil, 1, out))
	}
	if m.config != nil {
		b = wire.AppendBytes(b, fieldConfig, encodeConfig(m.config))
	}
	return b
}

func decodeMessage(b []byte) (message, error) {
	var m message
	err := wire.Fields(b, func(f wire.Field) error {
		switch f.Num {
		case fieldKind:
			m.kind = kind(f.Varint)
		case fieldID:
			m.id = string(f.Bytes)
		case fieldPID:
			m.pid = int(f.Int())
		case fieldInputName:
			m.inputNames = append(m.inputNames, string(f.Bytes))
		case fieldOutputName:
			m.outputNames = append(m.outputNames, string(f.Bytes))
		case fieldError:
			e, err := decodeError(f.Bytes)
			if err != nil {
				return err
			}
			m.err = e
		case fieldTensor:
			name, t, err := decodeTensor(f.Bytes)
			if err != nil {
				return err
			}
			if m.inputs == nil {
				m.inputs = make(map[string]TensorData)
			}
			m.inputs[name] = t
		case fieldCounts:
			counts, err := wire.Int64s(f.Bytes)
			if err != nil {
				return err
			}
			for _, c := range counts {
				m.counts = append(m.counts, int(c))
			}
		case fieldOutput:
			out := []float32{}
			err := wire.Fields(f.Bytes, func(sub wire.Field) error {
				if sub.Num != 1 {
					return nil
				}
				v, err := wire.Float32s(sub.Bytes)
				out = v
				return err
			})
			if err != nil {
				return err
			}
			m.outputs = append(m.outputs, out)
		case fieldConfig:
			cfg, err := decodeConfig(f.Bytes)
			if err != nil {
				return err
			}
			m.config = cfg
		}
		return nil
	})
	if err != nil {
		return message{}, fmt.Errorf("decode worker message: %w", err)
	}
	if m.kind < kindPort || m.kind > kindInit {
		return message{}, fmt.Errorf("decode worker message: unknown kind %d", m.kind)
	}
	return m, nil
}

func encodeError(e *RemoteError) []byte {
	var b []byte
	b = wire.AppendString(b, 1, string(e.Kind))
	b = wire.AppendInt(b, 2, int64(e.Code))
	b = wire.AppendString(b, 3, e.Message)
	return b
}

func decodeError(b []byte) (*RemoteError, error) {
	e := &RemoteError{}
	err := wire.Fields(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			e.Kind = ErrorKind(f.Bytes)
		case 2:
			e.Code = ort.ErrorCode(f.Int())
		case 3:
			e.Message = string(f.Bytes)
		}
		return nil
	})
	return e, err
}

func encodeTensor(name string, t TensorData) []byte {
	var b []byte
	b = wire.AppendString(b, 1, name)
	b = wire.AppendVarint(b, 2, uint64(t.Type))
	b = wire.AppendInt64s(b, 3, t.Shape)
	b = wire.AppendFloat32s(b, 4, t.Float32)
	b = wire.AppendInt64s(b, 5, t.Int64)
	return b
}

func decodeTensor(b []byte) (string, TensorData, error) {
	var (
		name string
		t    TensorData
	)
	err := wire.Fields(b, func(f wire.Field) error {
		var err error
		switch f.Num {
		case 1:
			name = string(f.Bytes)
		case 2:
			t.Type = ort.TensorElementDataType(f.Varint)
		case 3:
			t.Shape, err = wire.Int64s(f.Bytes)
		case 4:
			t.Float32, err = wire.Float32s(f.Bytes)
		case 5:
			t.Int64, err = wire.Int64s(f.Bytes)
		}
		return err
	})
	if err != nil {
		return "", TensorData{}, fmt.Errorf("tensor %q: %w", name, err)
	}
	if t.Shape == nil {
		t.Shape = ort.Shape{}
	}
	return name, t, nil
}

func encodeConfig(c *Config) []byte {
	var b []byte
	b = wire.AppendString(b, 1, c.ModelPath)
	b = wire.AppendString(b, 2, c.LibraryPath)
	b = wire.AppendInt(b, 3, int64(c.LogLevel))
	b = wire.AppendString(b, 4, c.LogID)
	for _, p := range c.Providers {
		b = wire.AppendString(b, 5, p)
	}
	ids := make([]string, 0, len(c.ProviderOptions))
	for id := range c.ProviderOptions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		opts := c.ProviderOptions[id]
		keys := make([]string, 0, len(opts))
		for k := range opts {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			var entry []byte
			entry = wire.AppendString(entry, 1, id)
			entry = wire.AppendString(entry, 2, k)
			entry = wire.AppendString(entry, 3, opts[k])
			b = wire.AppendBytes(b, 6, entry)
		}
	}
	b = wire.AppendInt(b, 7, int64(c.IntraOpThreads))
	b = wire.AppendInt(b, 8, int64(c.InterOpThreads))
	b = wire.AppendInt(b, 9, int64(c.GraphOptimization))
	b = wire.AppendInt(b, 10, int64(c.ExecutionMode))
	b = wire.AppendBool(b, 11, c.StrictProviders)
	b = wire.AppendBool(b, 12, c.Bootstrap)
	return b
}

func decodeConfig(b []byte) (*Config, error) {
	c := &Config{}
	err := wire.Fields(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			c.ModelPath = string(f.Bytes)
		case 2:
			c.LibraryPath = string(f.Bytes)
		case 3:
			c.LogLevel = int(f.Int())
		case 4:
			c.LogID = string(f.Bytes)
		case 5:
			c.Providers = append(c.Providers, string(f.Bytes))
		case 6:
			var id, key, value string
			if err := wire.Fields(f.Bytes, func(e wire.Field) error {
				switch e.Num {
				case 1:
					id = string(e.Bytes)
				case 2:
					key = string(e.Bytes)
				case 3:
					value = string(e.Bytes)
				}
				return nil
			}); err != nil {
				return err
			}
			if c.ProviderOptions == nil {
				c.ProviderOptions = make(map[string]map[string]string)
			}
			if c.ProviderOptions[id] == nil {
				c.ProviderOptions[id] = make(map[string]string)
			}
			c.ProviderOptions[id][key] = value
		case 7:
			c.IntraOpThreads = int(f.Int())
		case 8:
			c.InterOpThreads = int(f.Int())
		case 9:
			c.GraphOptimization = ort.GraphOptimizationLevel(f.Int())
		case 10:
			c.ExecutionMode = ort.ExecutionMode(f.Int())
		case 11:
			c.StrictProviders = f.Bool()
		case 12:
			c.Bootstrap = f.Bool()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// remote returns the error carried by an error reply.
func (m message) remote() error {
	if m.err == nil {
		return &RemoteError{Kind: KindInternal, Message: "isolate reported an error without details"}
	}
	return m.err
}
