// Package wire frames and encodes worker messages that cross a process
// boundary. Frames are a uvarint length followed by a payload made of
// protobuf wire-format fields.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds a single frame. Tensors larger than this must not be
// sent through a process isolate.
const MaxFrameSize = 256 << 20

// ErrFrameTooLarge is returned for frames above MaxFrameSize in either direction.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// Writer writes length-prefixed frames. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteFrame writes p as one frame and flushes it.
func (w *Writer) WriteFrame(p []byte) error {
	if len(p) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(p))
	}
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(p)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(hdr[:n]); err != nil {
		return err
	}
	if _, err := w.w.Write(p); err != nil {
		return err
	}
	return w.w.Flush()
}

// Reader reads frames written by Writer.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame returns the next frame. It returns io.EOF only at a frame
// boundary; a stream cut inside a frame yields io.ErrUnexpectedEOF.
func (r *Reader) ReadFrame() ([]byte, error) {
	size, err := binary.ReadUvarint(r.r)
	if err != nil {
		return nil, err
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// Field is one decoded top-level field. Varint holds the value of varint
// and fixed-width fields; Bytes holds length-delimited payloads.
type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
}

// Fields calls fn for every field in b, in order.
func Fields(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.Varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.Varint = uint64(v)
		case protowire.Fixed64Type:
			f.Varint, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.Bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func AppendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendInt appends a signed integer using zigzag encoding.
func AppendInt(b []byte, num protowire.Number, v int64) []byte {
	return AppendVarint(b, num, protowire.EncodeZigZag(v))
}

func AppendBool(b []byte, num protowire.Number, v bool) []byte {
	return AppendVarint(b, num, protowire.EncodeBool(v))
}

func AppendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func AppendBytes(b []byte, num protowire.Number, p []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, p)
}

// AppendFloat32s appends v as a packed fixed32 field. Empty slices are omitted.
func AppendFloat32s(b []byte, num protowire.Number, v []float32) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(4*len(v)))
	for _, f := range v {
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	return b
}

// AppendInt64s appends v as a packed zigzag varint field. Empty slices are omitted.
func AppendInt64s(b []byte, num protowire.Number, v []int64) []byte {
	if len(v) == 0 {
		return b
	}
	var packed []byte
	for _, x := range v {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(x))
	}
	return AppendBytes(b, num, packed)
}

// Float32s decodes a packed fixed32 payload.
func Float32s(p []byte) ([]float32, error) {
	if len(p)%4 != 0 {
		return nil, fmt.Errorf("packed float32 payload has %d bytes", len(p))
	}
	out := make([]float32, 0, len(p)/4)
	for len(p) > 0 {
		v, n := protowire.ConsumeFixed32(p)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float32frombits(v))
		p = p[n:]
	}
	return out, nil
}

// Int64s decodes a packed zigzag varint payload.
func Int64s(p []byte) ([]int64, error) {
	var out []int64
	for len(p) > 0 {
		v, n := protowire.ConsumeVarint(p)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, protowire.DecodeZigZag(v))
		p = p[n:]
	}
	return out, nil
}

// Int decodes a zigzag field value written by AppendInt.
func (f Field) Int() int64 {
	return protowire.DecodeZigZag(f.Varint)
}

// Bool decodes a field value written by AppendBool.
func (f Field) Bool() bool {
	return protowire.DecodeBool(f.Varint)
}
