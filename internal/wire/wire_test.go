package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestFramesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	frames := [][]byte{[]byte("first"), {}, bytes.Repeat([]byte{0xab}, 70000)}
	for _, f := range frames {
		require.NoError(t, w.WriteFrame(f))
	}

	r := NewReader(&buf)
	for i, want := range frames {
		got, err := r.ReadFrame()
		require.NoError(t, err, "frame %d", i)
		assert.True(t, bytes.Equal(want, got), "frame %d differs", i)
	}
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteFrame([]byte("payload")))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := NewReader(bytes.NewReader(truncated)).ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrameTooLarge(t *testing.T) {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], MaxFrameSize+1)

	_, err := NewReader(bytes.NewReader(hdr[:n])).ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := NewWriter(&buf).WriteFrame(make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len())
}

func TestFieldsDecodesAppendedValues(t *testing.T) {
	var b []byte
	b = AppendVarint(b, 1, 7)
	b = AppendInt(b, 2, -42)
	b = AppendBool(b, 3, true)
	b = AppendString(b, 4, "input")
	b = AppendFloat32s(b, 5, []float32{1.5, -2, float32(math.Inf(1))})
	b = AppendInt64s(b, 6, []int64{1, -1, math.MaxInt64})
	b = AppendFloat32s(b, 7, nil)

	var seen []protowire.Number
	err := Fields(b, func(f Field) error {
		seen = append(seen, f.Num)
		switch f.Num {
		case 1:
			assert.Equal(t, uint64(7), f.Varint)
		case 2:
			assert.Equal(t, int64(-42), f.Int())
		case 3:
			assert.True(t, f.Bool())
		case 4:
			assert.Equal(t, "input", string(f.Bytes))
		case 5:
			got, err := Float32s(f.Bytes)
			require.NoError(t, err)
			assert.Equal(t, []float32{1.5, -2, float32(math.Inf(1))}, got)
		case 6:
			got, err := Int64s(f.Bytes)
			require.NoError(t, err)
			assert.Equal(t, []int64{1, -1, math.MaxInt64}, got)
		}
		return nil
	})
	require.NoError(t, err)
	if diff := cmp.Diff([]protowire.Number{1, 2, 3, 4, 5, 6}, seen); diff != "" {
		t.Fatalf("field order mismatch (-want +got):\n%s", diff)
	}
}

func TestFieldsSkipsUnknownFixedFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 9, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 99)
	b = AppendString(b, 1, "kept")

	var got string
	require.NoError(t, Fields(b, func(f Field) error {
		if f.Num == 1 {
			got = string(f.Bytes)
		}
		return nil
	}))
	assert.Equal(t, "kept", got)
}

func TestFieldsRejectsMalformedInput(t *testing.T) {
	b := AppendString(nil, 1, "truncated")
	err := Fields(b[:len(b)-3], func(Field) error { return nil })
	assert.Error(t, err)

	_, err = Float32s([]byte{1, 2, 3})
	assert.Error(t, err)
}
