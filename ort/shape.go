package ort

import (
	"fmt"
	"strconv"
	"strings"
	"unsafe"
)

// Shape is an ordered list of non-negative tensor dimensions.
type Shape []int64

// NewShape returns a shape with the given dimensions.
func NewShape(dims ...int64) Shape {
	return Shape(dims)
}

// Clone returns an independent copy. A rank-0 shape stays non-nil.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// ElementCount is the product of the dimensions.
func (s Shape) ElementCount() (int, error) {
	return shapeElementCount(s)
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.FormatInt(d, 10)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func shapeElementCount(shape Shape) (int, error) {
	const maxInt = int(^uint(0) >> 1)

	count := 1
	for i, dim := range shape {
		if dim < 0 {
			return 0, invalidArgument("shape dimension %d is %d (must be >= 0)", i, dim)
		}
		if dim == 0 {
			count = 0
			continue
		}
		if count == 0 {
			continue
		}
		if dim > int64(maxInt) || count > maxInt/int(dim) {
			return 0, invalidArgument("shape %v exceeds maximum supported element count", shape)
		}
		count *= int(dim)
	}
	return count, nil
}

// ShapeElementCount returns the total element count for a shape.
// Dimensions must be non-negative; a zero dimension yields zero.
func ShapeElementCount(shape Shape) (int, error) {
	return shapeElementCount(shape)
}

func shapePtr(shape Shape) *int64 {
	if len(shape) == 0 {
		return nil
	}
	return unsafe.SliceData(shape)
}

// ParseShape parses a comma-separated shape such as "1,3,224,224".
func ParseShape(raw string) (Shape, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("shape is empty")
	}
	parts := strings.Split(raw, ",")
	shape := make(Shape, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty dimension in %q", raw)
		}
		dim, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse dimension %q: %w", part, err)
		}
		if dim < 0 {
			return nil, fmt.Errorf("negative dimension %d", dim)
		}
		shape = append(shape, dim)
	}
	return shape, nil
}
