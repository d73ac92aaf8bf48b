package upload

import "fmt"

// Store-imposed multipart limits.
const (
	// MinPartSize is the smallest size allowed for any part but the last
	MinPartSize int64 = 5 * 1024 * 1024

	// MaxParts is the largest part number a multipart upload accepts
	MaxParts = 10000

	// DefaultPartSize is used when no part size is configured
	DefaultPartSize = MinPartSize
)

// PartSpec is one planned part: a contiguous byte range of the source.
type PartSpec struct {
	Number int32
	Offset int64
	Length int64
}

// PlanParts splits size bytes into parts of partSize bytes. Parts are
// numbered from 1 without gaps; only the last part may be shorter, and it is
// never empty. PlanParts has no side effects, so the same inputs always
// produce the same plan.
func PlanParts(size, partSize int64) ([]PartSpec, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cannot plan %d bytes: %w", size, ErrEmptySource)
	}
	if partSize <= 0 {
		return nil, fmt.Errorf("part size %d: %w", partSize, ErrInvalidPartSize)
	}

	count := (size + partSize - 1) / partSize // Ceiling division
	if count > MaxParts {
		return nil, fmt.Errorf("%d bytes in %d byte parts needs %d parts, limit is %d: %w",
			size, partSize, count, MaxParts, ErrTooManyParts)
	}

	parts := make([]PartSpec, 0, count)
	for offset := int64(0); offset < size; offset += partSize {
		parts = append(parts, PartSpec{
			Number: int32(offset/partSize) + 1,
			Offset: offset,
			Length: min(partSize, size-offset),
		})
	}
	return parts, nil
}
