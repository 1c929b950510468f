// Package chunker partitions pending work into fixed-size chunks.
package chunker

import (
	"errors"
	"fmt"

	"dockrun/internal/model"
)

var ErrInvalidConfiguration = errors.New("invalid chunk size")

// Plan splits items into consecutive chunks of at most size items, numbered from 1.
// Every chunk owns a copy of its items.
func Plan(items []model.WorkItem, size int) ([]model.Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d (must be positive)", ErrInvalidConfiguration, size)
	}
	chunks := make([]model.Chunk, 0, Count(len(items), size))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		part := make([]model.WorkItem, end-start)
		copy(part, items[start:end])
		chunks = append(chunks, model.Chunk{Number: len(chunks) + 1, Items: part})
	}
	return chunks, nil
}

// Count is the number of chunks Plan would produce.
func Count(items, size int) int {
	if size <= 0 || items <= 0 {
		return 0
	}
	return (items + size - 1) / size
}
