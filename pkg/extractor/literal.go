// Package extractor provides FieldExtractor implementations.
package extractor

import (
	"context"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// Literal treats the whole trimmed message as the value of the field being asked.
// An empty message yields no value.
type Literal struct{}

// Extract implements ports.FieldExtractor.
func (Literal) Extract(ctx context.Context, field domain.FieldSpec, message string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v := strings.TrimSpace(message)
	if v == "" {
		return nil, false, nil
	}
	return v, true, nil
}

// KeyValue extracts "field: value" or "field=value" pairs from a message,
// falling back to Literal when the message names no field at all.
// It lets a single message answer the field being asked even when the
// user labels it.
type KeyValue struct{}

// Extract implements ports.FieldExtractor.
func (KeyValue) Extract(ctx context.Context, field domain.FieldSpec, message string) (any, bool, error) {
	for _, line := range strings.Split(message, "\n") {
		key, value, ok := splitPair(line)
		if !ok {
			continue
		}
		if strings.EqualFold(key, field.Name) {
			if value == "" {
				return nil, false, nil
			}
			return value, true, nil
		}
	}
	return Literal{}.Extract(ctx, field, message)
}

func splitPair(line string) (string, string, bool) {
	idx := strings.IndexAny(line, ":=")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:idx])
	if strings.ContainsAny(key, " \t@") {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}
