package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// FieldExtractor pulls a candidate value for one field out of a free-text message.
// ok is false when the message carries nothing usable for the field.
type FieldExtractor interface {
	Extract(ctx context.Context, field domain.FieldSpec, message string) (value any, ok bool, err error)
}

// ExtractorFunc adapts a function to FieldExtractor.
type ExtractorFunc func(ctx context.Context, field domain.FieldSpec, message string) (any, bool, error)

func (f ExtractorFunc) Extract(ctx context.Context, field domain.FieldSpec, message string) (any, bool, error) {
	return f(ctx, field, message)
}
