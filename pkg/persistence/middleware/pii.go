package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// Mask replaces sensitive values in audit records.
const Mask = "***"

// DefaultPIIPatterns match the collected keys masked when no patterns are configured.
var DefaultPIIPatterns = []string{
	`(?i)password`,
	`(?i)ssn`,
	`(?i)card`,
	`(?i)phone`,
	`(?i)tax_?id`,
}

type piiMiddleware struct {
	next     ports.AuditSink
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates an audit middleware that masks the values of keys
// matching the patterns in a record's data and result. Nested maps are masked too.
func NewPIIMiddleware(patternStrings []string) AuditMiddleware {
	if len(patternStrings) == 0 {
		patternStrings = DefaultPIIPatterns
	}
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.AuditSink) ports.AuditSink {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

// Append masks a copy of rec; the caller's maps are left untouched.
func (m *piiMiddleware) Append(ctx context.Context, rec domain.AuditRecord) error {
	if rec.Data != nil {
		rec.Data = deepCopyMap(rec.Data)
		maskMap(rec.Data, m.patterns)
	}
	if rec.Result != nil {
		rec.Result = deepCopyMap(rec.Result)
		maskMap(rec.Result, m.patterns)
	}
	return m.next.Append(ctx, rec)
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		if v != nil && matchesAny(k, patterns) {
			m[k] = Mask
			continue
		}
		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}

func matchesAny(key string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
