package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	sink := &mockSink{}
	masked := middleware.NewPIIMiddleware([]string{"password", "ssn"})(sink)

	rec := domain.AuditRecord{
		SessionID: "pii-session",
		Workflow:  "signup",
		Data: map[string]any{
			"username":      "jdoe",
			"user_password": "secret123",
			"details": map[string]any{
				"address":    "123 St",
				"ssn_number": "999-99-9999",
			},
		},
		Result: map[string]any{"id": "u-1", "password_hint": "pet"},
	}

	require.NoError(t, masked.Append(context.Background(), rec))

	assert.Equal(t, "secret123", rec.Data["user_password"], "caller's record is not modified")

	require.Len(t, sink.records, 1)
	stored := sink.records[0]
	assert.Equal(t, "jdoe", stored.Data["username"])
	assert.Equal(t, middleware.Mask, stored.Data["user_password"])
	details := stored.Data["details"].(map[string]any)
	assert.Equal(t, middleware.Mask, details["ssn_number"])
	assert.Equal(t, "123 St", details["address"])
	assert.Equal(t, middleware.Mask, stored.Result["password_hint"])
	assert.Equal(t, "u-1", stored.Result["id"])
}

func TestPIIMiddleware_DefaultsAndSkippedValues(t *testing.T) {
	sink := &mockSink{}
	masked := middleware.NewPIIMiddleware(nil)(sink)

	require.NoError(t, masked.Append(context.Background(), domain.AuditRecord{
		Data: map[string]any{"phone": nil, "Card_Number": "4111", "name": "Ada"},
	}))

	stored := sink.records[0]
	assert.Nil(t, stored.Data["phone"], "skipped values stay nil")
	assert.Equal(t, middleware.Mask, stored.Data["Card_Number"])
	assert.Equal(t, "Ada", stored.Data["name"])
}
