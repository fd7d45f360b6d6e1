package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeTenantUnresolved, http.StatusBadRequest},
		{CodeCapabilityUnknown, http.StatusBadRequest},
		{CodeTenantSuspended, http.StatusForbidden},
		{CodeFeatureNotEnabled, http.StatusForbidden},
		{CodeTenantNotFound, http.StatusNotFound},
		{CodeJobNotFound, http.StatusNotFound},
		{CodeJobAlreadyTerminal, http.StatusConflict},
		{CodeQuotaExceeded, http.StatusTooManyRequests},
		{CodeAllProvidersExhausted, http.StatusServiceUnavailable},
		{CodeUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatus)
		})
	}
}

func TestQuotaExceededErrorAsAppError(t *testing.T) {
	qe := &QuotaExceededError{
		TenantID:  "tenant-1",
		Metric:    "video_generation",
		Limit:     100,
		Used:      100,
		ResetDate: "2026-09-01T00:00:00Z",
	}

	appErr := AsAppError(qe)
	assert.Equal(t, CodeQuotaExceeded, appErr.Code)
	assert.Equal(t, http.StatusTooManyRequests, appErr.HTTPStatus)
	assert.Contains(t, appErr.Detail, "metric=video_generation")
	assert.Contains(t, appErr.Detail, "reset=2026-09-01T00:00:00Z")

	var unwrapped *QuotaExceededError
	require.ErrorAs(t, appErr, &unwrapped)
	assert.Equal(t, int64(100), unwrapped.Limit)
}

func TestAsAppErrorWrapsUnknown(t *testing.T) {
	plain := fmt.Errorf("boom")
	appErr := AsAppError(plain)
	assert.Equal(t, CodeUnknown, appErr.Code)
	assert.ErrorIs(t, appErr, plain)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(cause, CodeDatabaseError, "query failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "query failed")
	assert.Contains(t, err.Error(), "connection reset")
}
