package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagePayloadRoundTrip(t *testing.T) {
	job := &GenerationJobMessage{
		JobID:      "job-1",
		TenantID:   "tenant-1",
		UserID:     "user-1",
		Capability: "video",
	}

	msg, err := NewMessage("job-1", "generation_job", "tenant-1", "job-1", job)
	require.NoError(t, err)

	var decoded GenerationJobMessage
	require.NoError(t, msg.UnmarshalPayload(&decoded))
	assert.Equal(t, "job-1", decoded.JobID)
	assert.Equal(t, "video", decoded.Capability)
}

func TestMessageMetadata(t *testing.T) {
	msg, err := NewMessage("id", "audit", "tenant-1", "", map[string]string{})
	require.NoError(t, err)

	msg.SetMetadata("capability", "video")
	assert.Equal(t, "video", msg.GetMetadata("capability"))
	assert.Equal(t, "", msg.GetMetadata("missing"))
}

func TestDLQStream(t *testing.T) {
	assert.Equal(t, "dlq:stream:jobs:generation", StreamGenerationJobs.DLQStream())
	assert.Equal(t, "dlq:stream:audit:log", StreamAuditLog.DLQStream())
}

func TestCalculateBackoff(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, cfg.CalculateBackoff(0))
	assert.Equal(t, 2*time.Second, cfg.CalculateBackoff(1))
	assert.Equal(t, 8*time.Second, cfg.CalculateBackoff(3))
	// 超过上限后封顶
	assert.Equal(t, 30*time.Second, cfg.CalculateBackoff(10))
}
