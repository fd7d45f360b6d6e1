// Package entity 定义领域实体
package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// Capability 生成能力类别
type Capability string

const (
	CapabilityVideo     Capability = "video"
	CapabilityImage     Capability = "image"
	CapabilityAudio     Capability = "audio"
	CapabilityText      Capability = "text"
	CapabilityChat      Capability = "chat"
	CapabilitySentiment Capability = "sentiment"
)

// ValidCapability 检查能力是否合法
func ValidCapability(c Capability) bool {
	switch c {
	case CapabilityVideo, CapabilityImage, CapabilityAudio, CapabilityText, CapabilityChat, CapabilitySentiment:
		return true
	}
	return false
}

// QuotaMetric 返回该能力对应的用量指标名
func (c Capability) QuotaMetric() string {
	switch c {
	case CapabilityVideo:
		return "video_generation"
	case CapabilityImage:
		return "image_generation"
	case CapabilityAudio:
		return "audio_generation"
	case CapabilityChat:
		return "conversational_requests"
	case CapabilitySentiment:
		return "sentiment_requests"
	default:
		return "ai_tokens"
	}
}

// JobState 任务状态
type JobState string

const (
	JobStateQueued            JobState = "queued"
	JobStateSelectingProvider JobState = "selecting_provider"
	JobStateRunning           JobState = "running"
	JobStateSucceeded         JobState = "succeeded"
	JobStateFailed            JobState = "failed"
	JobStateCancelled         JobState = "cancelled"
)

// IsTerminal 是否为终态
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed || s == JobStateCancelled
}

// validTransitions 状态机合法边
var validTransitions = map[JobState][]JobState{
	JobStateQueued:            {JobStateSelectingProvider, JobStateCancelled},
	JobStateSelectingProvider: {JobStateRunning, JobStateFailed, JobStateCancelled},
	JobStateRunning:           {JobStateSucceeded, JobStateSelectingProvider, JobStateFailed, JobStateCancelled},
}

// CanTransition 检查状态迁移是否合法
func CanTransition(from, to JobState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AttemptOutcome 单次 Provider 尝试的结果
type AttemptOutcome string

const (
	AttemptOutcomeSuccess   AttemptOutcome = "success"
	AttemptOutcomeFailure   AttemptOutcome = "failure"
	AttemptOutcomeDiscarded AttemptOutcome = "discarded"
)

// ProviderAttempt 回退链中一次 Provider 尝试的记录
type ProviderAttempt struct {
	Provider   string         `json:"provider"`
	Outcome    AttemptOutcome `json:"outcome"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMs int64          `json:"duration_ms"`
}

// GenerationJob 生成任务
type GenerationJob struct {
	ID           string            `json:"id"`
	BatchID      string            `json:"batch_id,omitempty"`
	TenantID     string            `json:"tenant_id"`
	UserID       string            `json:"user_id"`
	Capability   Capability        `json:"capability"`
	Input        json.RawMessage   `json:"input"`
	Options      json.RawMessage   `json:"options,omitempty"`
	State        JobState          `json:"state"`
	Progress     int               `json:"progress"`
	Attempts     []ProviderAttempt `json:"attempts,omitempty" gorm:"serializer:json"`
	Provider     string            `json:"provider,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// NewGenerationJob 创建新任务
func NewGenerationJob(id, tenantID, userID string, capability Capability, input, options json.RawMessage) *GenerationJob {
	now := time.Now()
	return &GenerationJob{
		ID:         id,
		TenantID:   tenantID,
		UserID:     userID,
		Capability: capability,
		Input:      input,
		Options:    options,
		State:      JobStateQueued,
		Progress:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Transition 执行状态迁移，拒绝非法边与终态后的任何迁移
func (j *GenerationJob) Transition(to JobState) error {
	if j.State.IsTerminal() {
		return fmt.Errorf("job %s already terminal in state %s", j.ID, j.State)
	}
	if !CanTransition(j.State, to) {
		return fmt.Errorf("invalid transition %s -> %s for job %s", j.State, to, j.ID)
	}
	j.State = to
	j.UpdatedAt = time.Now()
	return nil
}

// StartAttempt 进入运行态并记录起始时间
func (j *GenerationJob) StartAttempt(provider string) error {
	if err := j.Transition(JobStateRunning); err != nil {
		return err
	}
	j.Provider = provider
	if j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
	}
	return nil
}

// RecordAttempt 追加一次尝试记录
func (j *GenerationJob) RecordAttempt(attempt ProviderAttempt) {
	j.Attempts = append(j.Attempts, attempt)
	j.UpdatedAt = time.Now()
}

// Complete 任务成功，进度强制为 100
func (j *GenerationJob) Complete(result json.RawMessage, provider string) error {
	if err := j.Transition(JobStateSucceeded); err != nil {
		return err
	}
	now := time.Now()
	j.Result = result
	j.Provider = provider
	j.Progress = 100
	j.CompletedAt = &now
	return nil
}

// Fail 任务失败，错误信息聚合全部尝试
func (j *GenerationJob) Fail(errMsg string) error {
	if err := j.Transition(JobStateFailed); err != nil {
		return err
	}
	now := time.Now()
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
	return nil
}

// Cancel 取消任务
func (j *GenerationJob) Cancel() error {
	if err := j.Transition(JobStateCancelled); err != nil {
		return err
	}
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// UpdateProgress 更新任务进度，非终态下保持单调不减
func (j *GenerationJob) UpdateProgress(progress int) {
	if j.State.IsTerminal() {
		return
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress < j.Progress {
		return
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// ResetProgressForFallback 回退到新 Provider 时重置进度基线
func (j *GenerationJob) ResetProgressForFallback(baseline int) {
	if j.State.IsTerminal() {
		return
	}
	j.Progress = baseline
	j.UpdatedAt = time.Now()
}

// AggregateError 聚合全部尝试的失败原因
func (j *GenerationJob) AggregateError() string {
	msg := "all providers exhausted:"
	for _, a := range j.Attempts {
		msg += fmt.Sprintf(" [%s: %s]", a.Provider, a.Error)
	}
	return msg
}
