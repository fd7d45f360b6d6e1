// Package entity 定义领域实体
package entity

import (
	"time"
)

// ProgressEvent 任务进度事件
type ProgressEvent struct {
	JobID      string     `json:"job_id"`
	BatchID    string     `json:"batch_id,omitempty"`
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	Capability Capability `json:"capability"`
	State      JobState   `json:"state"`
	Progress   int        `json:"progress"`
	Message    string     `json:"message,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Terminal 是否为终态事件
func (e *ProgressEvent) Terminal() bool {
	return e.State.IsTerminal()
}
