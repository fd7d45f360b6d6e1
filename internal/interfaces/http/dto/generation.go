package dto

import (
	"encoding/json"
)

// SubmitGenerationRequest 提交生成任务请求
// Async 为 true 时任务投递到消息流，由 Worker 执行
type SubmitGenerationRequest struct {
	Capability string          `json:"capability" binding:"required"`
	Input      json.RawMessage `json:"input" binding:"required"`
	Options    json.RawMessage `json:"options,omitempty"`
	Async      bool            `json:"async,omitempty"`
}

// BatchGenerationRequest 批量提交生成任务请求
type BatchGenerationRequest struct {
	Capability string            `json:"capability" binding:"required"`
	Inputs     []json.RawMessage `json:"inputs" binding:"required,min=1,max=50"`
	Options    json.RawMessage   `json:"options,omitempty"`
	Async      bool              `json:"async,omitempty"`
}

// AsyncSubmitResponse 异步提交响应
type AsyncSubmitResponse struct {
	JobID   string   `json:"job_id,omitempty"`
	BatchID string   `json:"batch_id,omitempty"`
	JobIDs  []string `json:"job_ids,omitempty"`
	State   string   `json:"state"`
}
