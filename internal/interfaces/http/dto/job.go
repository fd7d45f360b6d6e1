package dto

import (
	"encoding/json"
	"time"

	"omnigen-api/internal/application/orchestration"
	"omnigen-api/internal/domain/entity"
)

// AttemptResponse 单次 Provider 尝试响应
type AttemptResponse struct {
	Provider   string    `json:"provider"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// JobResponse 生成任务响应
type JobResponse struct {
	ID           string            `json:"id"`
	BatchID      string            `json:"batch_id,omitempty"`
	Capability   string            `json:"capability"`
	State        string            `json:"state"`
	Progress     int               `json:"progress"`
	Provider     string            `json:"provider,omitempty"`
	Attempts     []AttemptResponse `json:"attempts,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// ToJobResponse 由任务实体构建响应
func ToJobResponse(job *entity.GenerationJob) *JobResponse {
	resp := &JobResponse{
		ID:           job.ID,
		BatchID:      job.BatchID,
		Capability:   string(job.Capability),
		State:        string(job.State),
		Progress:     job.Progress,
		Provider:     job.Provider,
		Result:       job.Result,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
	for _, a := range job.Attempts {
		resp.Attempts = append(resp.Attempts, AttemptResponse{
			Provider:   a.Provider,
			Outcome:    string(a.Outcome),
			ErrorKind:  a.ErrorKind,
			Error:      a.Error,
			StartedAt:  a.StartedAt,
			DurationMs: a.DurationMs,
		})
	}
	return resp
}

// ToJobResponses 批量转换任务实体
func ToJobResponses(jobs []*entity.GenerationJob) []*JobResponse {
	resps := make([]*JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resps = append(resps, ToJobResponse(job))
	}
	return resps
}

// BatchRejectionResponse 批量提交中被拒项
type BatchRejectionResponse struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchSubmitResponse 批量提交响应
type BatchSubmitResponse struct {
	BatchID  string                   `json:"batch_id"`
	Accepted int                      `json:"accepted"`
	Jobs     []*JobResponse           `json:"jobs"`
	Rejected []BatchRejectionResponse `json:"rejected,omitempty"`
}

// ToBatchSubmitResponse 由批量提交结果构建响应
func ToBatchSubmitResponse(result *orchestration.BatchResult) *BatchSubmitResponse {
	resp := &BatchSubmitResponse{
		BatchID:  result.BatchID,
		Accepted: len(result.Jobs),
		Jobs:     ToJobResponses(result.Jobs),
	}
	for _, r := range result.Rejected {
		resp.Rejected = append(resp.Rejected, BatchRejectionResponse{
			Index: r.Index,
			Error: r.Error,
		})
	}
	return resp
}

// BatchStatusResponse 批次聚合状态响应
type BatchStatusResponse struct {
	BatchID   string         `json:"batch_id"`
	Total     int            `json:"total"`
	Terminal  int            `json:"terminal"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Cancelled int            `json:"cancelled"`
	Progress  int            `json:"progress"`
	Jobs      []*JobResponse `json:"jobs"`
}

// ToBatchStatusResponse 由批次聚合视图构建响应
func ToBatchStatusResponse(status *orchestration.BatchStatus) *BatchStatusResponse {
	return &BatchStatusResponse{
		BatchID:   status.BatchID,
		Total:     status.Total,
		Terminal:  status.Terminal,
		Succeeded: status.Succeeded,
		Failed:    status.Failed,
		Cancelled: status.Cancelled,
		Progress:  status.Progress,
		Jobs:      ToJobResponses(status.Jobs),
	}
}

// ListJobsQuery 任务列表查询参数
type ListJobsQuery struct {
	Capability string `form:"capability"`
	State      string `form:"state"`
	BatchID    string `form:"batch_id"`
	Page       int    `form:"page,default=1" binding:"min=1"`
	PageSize   int    `form:"page_size,default=20" binding:"min=1,max=100"`
}
