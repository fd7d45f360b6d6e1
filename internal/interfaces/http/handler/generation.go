package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"omnigen-api/internal/application/orchestration"
	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/infrastructure/messaging"
	"omnigen-api/internal/interfaces/http/dto"
	"omnigen-api/internal/interfaces/http/middleware"
	"omnigen-api/pkg/errors"
)

// GenerationHandler 生成任务提交处理器
// 同步模式在进程内执行，异步模式投递到消息流由 Worker 执行
type GenerationHandler struct {
	orchestrator *orchestration.Orchestrator
	producer     *messaging.Producer
}

// NewGenerationHandler 创建生成任务处理器
func NewGenerationHandler(orchestrator *orchestration.Orchestrator, producer *messaging.Producer) *GenerationHandler {
	return &GenerationHandler{
		orchestrator: orchestrator,
		producer:     producer,
	}
}

// Submit 提交单个生成任务
// POST /v1/generations
func (h *GenerationHandler) Submit(c *gin.Context) {
	var req dto.SubmitGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, errors.New(errors.CodeInvalidParam, "invalid parameter").WithDetail(err.Error()))
		return
	}

	tenant := middleware.GetTenant(c)
	if tenant == nil {
		handleError(c, errors.ErrTenantUnresolved)
		return
	}
	userID := middleware.GetUserIDFromGin(c)
	capability := entity.Capability(req.Capability)

	if req.Async && h.producer != nil {
		if err := h.precheck(tenant, capability); err != nil {
			handleError(c, err)
			return
		}
		jobID := uuid.NewString()
		_, err := h.producer.PublishGenerationJob(c.Request.Context(), &messaging.GenerationJobMessage{
			JobID:      jobID,
			TenantID:   tenant.ID,
			UserID:     userID,
			Capability: req.Capability,
			Input:      req.Input,
			Options:    req.Options,
		})
		if err != nil {
			handleError(c, errors.Wrap(err, errors.CodeStreamError, "failed to enqueue job"))
			return
		}
		dto.Accepted(c, dto.AsyncSubmitResponse{JobID: jobID, State: string(entity.JobStateQueued)})
		return
	}

	job, err := h.orchestrator.Submit(c.Request.Context(), tenant, userID, capability, req.Input, req.Options)
	if err != nil {
		handleError(c, err)
		return
	}

	dto.Accepted(c, dto.ToJobResponse(job))
}

// SubmitBatch 批量提交生成任务，允许部分成功
// POST /v1/generations/batch
func (h *GenerationHandler) SubmitBatch(c *gin.Context) {
	var req dto.BatchGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, errors.New(errors.CodeInvalidParam, "invalid parameter").WithDetail(err.Error()))
		return
	}

	tenant := middleware.GetTenant(c)
	if tenant == nil {
		handleError(c, errors.ErrTenantUnresolved)
		return
	}
	userID := middleware.GetUserIDFromGin(c)
	capability := entity.Capability(req.Capability)

	if req.Async && h.producer != nil {
		if err := h.precheck(tenant, capability); err != nil {
			handleError(c, err)
			return
		}
		batchID := uuid.NewString()
		jobIDs := make([]string, 0, len(req.Inputs))
		for _, input := range req.Inputs {
			jobID := uuid.NewString()
			_, err := h.producer.PublishGenerationJob(c.Request.Context(), &messaging.GenerationJobMessage{
				JobID:      jobID,
				BatchID:    batchID,
				TenantID:   tenant.ID,
				UserID:     userID,
				Capability: req.Capability,
				Input:      input,
				Options:    req.Options,
			})
			if err != nil {
				handleError(c, errors.Wrap(err, errors.CodeStreamError, "failed to enqueue batch"))
				return
			}
			jobIDs = append(jobIDs, jobID)
		}
		dto.Accepted(c, dto.AsyncSubmitResponse{BatchID: batchID, JobIDs: jobIDs, State: string(entity.JobStateQueued)})
		return
	}

	result, err := h.orchestrator.SubmitBatch(c.Request.Context(), tenant, userID, capability, req.Inputs, req.Options)
	if err != nil {
		handleError(c, err)
		return
	}

	dto.Accepted(c, dto.ToBatchSubmitResponse(result))
}

// precheck 异步投递前的本地校验，配额准入由 Worker 侧执行
func (h *GenerationHandler) precheck(tenant *entity.Tenant, capability entity.Capability) error {
	if !entity.ValidCapability(capability) {
		return errors.New(errors.CodeCapabilityUnknown, "unknown capability").WithDetail(string(capability))
	}
	if !tenant.FeatureEnabled(capability.QuotaMetric()) {
		return errors.New(errors.CodeFeatureNotEnabled, "feature not enabled for tenant").WithDetail(capability.QuotaMetric())
	}
	return nil
}
