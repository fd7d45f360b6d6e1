package handler

import (
	"github.com/gin-gonic/gin"

	"omnigen-api/internal/application/orchestration"
	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/domain/repository"
	"omnigen-api/internal/interfaces/http/dto"
	"omnigen-api/internal/interfaces/http/middleware"
	"omnigen-api/pkg/errors"
)

// JobHandler 生成任务查询与取消处理器
type JobHandler struct {
	orchestrator *orchestration.Orchestrator
}

// NewJobHandler 创建任务处理器
func NewJobHandler(orchestrator *orchestration.Orchestrator) *JobHandler {
	return &JobHandler{orchestrator: orchestrator}
}

// Get 查询单个任务
// GET /v1/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	tenantID := middleware.GetTenantIDFromGin(c)
	jobID := c.Param("id")

	job, err := h.orchestrator.GetJob(c.Request.Context(), tenantID, jobID)
	if err != nil {
		handleError(c, err)
		return
	}

	dto.Success(c, dto.ToJobResponse(job))
}

// Cancel 取消任务
// POST /v1/jobs/:id/cancel
func (h *JobHandler) Cancel(c *gin.Context) {
	tenantID := middleware.GetTenantIDFromGin(c)
	jobID := c.Param("id")

	job, err := h.orchestrator.CancelJob(c.Request.Context(), tenantID, jobID)
	if err != nil {
		handleError(c, err)
		return
	}

	dto.Success(c, dto.ToJobResponse(job))
}

// List 按条件分页查询任务
// GET /v1/jobs
func (h *JobHandler) List(c *gin.Context) {
	var query dto.ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		handleError(c, errors.New(errors.CodeInvalidParam, "invalid parameter").WithDetail(err.Error()))
		return
	}

	tenantID := middleware.GetTenantIDFromGin(c)
	filter := &repository.JobFilter{
		Capability: entity.Capability(query.Capability),
		State:      entity.JobState(query.State),
		BatchID:    query.BatchID,
	}
	pagination := repository.Pagination{Page: query.Page, PageSize: query.PageSize}

	result, err := h.orchestrator.ListJobs(c.Request.Context(), tenantID, filter, pagination)
	if err != nil {
		handleError(c, err)
		return
	}

	dto.SuccessWithPage(c, dto.ToJobResponses(result.Items),
		dto.NewPageMeta(query.Page, query.PageSize, int(result.Total)))
}

// GetBatch 查询批次聚合状态
// GET /v1/batches/:id
func (h *JobHandler) GetBatch(c *gin.Context) {
	tenantID := middleware.GetTenantIDFromGin(c)
	batchID := c.Param("id")

	status, err := h.orchestrator.GetBatch(c.Request.Context(), tenantID, batchID)
	if err != nil {
		handleError(c, err)
		return
	}

	dto.Success(c, dto.ToBatchStatusResponse(status))
}
