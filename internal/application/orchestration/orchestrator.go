// Package orchestration 提供生成任务的全生命周期编排
package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"omnigen-api/internal/application/admission"
	"omnigen-api/internal/config"
	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/domain/repository"
	"omnigen-api/internal/infrastructure/eventbus"
	"omnigen-api/internal/infrastructure/provider"
	"omnigen-api/pkg/errors"
	"omnigen-api/pkg/logger"
	"omnigen-api/pkg/metrics"
)

// 回退到新 Provider 后的进度基线
// 不归零是为了向订阅者表达"任务仍在推进"而非从头再来
const fallbackProgressBaseline = 5

// SnapshotStore 任务快照外部缓存，进程重启后仍可查询近期任务
type SnapshotStore interface {
	SaveJob(ctx context.Context, job *entity.GenerationJob, ttl time.Duration) error
	GetJob(ctx context.Context, jobID string) (*entity.GenerationJob, error)
}

// jobHandle 单个任务的运行时句柄
// 任务的全部状态变更由唯一的执行协程驱动，mu 只保护读快照与取消标记
type jobHandle struct {
	mu        sync.Mutex
	job       *entity.GenerationJob
	tenant    *entity.Tenant
	cancel    context.CancelFunc
	cancelled bool
	settled   bool
	doneAt    time.Time
}

// snapshot 返回任务的浅拷贝，尝试记录单独复制
func (h *jobHandle) snapshot() *entity.GenerationJob {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *h.job
	if len(h.job.Attempts) > 0 {
		cp.Attempts = make([]entity.ProviderAttempt, len(h.job.Attempts))
		copy(cp.Attempts, h.job.Attempts)
	}
	return &cp
}

// markCancelled 置取消标记并中断执行上下文，重复调用无害
// 返回置标记那一刻执行协程是否已认领句柄，认领判定与置标记在同一临界区内完成
func (h *jobHandle) markCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	claimed := h.cancel != nil
	if h.cancelled {
		return claimed
	}
	h.cancelled = true
	if h.cancel != nil {
		h.cancel()
	}
	return claimed
}

func (h *jobHandle) isCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// BatchRejection 批量提交中单项被拒的记录
type BatchRejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResult 批量提交结果，允许部分成功
type BatchResult struct {
	BatchID  string                  `json:"batch_id"`
	Jobs     []*entity.GenerationJob `json:"jobs"`
	Rejected []BatchRejection        `json:"rejected,omitempty"`
}

// BatchStatus 批次聚合视图
type BatchStatus struct {
	BatchID   string                  `json:"batch_id"`
	Total     int                     `json:"total"`
	Terminal  int                     `json:"terminal"`
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
	Cancelled int                     `json:"cancelled"`
	Progress  int                     `json:"progress"`
	Jobs      []*entity.GenerationJob `json:"jobs"`
}

// Orchestrator 生成任务编排器
// 每个任务由专属协程串行推进状态机，回退链遍历、配额结算与事件发布都发生在该协程内
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	registry  *provider.Registry
	enforcer  *admission.Enforcer
	bus       *eventbus.Bus
	jobRepo   repository.JobRepository
	snapshots SnapshotStore
	now       func() time.Time

	mu      sync.RWMutex
	jobs    map[string]*jobHandle
	batches map[string][]string

	sem  chan struct{}
	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	cfg config.OrchestratorConfig,
	registry *provider.Registry,
	enforcer *admission.Enforcer,
	bus *eventbus.Bus,
	jobRepo repository.JobRepository,
	snapshots SnapshotStore,
) *Orchestrator {
	maxJobs := cfg.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 64
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		enforcer:  enforcer,
		bus:       bus,
		jobRepo:   jobRepo,
		snapshots: snapshots,
		now:       time.Now,
		jobs:      make(map[string]*jobHandle),
		batches:   make(map[string][]string),
		sem:       make(chan struct{}, maxJobs),
		stop:      make(chan struct{}),
	}
}

// Start 启动终态任务的驱逐巡检
func (o *Orchestrator) Start() {
	interval := o.cfg.EvictInterval
	if interval <= 0 {
		interval = time.Minute
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-o.stop:
				return
			case <-ticker.C:
				o.evictExpired()
			}
		}
	}()
}

// Stop 停止编排器并等待在途任务落定
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.once.Do(func() { close(o.stop) })

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit 提交一个生成任务
// 准入通过即返回 queued 快照，执行在后台协程中推进
func (o *Orchestrator) Submit(ctx context.Context, tenant *entity.Tenant, userID string, capability entity.Capability, input, options json.RawMessage) (*entity.GenerationJob, error) {
	job, err := o.admitAndRegister(ctx, tenant, userID, capability, input, options, "", "")
	if err != nil {
		return nil, err
	}
	return job, nil
}

// SubmitWithID 以预分配的任务 ID 提交，供消息流消费侧使用
func (o *Orchestrator) SubmitWithID(ctx context.Context, tenant *entity.Tenant, userID string, capability entity.Capability, input, options json.RawMessage, jobID, batchID string) (*entity.GenerationJob, error) {
	return o.admitAndRegister(ctx, tenant, userID, capability, input, options, jobID, batchID)
}

// SubmitBatch 批量提交同一能力的多个任务
// 准入逐项判定，允许部分成功；整批共享一个 batch_id
func (o *Orchestrator) SubmitBatch(ctx context.Context, tenant *entity.Tenant, userID string, capability entity.Capability, inputs []json.RawMessage, options json.RawMessage) (*BatchResult, error) {
	if len(inputs) == 0 {
		return nil, errors.New(errors.CodeInvalidParam, "invalid parameter").WithDetail("batch requires at least one input")
	}

	batchID := uuid.NewString()
	result := &BatchResult{BatchID: batchID}
	for i, input := range inputs {
		job, err := o.admitAndRegister(ctx, tenant, userID, capability, input, options, "", batchID)
		if err != nil {
			result.Rejected = append(result.Rejected, BatchRejection{Index: i, Error: err.Error()})
			continue
		}
		result.Jobs = append(result.Jobs, job)
	}

	if len(result.Jobs) == 0 {
		// 整批被拒时用首个拒绝原因回应调用方
		return nil, errors.New(errors.CodeQuotaExceeded, "batch rejected").WithDetail(result.Rejected[0].Error)
	}
	return result, nil
}

// admitAndRegister 完成校验、准入、注册与执行协程的启动
func (o *Orchestrator) admitAndRegister(ctx context.Context, tenant *entity.Tenant, userID string, capability entity.Capability, input, options json.RawMessage, jobID, batchID string) (*entity.GenerationJob, error) {
	if !entity.ValidCapability(capability) {
		return nil, errors.New(errors.CodeCapabilityUnknown, "unknown capability").WithDetail(string(capability))
	}

	metric := capability.QuotaMetric()
	if !tenant.FeatureEnabled(metric) {
		return nil, errors.New(errors.CodeFeatureNotEnabled, "feature not enabled for tenant").WithDetail(metric)
	}

	if _, err := o.enforcer.Admit(ctx, tenant, metric); err != nil {
		return nil, err
	}

	if jobID == "" {
		jobID = uuid.NewString()
	}
	job := entity.NewGenerationJob(jobID, tenant.ID, userID, capability, input, options)
	job.BatchID = batchID

	h := &jobHandle{job: job, tenant: tenant}
	o.mu.Lock()
	select {
	case <-o.stop:
		o.mu.Unlock()
		o.enforcer.Release(tenant.ID, metric, 1)
		return nil, errors.New(errors.CodeServiceUnavailable, "service unavailable").WithDetail("orchestrator shutting down")
	default:
	}
	o.jobs[job.ID] = h
	if batchID != "" {
		o.batches[batchID] = append(o.batches[batchID], job.ID)
	}
	o.mu.Unlock()

	o.publish(h, "queued")

	o.wg.Add(1)
	go o.runJob(h)

	return h.snapshot(), nil
}

// runJob 任务执行协程，串行推进状态机直至终态
func (o *Orchestrator) runJob(h *jobHandle) {
	defer o.wg.Done()

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-o.stop:
		o.settleQuota(context.Background(), h, false)
		o.finalizeCancelled(h, "orchestrator shutting down")
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		o.settleQuota(context.Background(), h, false)
		o.finalizeCancelled(h, "cancelled before start")
		return
	}
	h.cancel = cancel
	h.mu.Unlock()

	job := h.job
	ctx := logger.WithContext(runCtx, logger.TenantIDKey, job.TenantID)
	ctx = logger.WithContext(ctx, logger.JobIDKey, job.ID)
	if job.BatchID != "" {
		ctx = logger.WithContext(ctx, logger.BatchIDKey, job.BatchID)
	}
	capability := job.Capability
	metrics.JobsInFlight.WithLabelValues(string(capability)).Inc()
	defer metrics.JobsInFlight.WithLabelValues(string(capability)).Dec()

	o.transition(h, entity.JobStateSelectingProvider, "selecting provider")

	chain := o.registry.ChainFor(capability)
	if len(chain) == 0 {
		o.finalizeFailed(ctx, h, fmt.Sprintf("no providers configured for capability %s", capability))
		return
	}

	for i, adapter := range chain {
		if h.isCancelled() {
			o.settleQuota(ctx, h, false)
			o.finalizeCancelled(h, "cancelled by caller")
			return
		}

		if i > 0 {
			h.mu.Lock()
			job.ResetProgressForFallback(fallbackProgressBaseline)
			h.mu.Unlock()
		}

		h.mu.Lock()
		err := job.StartAttempt(adapter.Name())
		h.mu.Unlock()
		if err != nil {
			logger.Error(ctx, "failed to enter running state", err)
			o.finalizeFailed(ctx, h, err.Error())
			return
		}
		o.publish(h, "attempt started on "+adapter.Name())

		attemptStart := o.now()
		callCtx, callCancel := context.WithTimeout(ctx, o.providerCallTimeout())
		env := adapter.Invoke(callCtx, &provider.Invocation{
			JobID:      job.ID,
			TenantID:   job.TenantID,
			Capability: string(capability),
			Input:      job.Input,
			Options:    job.Options,
		}, func(progress int, message string) {
			o.reportProgress(h, progress, message)
		})
		callCancel()
		durationMs := o.now().Sub(attemptStart).Milliseconds()

		if h.isCancelled() {
			// 取消后到达的结果一律丢弃，不提交配额
			h.mu.Lock()
			job.RecordAttempt(entity.ProviderAttempt{
				Provider:   adapter.Name(),
				Outcome:    entity.AttemptOutcomeDiscarded,
				StartedAt:  attemptStart,
				DurationMs: durationMs,
			})
			h.mu.Unlock()
			metrics.ProviderAttemptsTotal.WithLabelValues(adapter.Name(), string(capability), string(entity.AttemptOutcomeDiscarded)).Inc()
			o.settleQuota(ctx, h, false)
			o.finalizeCancelled(h, "cancelled by caller")
			return
		}

		if env.Success {
			h.mu.Lock()
			job.RecordAttempt(entity.ProviderAttempt{
				Provider:   adapter.Name(),
				Outcome:    entity.AttemptOutcomeSuccess,
				StartedAt:  attemptStart,
				DurationMs: durationMs,
			})
			err := job.Complete(env.Payload, adapter.Name())
			h.mu.Unlock()
			if err != nil {
				logger.Error(ctx, "failed to complete job", err)
				o.finalizeFailed(ctx, h, err.Error())
				return
			}
			metrics.ProviderAttemptsTotal.WithLabelValues(adapter.Name(), string(capability), string(entity.AttemptOutcomeSuccess)).Inc()
			o.settleQuota(ctx, h, true)
			o.finalizeTerminal(ctx, h, "completed by "+adapter.Name())
			return
		}

		h.mu.Lock()
		job.RecordAttempt(entity.ProviderAttempt{
			Provider:   adapter.Name(),
			Outcome:    entity.AttemptOutcomeFailure,
			ErrorKind:  env.ErrorKind,
			Error:      env.Error,
			StartedAt:  attemptStart,
			DurationMs: durationMs,
		})
		h.mu.Unlock()
		metrics.ProviderAttemptsTotal.WithLabelValues(adapter.Name(), string(capability), string(entity.AttemptOutcomeFailure)).Inc()
		logger.Warn(ctx, "provider attempt failed",
			"provider", adapter.Name(),
			"error_kind", env.ErrorKind,
			"error", env.Error,
		)

		if i < len(chain)-1 {
			o.transition(h, entity.JobStateSelectingProvider, "falling back to next provider")
		}
	}

	h.mu.Lock()
	aggregate := job.AggregateError()
	h.mu.Unlock()
	o.finalizeFailed(ctx, h, aggregate)
}

// settleQuota 结算本任务的配额预留，提交或释放恰好发生一次
func (o *Orchestrator) settleQuota(ctx context.Context, h *jobHandle, commit bool) {
	h.mu.Lock()
	if h.settled {
		h.mu.Unlock()
		return
	}
	h.settled = true
	h.mu.Unlock()

	metric := h.job.Capability.QuotaMetric()
	if commit {
		o.enforcer.Commit(ctx, h.job.TenantID, metric, 1)
		return
	}
	o.enforcer.Release(h.job.TenantID, metric, 1)
}

// GetJob 查询任务，先查在途注册表，其次快照缓存，最后归档库
func (o *Orchestrator) GetJob(ctx context.Context, tenantID, jobID string) (*entity.GenerationJob, error) {
	o.mu.RLock()
	h, ok := o.jobs[jobID]
	o.mu.RUnlock()
	if ok {
		job := h.snapshot()
		if job.TenantID != tenantID {
			return nil, errors.ErrJobNotFound
		}
		return job, nil
	}

	if o.snapshots != nil {
		if job, err := o.snapshots.GetJob(ctx, jobID); err == nil && job != nil {
			if job.TenantID != tenantID {
				return nil, errors.ErrJobNotFound
			}
			return job, nil
		}
	}

	if o.jobRepo != nil {
		job, err := o.jobRepo.GetByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job == nil || job.TenantID != tenantID {
			return nil, errors.ErrJobNotFound
		}
		return job, nil
	}
	return nil, errors.ErrJobNotFound
}

// CancelJob 协作式取消，任务已终态时拒绝
func (o *Orchestrator) CancelJob(ctx context.Context, tenantID, jobID string) (*entity.GenerationJob, error) {
	o.mu.RLock()
	h, ok := o.jobs[jobID]
	o.mu.RUnlock()
	if !ok || h.job.TenantID != tenantID {
		return nil, errors.ErrJobNotFound
	}

	h.mu.Lock()
	if h.job.State.IsTerminal() {
		h.mu.Unlock()
		return nil, errors.New(errors.CodeJobAlreadyTerminal, "job already terminal").WithDetail(string(h.job.State))
	}
	h.mu.Unlock()

	claimed := h.markCancelled()

	// 未被执行协程认领的任务没有协程替它收尾，这里直接落终态
	// 已认领的句柄由执行协程观察取消标记后收尾，保证终态事件只有一个发布者
	if !claimed {
		o.settleQuota(ctx, h, false)
		o.finalizeCancelled(h, "cancelled before start")
	}

	logger.Info(ctx, "job cancel requested", "job_id", jobID)
	return h.snapshot(), nil
}

// ListJobs 查询租户的归档任务列表
func (o *Orchestrator) ListJobs(ctx context.Context, tenantID string, filter *repository.JobFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.GenerationJob], error) {
	if o.jobRepo == nil {
		return repository.NewPagedResult[*entity.GenerationJob](nil, 0, pagination), nil
	}
	return o.jobRepo.ListByTenant(ctx, tenantID, filter, pagination)
}

// GetBatch 批次聚合视图，进度为各任务进度的算术平均
func (o *Orchestrator) GetBatch(ctx context.Context, tenantID, batchID string) (*BatchStatus, error) {
	o.mu.RLock()
	ids := append([]string(nil), o.batches[batchID]...)
	o.mu.RUnlock()
	if len(ids) == 0 {
		return nil, errors.New(errors.CodeJobNotFound, "job not found").WithDetail("batch " + batchID)
	}

	status := &BatchStatus{BatchID: batchID, Total: len(ids)}
	sum := 0
	for _, id := range ids {
		job, err := o.GetJob(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		status.Jobs = append(status.Jobs, job)
		sum += job.Progress
		switch job.State {
		case entity.JobStateSucceeded:
			status.Terminal++
			status.Succeeded++
		case entity.JobStateFailed:
			status.Terminal++
			status.Failed++
		case entity.JobStateCancelled:
			status.Terminal++
			status.Cancelled++
		}
	}
	status.Progress = sum / len(ids)
	return status, nil
}

// transition 执行一次状态迁移并发布事件
func (o *Orchestrator) transition(h *jobHandle, to entity.JobState, message string) {
	h.mu.Lock()
	err := h.job.Transition(to)
	h.mu.Unlock()
	if err != nil {
		return
	}
	o.publish(h, message)
}

// reportProgress 适配器进度回调入口
func (o *Orchestrator) reportProgress(h *jobHandle, progress int, message string) {
	h.mu.Lock()
	before := h.job.Progress
	h.job.UpdateProgress(progress)
	changed := h.job.Progress != before
	h.mu.Unlock()
	if changed {
		o.publish(h, message)
	}
}

// finalizeFailed 任务失败收尾：释放预留、落终态、归档
func (o *Orchestrator) finalizeFailed(ctx context.Context, h *jobHandle, errMsg string) {
	h.mu.Lock()
	err := h.job.Fail(errMsg)
	h.mu.Unlock()
	if err != nil {
		return
	}
	o.settleQuota(ctx, h, false)
	o.finalizeTerminal(ctx, h, errMsg)
}

// finalizeCancelled 任务取消收尾
func (o *Orchestrator) finalizeCancelled(h *jobHandle, message string) {
	h.mu.Lock()
	err := h.job.Cancel()
	h.mu.Unlock()
	if err != nil {
		return
	}
	o.finalizeTerminal(context.Background(), h, message)
}

// finalizeTerminal 终态统一收尾：指标、事件、归档与快照
func (o *Orchestrator) finalizeTerminal(ctx context.Context, h *jobHandle, message string) {
	job := h.snapshot()

	h.mu.Lock()
	h.doneAt = o.now()
	h.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(string(job.Capability), string(job.State)).Inc()
	if job.StartedAt != nil && job.CompletedAt != nil {
		metrics.JobDuration.WithLabelValues(string(job.Capability)).Observe(job.CompletedAt.Sub(*job.StartedAt).Seconds())
	}

	o.publish(h, message)
	o.archive(context.WithoutCancel(ctx), job)
}

// archive 把终态任务写入归档库与快照缓存，失败只记日志
func (o *Orchestrator) archive(ctx context.Context, job *entity.GenerationJob) {
	if o.jobRepo != nil {
		if err := o.jobRepo.Create(ctx, job); err != nil {
			logger.Error(ctx, "failed to archive job", err, "job_id", job.ID)
		}
	}
	if o.snapshots != nil {
		ttl := o.cfg.JobRetention
		if ttl <= 0 {
			ttl = 30 * time.Minute
		}
		if err := o.snapshots.SaveJob(ctx, job, ttl); err != nil {
			logger.Warn(ctx, "failed to cache job snapshot", "job_id", job.ID, "error", err.Error())
		}
	}
}

// publish 发布当前任务状态的进度事件
func (o *Orchestrator) publish(h *jobHandle, message string) {
	if o.bus == nil {
		return
	}
	h.mu.Lock()
	event := &entity.ProgressEvent{
		JobID:      h.job.ID,
		BatchID:    h.job.BatchID,
		TenantID:   h.job.TenantID,
		UserID:     h.job.UserID,
		Capability: h.job.Capability,
		State:      h.job.State,
		Progress:   h.job.Progress,
		Message:    message,
		Timestamp:  o.now(),
	}
	h.mu.Unlock()
	o.bus.Publish(event)
}

// evictExpired 驱逐保留期外的终态任务句柄与空批次索引
func (o *Orchestrator) evictExpired() {
	retention := o.cfg.JobRetention
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	cutoff := o.now().Add(-retention)

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, h := range o.jobs {
		h.mu.Lock()
		expired := h.job.State.IsTerminal() && !h.doneAt.IsZero() && h.doneAt.Before(cutoff)
		h.mu.Unlock()
		if expired {
			delete(o.jobs, id)
		}
	}
	for batchID, ids := range o.batches {
		live := ids[:0]
		for _, id := range ids {
			if _, ok := o.jobs[id]; ok {
				live = append(live, id)
			}
		}
		if len(live) == 0 {
			delete(o.batches, batchID)
		} else {
			o.batches[batchID] = live
		}
	}
}

// providerCallTimeout 单次 Provider 调用超时
func (o *Orchestrator) providerCallTimeout() time.Duration {
	if o.cfg.ProviderCallTimeout > 0 {
		return o.cfg.ProviderCallTimeout
	}
	return 120 * time.Second
}
