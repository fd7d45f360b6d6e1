// Package admission 提供租户准入控制能力
package admission

import (
	"context"
	"sync"
	"time"

	"omnigen-api/internal/config"
	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/domain/repository"
	"omnigen-api/pkg/errors"
	"omnigen-api/pkg/logger"
	"omnigen-api/pkg/metrics"
)

// Decision 准入判定结果
type Decision struct {
	Allowed   bool  `json:"allowed"`
	Remaining int64 `json:"remaining"`
	Limit     int64 `json:"limit"`
}

// counterState 单个 (tenant, metric) 键的计数状态
// mu 串行化同一键上的 check 与 commit，消除并发双重准入
type counterState struct {
	mu      sync.Mutex
	loaded  bool
	period  string
	used    int64
	pending int64
	limit   int64
}

// Enforcer 配额执行器，独占所有用量账本的写入
type Enforcer struct {
	usageRepo repository.UsageRepository
	cfg       config.AdmissionConfig
	now       func() time.Time

	mu       sync.Mutex
	counters map[string]*counterState
}

// NewEnforcer 创建配额执行器
func NewEnforcer(usageRepo repository.UsageRepository, cfg config.AdmissionConfig) *Enforcer {
	return &Enforcer{
		usageRepo: usageRepo,
		cfg:       cfg,
		now:       time.Now,
		counters:  make(map[string]*counterState),
	}
}

// state 获取或创建某键的计数状态
func (e *Enforcer) state(tenantID, metric string) *counterState {
	key := tenantID + "|" + metric
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.counters[key]
	if !ok {
		st = &counterState{}
		e.counters[key] = st
	}
	return st
}

// refreshLocked 在持有键锁的前提下完成惰性加载与周期翻转
func (e *Enforcer) refreshLocked(ctx context.Context, st *counterState, tenant *entity.Tenant, metric string) {
	now := e.now()
	period := entity.PeriodOf(now)

	limit, known := int64(0), false
	if tenant.Usage != nil {
		if counter, ok := tenant.Usage[metric]; ok {
			limit, known = counter.Limit, true
		}
	}
	if !known {
		if e.cfg.UnknownMetricOpen {
			limit = -1 // 不限额
		} else {
			limit = 0
		}
	}
	st.limit = limit

	if !st.loaded {
		st.loaded = true
		st.period = period
		if tenant.Usage != nil {
			if counter, ok := tenant.Usage[metric]; ok && entity.PeriodOf(counter.PeriodStart) == period {
				st.used = counter.Used
			}
		}
		// 账本持久化值优先于租户快照
		if e.usageRepo != nil {
			if entry, err := e.usageRepo.Get(ctx, tenant.ID, metric, period); err == nil && entry != nil {
				st.used = entry.Count
			}
		}
		return
	}

	// 周期翻转是惰性的：读到过期周期时清零，一个周期内恰好翻转一次
	if st.period != period {
		st.period = period
		st.used = 0
	}
}

// CheckAdmission 只读准入判定
func (e *Enforcer) CheckAdmission(ctx context.Context, tenant *entity.Tenant, metric string) *Decision {
	st := e.state(tenant.ID, metric)
	st.mu.Lock()
	defer st.mu.Unlock()

	e.refreshLocked(ctx, st, tenant, metric)
	return e.decisionLocked(st)
}

// Admit 原子的检查加预留：准入成功时立刻占用一个配额单位
// 同一键上的并发 Admit 被 st.mu 串行化，不会越过限额双重准入
func (e *Enforcer) Admit(ctx context.Context, tenant *entity.Tenant, metric string) (*Decision, error) {
	st := e.state(tenant.ID, metric)
	st.mu.Lock()
	defer st.mu.Unlock()

	e.refreshLocked(ctx, st, tenant, metric)

	if e.cfg.BypassEnabled {
		// 显式配置的旁路开关：放行但必须留下审计痕迹
		logger.Warn(ctx, "admission bypassed by configuration",
			"tenant_id", tenant.ID,
			"metric", metric,
		)
		metrics.AdmissionBypassTotal.WithLabelValues(tenant.ID, metric).Inc()
		return e.decisionLocked(st), nil
	}

	decision := e.decisionLocked(st)
	if !decision.Allowed {
		metrics.AdmissionDecisionsTotal.WithLabelValues(tenant.ID, metric, "denied").Inc()
		return decision, &errors.QuotaExceededError{
			TenantID:  tenant.ID,
			Metric:    metric,
			Limit:     st.limit,
			Used:      st.used + st.pending,
			ResetDate: entity.NextPeriodStart(e.now()).Format(time.RFC3339),
		}
	}

	st.pending++
	metrics.AdmissionDecisionsTotal.WithLabelValues(tenant.ID, metric, "allowed").Inc()
	return decision, nil
}

// decisionLocked 计算当前判定，调用方必须持有键锁
func (e *Enforcer) decisionLocked(st *counterState) *Decision {
	if st.limit < 0 {
		return &Decision{Allowed: true, Remaining: -1, Limit: -1}
	}
	remaining := st.limit - st.used - st.pending
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Allowed:   remaining > 0,
		Remaining: remaining,
		Limit:     st.limit,
	}
}

// Commit 提交配额消耗：预留转为已用，并持久化到账本
// 持久化失败只记录日志，不影响任务结果
func (e *Enforcer) Commit(ctx context.Context, tenantID, metric string, amount int64) {
	if amount <= 0 {
		return
	}

	st := e.state(tenantID, metric)
	st.mu.Lock()
	if st.pending >= amount {
		st.pending -= amount
	} else {
		st.pending = 0
	}
	st.used += amount
	period := st.period
	if period == "" {
		period = entity.PeriodOf(e.now())
	}
	st.mu.Unlock()

	persist := func(ctx context.Context) {
		if e.usageRepo == nil {
			return
		}
		if err := e.usageRepo.Increment(ctx, tenantID, metric, period, amount); err != nil {
			logger.Error(ctx, "failed to persist usage commit", err,
				"tenant_id", tenantID,
				"metric", metric,
				"amount", amount,
			)
		}
	}

	if e.cfg.CommitAsync {
		go persist(context.WithoutCancel(ctx))
		return
	}
	persist(ctx)
}

// Release 释放未消耗的预留（任务失败或取消时）
func (e *Enforcer) Release(tenantID, metric string, amount int64) {
	if amount <= 0 {
		return
	}
	st := e.state(tenantID, metric)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pending -= amount
	if st.pending < 0 {
		st.pending = 0
	}
}

// Snapshot 返回某键当前的 used/limit，用于租户视图展示
func (e *Enforcer) Snapshot(ctx context.Context, tenant *entity.Tenant, metric string) (used, limit int64) {
	st := e.state(tenant.ID, metric)
	st.mu.Lock()
	defer st.mu.Unlock()
	e.refreshLocked(ctx, st, tenant, metric)
	return st.used, st.limit
}
