package orchestration

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnigen-api/internal/application/admission"
	"omnigen-api/internal/config"
	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/infrastructure/eventbus"
	"omnigen-api/internal/infrastructure/provider"
	"omnigen-api/pkg/errors"
)

type fakeAdapter struct {
	name     string
	env      *provider.Envelope
	block    chan struct{}
	progress []int
	invoked  atomic.Int32
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Invoke(ctx context.Context, _ *provider.Invocation, onProgress provider.ProgressFunc) *provider.Envelope {
	a.invoked.Add(1)
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return provider.Failed(provider.ErrorKindTimeout, ctx.Err())
		}
	}
	for _, p := range a.progress {
		onProgress(p, "working")
	}
	return a.env
}

func succeedingAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, env: provider.Succeed(json.RawMessage(`{"content":"ok"}`)), progress: []int{50, 90}}
}

func failingAdapter(name, kind string) *fakeAdapter {
	return &fakeAdapter{name: name, env: &provider.Envelope{Success: false, ErrorKind: kind, Error: kind + " from " + name}}
}

func testTenant(limit int64) *entity.Tenant {
	return &entity.Tenant{
		ID:     "tenant-1",
		Status: entity.TenantStatusActive,
		Features: map[string]bool{
			"ai_tokens": true,
		},
		Usage: map[string]*entity.UsageCounter{
			"ai_tokens": {Used: 0, Limit: limit, PeriodStart: time.Now()},
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg config.OrchestratorConfig, adapters []provider.Adapter) (*Orchestrator, *eventbus.Bus) {
	t.Helper()

	byName := make(map[string]provider.Adapter, len(adapters))
	chain := make([]string, 0, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
		chain = append(chain, a.Name())
	}
	registry := provider.NewRegistryWithAdapters(byName, map[entity.Capability][]string{
		entity.CapabilityText: chain,
	})

	enforcer := admission.NewEnforcer(nil, config.AdmissionConfig{})
	bus := eventbus.NewBus(256)

	if cfg.ProviderCallTimeout == 0 {
		cfg.ProviderCallTimeout = 5 * time.Second
	}
	if cfg.MaxConcurrentJobs == 0 {
		cfg.MaxConcurrentJobs = 8
	}
	o := NewOrchestrator(cfg, registry, enforcer, bus, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Stop(ctx)
	})
	return o, bus
}

func waitForState(t *testing.T, o *Orchestrator, tenantID, jobID string, want entity.JobState) *entity.GenerationJob {
	t.Helper()
	var job *entity.GenerationJob
	require.Eventually(t, func() bool {
		got, err := o.GetJob(context.Background(), tenantID, jobID)
		if err != nil {
			return false
		}
		job = got
		return got.State == want
	}, 3*time.Second, 10*time.Millisecond, "job %s never reached state %s", jobID, want)
	return job
}

func TestSubmitFallsBackThroughChain(t *testing.T) {
	p1 := failingAdapter("p1", provider.ErrorKindTimeout)
	p2 := failingAdapter("p2", provider.ErrorKindUnavailable)
	p3 := succeedingAdapter("p3")
	o, _ := newTestOrchestrator(t, config.OrchestratorConfig{}, []provider.Adapter{p1, p2, p3})

	tenant := testTenant(100)
	job, err := o.Submit(context.Background(), tenant, "user-1", entity.CapabilityText, json.RawMessage(`{"prompt":"hi"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStateQueued, job.State)

	done := waitForState(t, o, tenant.ID, job.ID, entity.JobStateSucceeded)

	require.Len(t, done.Attempts, 3)
	assert.Equal(t, entity.AttemptOutcomeFailure, done.Attempts[0].Outcome)
	assert.Equal(t, provider.ErrorKindTimeout, done.Attempts[0].ErrorKind)
	assert.Equal(t, entity.AttemptOutcomeFailure, done.Attempts[1].Outcome)
	assert.Equal(t, entity.AttemptOutcomeSuccess, done.Attempts[2].Outcome)
	assert.Equal(t, "p3", done.Provider)
	assert.Equal(t, 100, done.Progress)
	assert.JSONEq(t, `{"content":"ok"}`, string(done.Result))
	assert.EqualValues(t, 1, p1.invoked.Load())
	assert.EqualValues(t, 1, p2.invoked.Load())
	assert.EqualValues(t, 1, p3.invoked.Load())
}

func TestAllProvidersExhaustedAggregatesErrors(t *testing.T) {
	p1 := failingAdapter("p1", provider.ErrorKindTimeout)
	p2 := failingAdapter("p2", provider.ErrorKindInternal)
	o, _ := newTestOrchestrator(t, config.OrchestratorConfig{}, []provider.Adapter{p1, p2})

	tenant := testTenant(100)
	job, err := o.Submit(context.Background(), tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
	require.NoError(t, err)

	done := waitForState(t, o, tenant.ID, job.ID, entity.JobStateFailed)

	require.Len(t, done.Attempts, 2)
	assert.Contains(t, done.ErrorMessage, "p1: timeout from p1")
	assert.Contains(t, done.ErrorMessage, "p2: internal from p2")
}

func TestCancelRunningJob(t *testing.T) {
	blocker := &fakeAdapter{name: "p1", env: provider.Succeed(json.RawMessage(`{}`)), block: make(chan struct{})}
	o, bus := newTestOrchestrator(t, config.OrchestratorConfig{}, []provider.Adapter{blocker})

	tenant := testTenant(100)
	sub := bus.Subscribe(tenant.ID, "user-1")
	defer bus.Unsubscribe(tenant.ID, "user-1", sub)

	job, err := o.Submit(context.Background(), tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	waitForState(t, o, tenant.ID, job.ID, entity.JobStateRunning)

	_, err = o.CancelJob(context.Background(), tenant.ID, job.ID)
	require.NoError(t, err)

	done := waitForState(t, o, tenant.ID, job.ID, entity.JobStateCancelled)
	require.Len(t, done.Attempts, 1)
	assert.Equal(t, entity.AttemptOutcomeDiscarded, done.Attempts[0].Outcome)

	// 终态事件恰好一条
	terminal := 0
	deadline := time.After(time.Second)
drain:
	for {
		select {
		case e := <-sub.Events():
			if e.Terminal() {
				terminal++
			}
		case <-deadline:
			break drain
		}
	}
	assert.Equal(t, 1, terminal)

	// 已终态的任务拒绝再次取消
	_, err = o.CancelJob(context.Background(), tenant.ID, job.ID)
	require.Error(t, err)
	appErr := errors.AsAppError(err)
	assert.Equal(t, errors.CodeJobAlreadyTerminal, appErr.Code)
}

func TestCancelQueuedJobBeforeExecution(t *testing.T) {
	blocker := &fakeAdapter{name: "p1", env: provider.Succeed(json.RawMessage(`{}`)), block: make(chan struct{})}
	o, _ := newTestOrchestrator(t, config.OrchestratorConfig{MaxConcurrentJobs: 1}, []provider.Adapter{blocker})

	tenant := testTenant(100)
	ctx := context.Background()

	first, err := o.Submit(ctx, tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	waitForState(t, o, tenant.ID, first.ID, entity.JobStateRunning)

	// 并发上限为 1，第二个任务停留在 queued
	second, err := o.Submit(ctx, tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
	require.NoError(t, err)

	cancelled, err := o.CancelJob(ctx, tenant.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStateCancelled, cancelled.State)
	assert.Empty(t, cancelled.Attempts)

	close(blocker.block)
	waitForState(t, o, tenant.ID, first.ID, entity.JobStateSucceeded)
}

func TestMarkCancelledReportsClaim(t *testing.T) {
	// 执行协程尚未认领：置标记时 cancel 为空
	unclaimed := &jobHandle{job: &entity.GenerationJob{}}
	assert.False(t, unclaimed.markCancelled())
	assert.False(t, unclaimed.markCancelled())

	// 已认领：置标记与认领判定在同一临界区，且中断被触发
	fired := false
	claimed := &jobHandle{job: &entity.GenerationJob{}, cancel: func() { fired = true }}
	assert.True(t, claimed.markCancelled())
	assert.True(t, fired)
	assert.True(t, claimed.markCancelled())
}

func TestCancelRaceKeepsTerminalEventLast(t *testing.T) {
	adapter := &fakeAdapter{name: "p1", env: provider.Succeed(json.RawMessage(`{}`)), progress: []int{25, 50, 75}}
	o, bus := newTestOrchestrator(t, config.OrchestratorConfig{MaxConcurrentJobs: 4}, []provider.Adapter{adapter})

	tenant := testTenant(1000)
	sub := bus.Subscribe(tenant.ID, "user-1")
	defer bus.Unsubscribe(tenant.ID, "user-1", sub)

	// 提交后立即取消，让取消与执行协程认领句柄的窗口反复竞争
	const jobCount = 24
	ids := make([]string, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		job, err := o.Submit(context.Background(), tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
		require.NoError(t, err)
		_, _ = o.CancelJob(context.Background(), tenant.ID, job.ID)
		ids = append(ids, job.ID)
	}

	for _, id := range ids {
		jobID := id
		require.Eventually(t, func() bool {
			job, err := o.GetJob(context.Background(), tenant.ID, jobID)
			return err == nil && job.State.IsTerminal()
		}, 3*time.Second, 10*time.Millisecond, "job %s never reached a terminal state", jobID)
	}

	events := make(map[string][]*entity.ProgressEvent)
	deadline := time.After(500 * time.Millisecond)
drain:
	for {
		select {
		case e := <-sub.Events():
			events[e.JobID] = append(events[e.JobID], e)
		case <-deadline:
			break drain
		}
	}

	// 每个任务的终态事件恰好一条且位于序列末尾
	for _, id := range ids {
		seq := events[id]
		require.NotEmpty(t, seq, "job %s emitted no events", id)

		terminal := 0
		for _, e := range seq {
			if e.Terminal() {
				terminal++
			}
		}
		assert.Equal(t, 1, terminal, "job %s terminal event count", id)
		assert.True(t, seq[len(seq)-1].Terminal(), "job %s ended with state %s", id, seq[len(seq)-1].State)
	}
}

func TestQuotaSettlement(t *testing.T) {
	t.Run("released on failure", func(t *testing.T) {
		o, _ := newTestOrchestrator(t, config.OrchestratorConfig{}, []provider.Adapter{failingAdapter("p1", provider.ErrorKindInternal)})
		tenant := testTenant(1)
		ctx := context.Background()

		job, err := o.Submit(ctx, tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
		require.NoError(t, err)
		waitForState(t, o, tenant.ID, job.ID, entity.JobStateFailed)

		// 失败任务释放预留，下一次提交仍被放行
		require.Eventually(t, func() bool {
			_, err := o.Submit(ctx, tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
			return err == nil
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("committed on success", func(t *testing.T) {
		o, _ := newTestOrchestrator(t, config.OrchestratorConfig{}, []provider.Adapter{succeedingAdapter("p1")})
		tenant := testTenant(1)
		ctx := context.Background()

		job, err := o.Submit(ctx, tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
		require.NoError(t, err)
		waitForState(t, o, tenant.ID, job.ID, entity.JobStateSucceeded)

		_, err = o.Submit(ctx, tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
		require.Error(t, err)
		appErr := errors.AsAppError(err)
		assert.Equal(t, errors.CodeQuotaExceeded, appErr.Code)
	})
}

func TestSubmitBatchPartialSuccess(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.OrchestratorConfig{}, []provider.Adapter{succeedingAdapter("p1")})
	tenant := testTenant(2)
	ctx := context.Background()

	inputs := []json.RawMessage{
		json.RawMessage(`{"n":1}`),
		json.RawMessage(`{"n":2}`),
		json.RawMessage(`{"n":3}`),
	}
	result, err := o.SubmitBatch(ctx, tenant, "user-1", entity.CapabilityText, inputs, nil)
	require.NoError(t, err)

	assert.Len(t, result.Jobs, 2)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, 2, result.Rejected[0].Index)
	assert.Contains(t, result.Rejected[0].Error, "quota exceeded")

	for _, job := range result.Jobs {
		waitForState(t, o, tenant.ID, job.ID, entity.JobStateSucceeded)
	}

	status, err := o.GetBatch(ctx, tenant.ID, result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 2, status.Succeeded)
	assert.Equal(t, 100, status.Progress)
}

func TestSubmitBatchAllRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.OrchestratorConfig{}, []provider.Adapter{succeedingAdapter("p1")})
	tenant := testTenant(0)

	_, err := o.SubmitBatch(context.Background(), tenant, "user-1", entity.CapabilityText,
		[]json.RawMessage{json.RawMessage(`{}`)}, nil)
	require.Error(t, err)
	appErr := errors.AsAppError(err)
	assert.Equal(t, errors.CodeQuotaExceeded, appErr.Code)
}

func TestSubmitValidation(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.OrchestratorConfig{}, []provider.Adapter{succeedingAdapter("p1")})
	ctx := context.Background()

	_, err := o.Submit(ctx, testTenant(10), "user-1", entity.Capability("hologram"), json.RawMessage(`{}`), nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeCapabilityUnknown, errors.AsAppError(err).Code)

	tenant := testTenant(10)
	tenant.Features = map[string]bool{}
	_, err = o.Submit(ctx, tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeFeatureNotEnabled, errors.AsAppError(err).Code)
}

func TestGetJobScopedToTenant(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.OrchestratorConfig{}, []provider.Adapter{succeedingAdapter("p1")})
	tenant := testTenant(10)

	job, err := o.Submit(context.Background(), tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
	require.NoError(t, err)

	_, err = o.GetJob(context.Background(), "other-tenant", job.ID)
	require.Error(t, err)
	assert.Equal(t, errors.CodeJobNotFound, errors.AsAppError(err).Code)
}

func TestProgressEventsMonotonicPerJob(t *testing.T) {
	adapter := succeedingAdapter("p1")
	adapter.progress = []int{10, 30, 30, 60, 90}
	o, bus := newTestOrchestrator(t, config.OrchestratorConfig{}, []provider.Adapter{adapter})

	tenant := testTenant(10)
	sub := bus.Subscribe(tenant.ID, "user-1")
	defer bus.Unsubscribe(tenant.ID, "user-1", sub)

	job, err := o.Submit(context.Background(), tenant, "user-1", entity.CapabilityText, json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	waitForState(t, o, tenant.ID, job.ID, entity.JobStateSucceeded)

	last := -1
	deadline := time.After(time.Second)
drain:
	for {
		select {
		case e := <-sub.Events():
			assert.GreaterOrEqual(t, e.Progress, last)
			last = e.Progress
			if e.Terminal() {
				break drain
			}
		case <-deadline:
			t.Fatal("terminal event never arrived")
		}
	}
	assert.Equal(t, 100, last)
}
