package app

import (
	"context"
	"sync"
	"time"

	"omnigen-api/internal/infrastructure/eventbus"
	"omnigen-api/internal/infrastructure/messaging"
	"omnigen-api/pkg/logger"
)

// AuditMirror 审计镜像
// 订阅全量进度事件，将终态事件 fire-and-forget 写入审计流
type AuditMirror struct {
	bus      *eventbus.Bus
	producer *messaging.Producer

	sub  *eventbus.Subscription
	wg   sync.WaitGroup
	once sync.Once
	stop chan struct{}
}

// NewAuditMirror 创建审计镜像
func NewAuditMirror(bus *eventbus.Bus, producer *messaging.Producer) *AuditMirror {
	return &AuditMirror{
		bus:      bus,
		producer: producer,
		stop:     make(chan struct{}),
	}
}

// Start 启动审计镜像
func (m *AuditMirror) Start() {
	m.sub = m.bus.SubscribeAll()
	m.wg.Add(1)
	go m.run()
}

// Stop 停止审计镜像
func (m *AuditMirror) Stop() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *AuditMirror) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case event, ok := <-m.sub.Events():
			if !ok {
				return
			}
			if !event.Terminal() {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := m.producer.PublishAuditLog(ctx, &messaging.AuditLogMessage{
				TenantID:  event.TenantID,
				UserID:    event.UserID,
				Action:    "job_" + string(event.State),
				JobID:     event.JobID,
				Metric:    event.Capability.QuotaMetric(),
				RequestID: event.JobID,
				Metadata: map[string]interface{}{
					"capability": string(event.Capability),
					"batch_id":   event.BatchID,
					"progress":   event.Progress,
				},
				OccurredAt: event.Timestamp.Unix(),
			})
			cancel()
			if err != nil {
				// 审计写入失败不影响业务
				logger.Warn(ctx, "audit publish failed", "job_id", event.JobID, "error", err.Error())
			}
		}
	}
}
