// Package messaging 提供基于 Redis Stream 的消息队列实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishGenerationJob 发布异步生成任务
func (p *Producer) PublishGenerationJob(ctx context.Context, job *GenerationJobMessage) (string, error) {
	msg, err := NewMessage(job.JobID, "generation_job", job.TenantID, job.JobID, job)
	if err != nil {
		return "", err
	}

	msg.SetMetadata("capability", job.Capability)
	if job.BatchID != "" {
		msg.SetMetadata("batch_id", job.BatchID)
	}

	return p.Publish(ctx, StreamGenerationJobs, msg)
}

// PublishAuditLog 发布审计日志
func (p *Producer) PublishAuditLog(ctx context.Context, log *AuditLogMessage) (string, error) {
	msg, err := NewMessage(log.RequestID, "audit", log.TenantID, log.JobID, log)
	if err != nil {
		return "", err
	}

	return p.Publish(ctx, StreamAuditLog, msg)
}

// GenerationJobMessage 生成任务消息
type GenerationJobMessage struct {
	JobID      string          `json:"job_id"`
	BatchID    string          `json:"batch_id,omitempty"`
	TenantID   string          `json:"tenant_id"`
	UserID     string          `json:"user_id"`
	Capability string          `json:"capability"`
	Input      json.RawMessage `json:"input"`
	Options    json.RawMessage `json:"options,omitempty"`
}

// AuditLogMessage 审计日志消息
// 覆盖准入旁路、任务终态等需要留痕的事件
type AuditLogMessage struct {
	TenantID   string                 `json:"tenant_id"`
	UserID     string                 `json:"user_id,omitempty"`
	Action     string                 `json:"action"`
	JobID      string                 `json:"job_id,omitempty"`
	Metric     string                 `json:"metric,omitempty"`
	RequestID  string                 `json:"request_id"`
	TraceID    string                 `json:"trace_id,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt int64                  `json:"occurred_at"`
}
