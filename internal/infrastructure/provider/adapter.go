// Package provider 提供生成能力 Provider 的适配层
// 所有适配器把各自的传输语义归一化为统一的结果信封，
// 编排器据此决定回退，不感知任何 Provider 协议细节
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// 归一化错误类别
const (
	ErrorKindTimeout      = "timeout"
	ErrorKindRateLimited  = "rate_limited"
	ErrorKindInvalidInput = "invalid_input"
	ErrorKindUnavailable  = "unavailable"
	ErrorKindInternal     = "internal"
)

// Invocation 一次 Provider 调用的输入
type Invocation struct {
	JobID      string
	TenantID   string
	Capability string
	Input      json.RawMessage
	Options    json.RawMessage
}

// Envelope 归一化的调用结果信封
type Envelope struct {
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ProgressFunc 进度回调，由编排器注入
type ProgressFunc func(progress int, message string)

// Adapter Provider 适配器接口
type Adapter interface {
	// Name 返回 Provider 名称
	Name() string

	// Invoke 执行一次生成调用
	// 任何失败都体现在信封里，适配器不向上抛传输层错误
	Invoke(ctx context.Context, inv *Invocation, onProgress ProgressFunc) *Envelope
}

// Succeed 构造成功信封
func Succeed(payload json.RawMessage) *Envelope {
	return &Envelope{Success: true, Payload: payload}
}

// Failed 构造失败信封
func Failed(kind string, err error) *Envelope {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Envelope{Success: false, ErrorKind: kind, Error: msg}
}

// classifyError 把调用错误归一化为错误类别
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrorKindTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return ErrorKindRateLimited
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "400"):
		return ErrorKindInvalidInput
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "503"):
		return ErrorKindUnavailable
	default:
		return ErrorKindInternal
	}
}
