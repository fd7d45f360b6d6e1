package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"omnigen-api/internal/config"
	"omnigen-api/pkg/logger"
	"omnigen-api/pkg/metrics"
)

// httpRequest 通用 JSON 接口的请求体
type httpRequest struct {
	JobID      string          `json:"job_id"`
	Capability string          `json:"capability"`
	Input      json.RawMessage `json:"input"`
	Options    json.RawMessage `json:"options,omitempty"`
}

// httpResponse 通用 JSON 接口的响应体
type httpResponse struct {
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// HTTPAdapter 通用 JSON-over-HTTP 适配器
// 适用于视频、图像、音频等由独立推理服务承载的能力
type HTTPAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

// NewHTTPAdapter 创建通用 HTTP 适配器
func NewHTTPAdapter(name string, cfg config.ProviderConfig) *HTTPAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPAdapter{
		name:   name,
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Name 返回 Provider 名称
func (a *HTTPAdapter) Name() string {
	return a.name
}

// Invoke 执行一次远程生成调用
func (a *HTTPAdapter) Invoke(ctx context.Context, inv *Invocation, onProgress ProgressFunc) *Envelope {
	body, err := json.Marshal(&httpRequest{
		JobID:      inv.JobID,
		Capability: inv.Capability,
		Input:      inv.Input,
		Options:    inv.Options,
	})
	if err != nil {
		return Failed(ErrorKindInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Failed(ErrorKindInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	if onProgress != nil {
		onProgress(10, "dispatched to provider")
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	duration := time.Since(start)
	metrics.ProviderCallDuration.WithLabelValues(a.name, inv.Capability).Observe(duration.Seconds())

	if err != nil {
		logger.Warn(ctx, "provider call failed",
			"provider", a.name,
			"job_id", inv.JobID,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
		return Failed(classifyError(err), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Failed(ErrorKindInternal, err)
	}

	if kind := statusToErrorKind(resp.StatusCode); kind != "" {
		return Failed(kind, fmt.Errorf("provider %s returned status %d: %s", a.name, resp.StatusCode, truncate(raw, 256)))
	}

	if onProgress != nil {
		onProgress(90, "provider responded")
	}

	var out httpResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		// 非信封格式的 2xx 响应整体作为载荷
		return Succeed(raw)
	}
	if !out.Success && (out.ErrorKind != "" || out.Error != "") {
		kind := out.ErrorKind
		if kind == "" {
			kind = ErrorKindInternal
		}
		return Failed(kind, fmt.Errorf("%s", out.Error))
	}
	if out.Payload != nil {
		return Succeed(out.Payload)
	}
	return Succeed(raw)
}

// statusToErrorKind HTTP 状态码归一化，2xx 返回空串
func statusToErrorKind(status int) string {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorKindTimeout
	case status == http.StatusTooManyRequests:
		return ErrorKindRateLimited
	case status >= 400 && status < 500:
		return ErrorKindInvalidInput
	default:
		return ErrorKindUnavailable
	}
}

func truncate(raw []byte, n int) string {
	if len(raw) > n {
		return string(raw[:n]) + "..."
	}
	return string(raw)
}
