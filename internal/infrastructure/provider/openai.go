package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"omnigen-api/internal/config"
	"omnigen-api/pkg/logger"
	"omnigen-api/pkg/metrics"
)

// openAIInput 文本类能力的输入结构
type openAIInput struct {
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
}

// OpenAIAdapter 基于 Eino 的 Chat Completions 协议适配器
// 适用于 text/chat/sentiment 等文本类能力
type OpenAIAdapter struct {
	name string
	cfg  config.ProviderConfig

	mu        sync.Mutex
	chatModel model.BaseChatModel
}

// NewOpenAIAdapter 创建 OpenAI 协议适配器
func NewOpenAIAdapter(name string, cfg config.ProviderConfig) *OpenAIAdapter {
	return &OpenAIAdapter{name: name, cfg: cfg}
}

// Name 返回 Provider 名称
func (a *OpenAIAdapter) Name() string {
	return a.name
}

// model 惰性创建 ChatModel 客户端
func (a *OpenAIAdapter) model(ctx context.Context) (model.BaseChatModel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.chatModel != nil {
		return a.chatModel, nil
	}

	maxTokens := a.cfg.MaxTokens
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      a.cfg.APIKey,
		BaseURL:     a.cfg.BaseURL,
		Model:       a.cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: ptrFloat32(float32(a.cfg.Temperature)),
		Timeout:     a.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model for %s: %w", a.name, err)
	}
	a.chatModel = chatModel
	return chatModel, nil
}

// Invoke 执行一次文本生成
func (a *OpenAIAdapter) Invoke(ctx context.Context, inv *Invocation, onProgress ProgressFunc) *Envelope {
	var in openAIInput
	if err := json.Unmarshal(inv.Input, &in); err != nil {
		return Failed(ErrorKindInvalidInput, fmt.Errorf("malformed input: %w", err))
	}
	if in.Prompt == "" {
		return Failed(ErrorKindInvalidInput, fmt.Errorf("prompt is required"))
	}

	chatModel, err := a.model(ctx)
	if err != nil {
		return Failed(ErrorKindUnavailable, err)
	}

	msgs := make([]*schema.Message, 0, 2)
	if in.System != "" {
		msgs = append(msgs, schema.SystemMessage(in.System))
	}
	msgs = append(msgs, schema.UserMessage(in.Prompt))

	if onProgress != nil {
		onProgress(10, "dispatched to provider")
	}

	start := time.Now()
	out, err := chatModel.Generate(ctx, msgs)
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

	if onProgress != nil {
		onProgress(90, "provider responded")
	}

	payload, err := json.Marshal(map[string]any{
		"content": out.Content,
		"model":   a.cfg.Model,
	})
	if err != nil {
		return Failed(ErrorKindInternal, err)
	}
	return Succeed(payload)
}

func ptrFloat32(f float32) *float32 {
	return &f
}
