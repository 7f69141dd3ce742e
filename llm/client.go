// Package llm 定义模型调用的统一边界。编排核心只依赖这里的 Client 契约，
// 不感知任何具体提供商；具体的 HTTP 客户端在仓库之外实现并注入。
package llm

import (
	"context"

	"github.com/BaSui01/agentswarm/types"
)

// Client 能力客户端契约。一次调用携带完整的消息历史与建议的 token 预算，
// 返回单条回复与用量统计。
//
// 实现要求：
//   - 每次调用无共享可变状态，多个 agent fork 可并发复用同一实例
//   - 瞬时失败（超时、限流）返回 Retryable 标记的 *types.Error，
//     以便上层重试策略识别
type Client interface {
	// Invoke 以当前历史调用底层模型。budgetHint 为建议的回复 token 上限，
	// 实现可以忽略。
	Invoke(ctx context.Context, messages []types.Message, budgetHint int) (*Reply, error)

	// Name 返回客户端标识，用于日志与指标。
	Name() string
}

// Reply 模型单次调用的结果。
type Reply struct {
	Content string           `json:"content"`
	Usage   types.TokenUsage `json:"usage"`
}

// ClientFunc 将普通函数适配为 Client，主要用于测试与轻量接入。
type ClientFunc func(ctx context.Context, messages []types.Message, budgetHint int) (*Reply, error)

// Invoke 实现 Client.Invoke。
func (f ClientFunc) Invoke(ctx context.Context, messages []types.Message, budgetHint int) (*Reply, error) {
	return f(ctx, messages, budgetHint)
}

// Name 实现 Client.Name。
func (f ClientFunc) Name() string { return "inline" }

// NewClientError 将底层调用失败包装为统一的 CLIENT_ERROR。
func NewClientError(message string, cause error, retryable bool) *types.Error {
	return types.NewError(types.ErrCodeClient, message).
		WithCause(cause).
		WithRetryable(retryable)
}
