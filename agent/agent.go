// Package agent 提供带私有历史和工具路由的 LLM 智能体。
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/llm"
	"github.com/BaSui01/agentswarm/llm/retry"
	"github.com/BaSui01/agentswarm/llm/tokenizer"
	"github.com/BaSui01/agentswarm/types"
)

// ToolRouter 是智能体对工具路由器的最小依赖。
// tools.Router 满足该接口。
type ToolRouter interface {
	Call(ctx context.Context, name string, params json.RawMessage) (*types.ToolResult, error)
	ListAll() []types.ToolDescriptor
}

// Persona 人设描述，用于提示词增强。
type Persona struct {
	// Expertise 专长领域
	Expertise string
	// Personality 性格特质
	Personality string
}

// IsZero 判断人设是否为空。
func (p Persona) IsZero() bool {
	return p.Expertise == "" && p.Personality == ""
}

// BudgetPolicy 预算超限时的处理策略。
type BudgetPolicy string

const (
	// BudgetStrict 超限即返回 BUDGET_EXCEEDED，终止本次运行
	BudgetStrict BudgetPolicy = "strict"
	// BudgetAdaptive 先压缩历史再重试一次，仍超限才报错
	BudgetAdaptive BudgetPolicy = "adaptive"
	// BudgetPermissive 记录警告后照常继续
	BudgetPermissive BudgetPolicy = "permissive"
)

// Config 智能体配置。
type Config struct {
	// ID 全局唯一标识
	ID string
	// DisplayName 对话中展示的名字，默认取 ID
	DisplayName string
	// Persona 人设
	Persona Persona
	// Metadata 任意附加元数据
	Metadata map[string]string
	// TokenBudget 历史的 token 预算，0 表示不限
	TokenBudget int
	// BudgetPolicy 预算策略，默认 strict
	BudgetPolicy BudgetPolicy
	// Model 模型提示，用于选择分词器
	Model string
}

// Agent 持有私有对话历史的智能体。
// 历史只属于当前实例；需要并发参与协作时先 Fork。
type Agent struct {
	cfg     Config
	history *History
	client  llm.Client
	router  ToolRouter
	retryer retry.Retryer
	logger  *zap.Logger

	execMu     sync.Mutex
	totalUsage types.TokenUsage
}

// Option 配置可选依赖。
type Option func(*options)

type options struct {
	router    ToolRouter
	retryer   retry.Retryer
	tokenizer types.Tokenizer
	compactor Compactor
	logger    *zap.Logger
}

// WithRouter 设置工具路由器。
func WithRouter(r ToolRouter) Option {
	return func(o *options) { o.router = r }
}

// WithRetryer 设置重试器，默认使用指数退避。
func WithRetryer(r retry.Retryer) Option {
	return func(o *options) { o.retryer = r }
}

// WithTokenizer 设置分词器，默认按字符估算。
func WithTokenizer(t types.Tokenizer) Option {
	return func(o *options) { o.tokenizer = t }
}

// WithCompactor 设置历史压缩策略。
func WithCompactor(c Compactor) Option {
	return func(o *options) { o.compactor = c }
}

// WithLogger 设置日志器。
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New 创建智能体。cfg.ID 与 client 必填。
func New(cfg Config, client llm.Client, opts ...Option) (*Agent, error) {
	if cfg.ID == "" {
		return nil, types.NewError(types.ErrCodeInvalidConfig, "agent id is required")
	}
	if client == nil {
		return nil, types.NewError(types.ErrCodeInvalidConfig, "llm client is required")
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.ID
	}
	if cfg.BudgetPolicy == "" {
		cfg.BudgetPolicy = BudgetStrict
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.With(zap.String("agent_id", cfg.ID))

	if o.tokenizer == nil && cfg.Model != "" {
		o.tokenizer = tokenizer.ForModel(cfg.Model)
	}

	history := NewHistory(cfg.TokenBudget, o.tokenizer)
	if o.compactor != nil {
		history.WithCompactor(o.compactor)
	}

	retryer := o.retryer
	if retryer == nil {
		retryer = retry.NewBackoffRetryer(nil, logger)
	}

	return &Agent{
		cfg:     cfg,
		history: history,
		client:  client,
		router:  o.router,
		retryer: retryer,
		logger:  logger,
	}, nil
}

// ID 返回智能体标识。
func (a *Agent) ID() string {
	return a.cfg.ID
}

// DisplayName 返回展示名。
func (a *Agent) DisplayName() string {
	return a.cfg.DisplayName
}

// Persona 返回人设。
func (a *Agent) Persona() Persona {
	return a.cfg.Persona
}

// Metadata 返回元数据的副本。
func (a *Agent) Metadata() map[string]string {
	if a.cfg.Metadata == nil {
		return nil
	}
	meta := make(map[string]string, len(a.cfg.Metadata))
	for k, v := range a.cfg.Metadata {
		meta[k] = v
	}
	return meta
}

// TotalUsage 返回累计的 token 消耗（仅统计成功调用）。
func (a *Agent) TotalUsage() types.TokenUsage {
	a.execMu.Lock()
	defer a.execMu.Unlock()
	return a.totalUsage
}

// Snapshot 返回历史的深拷贝。
func (a *Agent) Snapshot() []types.Message {
	a.execMu.Lock()
	defer a.execMu.Unlock()
	return a.history.Snapshot()
}

// HistoryLen 返回历史消息条数。
func (a *Agent) HistoryLen() int {
	a.execMu.Lock()
	defer a.execMu.Unlock()
	return a.history.Len()
}

// HistoryTokens 返回历史当前的 token 总量。
func (a *Agent) HistoryTokens() int {
	a.execMu.Lock()
	defer a.execMu.Unlock()
	return a.history.Tokens()
}

// Seed 向历史注入一条 system 消息（运行上下文、角色说明等）。
func (a *Agent) Seed(content string) error {
	a.execMu.Lock()
	defer a.execMu.Unlock()
	return a.appendWithPolicy(types.NewSystemMessage(content))
}

// AugmentedPrompt 在调用方提示词前拼接人设前缀。纯函数，不触碰历史。
func (a *Agent) AugmentedPrompt(base string) string {
	if a.cfg.Persona.IsZero() {
		return base
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", a.cfg.DisplayName)
	if a.cfg.Persona.Expertise != "" {
		fmt.Fprintf(&b, " Your expertise: %s.", a.cfg.Persona.Expertise)
	}
	if a.cfg.Persona.Personality != "" {
		fmt.Fprintf(&b, " Your personality: %s.", a.cfg.Persona.Personality)
	}
	b.WriteString("\n\n")
	b.WriteString(base)
	return b.String()
}

// Respond 追加用户消息、调用模型并把回复写回历史。
// 模型调用失败时按指数退避重试；重试耗尽后回滚用户消息并返回错误。
// 只有最终成功那次调用的 token 消耗会被计入。
func (a *Agent) Respond(ctx context.Context, prompt string) (*llm.Reply, error) {
	a.execMu.Lock()
	defer a.execMu.Unlock()

	userMsg := types.NewUserMessage(prompt)
	if err := a.appendWithPolicy(userMsg); err != nil {
		return nil, err
	}

	reply, err := retry.DoWithResultTyped[*llm.Reply](a.retryer, ctx, func() (*llm.Reply, error) {
		return a.client.Invoke(ctx, a.history.Snapshot(), a.remainingBudget())
	})
	if err != nil {
		// 回滚未得到回复的用户消息，保持历史成对
		a.history.TruncateLast(1)
		a.logger.Warn("模型调用失败",
			zap.String("client", a.client.Name()),
			zap.Error(err))
		if types.GetErrorCode(err) != "" {
			return nil, err
		}
		return nil, llm.NewClientError("invoke failed", err, false)
	}

	assistantMsg := types.NewAssistantMessage(reply.Content).WithName(a.cfg.DisplayName)
	if err := a.appendWithPolicy(assistantMsg); err != nil {
		return nil, err
	}

	a.totalUsage.Add(reply.Usage)
	a.logger.Debug("模型调用成功",
		zap.String("client", a.client.Name()),
		zap.Int("prompt_tokens", reply.Usage.PromptTokens),
		zap.Int("completion_tokens", reply.Usage.CompletionTokens))
	return reply, nil
}

// CallTool 通过路由器调用工具。没有配置路由器时任何工具都视为未知。
func (a *Agent) CallTool(ctx context.Context, name string, params json.RawMessage) (*types.ToolResult, error) {
	if a.router == nil {
		return nil, types.NewErrorf(types.ErrCodeUnknownTool,
			"agent %s has no tool router, cannot call %q", a.cfg.ID, name)
	}
	return a.router.Call(ctx, name, params)
}

// ListTools 列出路由器中的全部工具描述。
func (a *Agent) ListTools() []types.ToolDescriptor {
	if a.router == nil {
		return nil
	}
	return a.router.ListAll()
}

// Fork 派生独立副本：历史深拷贝，client、路由器、重试器共享。
// 副本上的任何操作都不会影响原实例。
func (a *Agent) Fork() *Agent {
	a.execMu.Lock()
	defer a.execMu.Unlock()

	cfg := a.cfg
	if a.cfg.Metadata != nil {
		meta := make(map[string]string, len(a.cfg.Metadata))
		for k, v := range a.cfg.Metadata {
			meta[k] = v
		}
		cfg.Metadata = meta
	}

	return &Agent{
		cfg:     cfg,
		history: a.history.Clone(),
		client:  a.client,
		router:  a.router,
		retryer: a.retryer,
		logger:  a.logger,
	}
}

// ForkWithRouter 派生副本并换用指定的工具路由器，其余与 Fork 相同。
func (a *Agent) ForkWithRouter(router ToolRouter) *Agent {
	fork := a.Fork()
	fork.router = router
	return fork
}

// appendWithPolicy 按预算策略追加消息。调用方必须持有 execMu。
func (a *Agent) appendWithPolicy(msg types.Message) error {
	err := a.history.Append(msg)
	if err == nil {
		return nil
	}
	if !types.IsBudgetExceeded(err) {
		return err
	}

	switch a.cfg.BudgetPolicy {
	case BudgetPermissive:
		a.logger.Warn("历史超出 token 预算，宽松策略继续执行",
			zap.Int("budget", a.history.Budget()),
			zap.Int("tokens", a.history.Tokens()))
		return nil
	case BudgetAdaptive:
		if cerr := a.history.Compact(); cerr != nil {
			return err
		}
		if a.history.EnsureBudget() == nil {
			a.logger.Info("历史压缩后回到预算以内",
				zap.Int("budget", a.history.Budget()),
				zap.Int("tokens", a.history.Tokens()))
			return nil
		}
		return err
	default:
		return err
	}
}

// remainingBudget 返回剩余预算提示，0 表示不限。
func (a *Agent) remainingBudget() int {
	if a.cfg.TokenBudget <= 0 {
		return 0
	}
	remaining := a.cfg.TokenBudget - a.history.Tokens()
	if remaining < 0 {
		return 0
	}
	return remaining
}
