// Package engine 实现多智能体协同运行引擎。
// 七种协作模式共用一套转录、事件、替补与预算中止机制；
// 结果尽力而为，整场错误只保留给运行前的配置校验。
package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/agent"
	"github.com/BaSui01/agentswarm/internal/metrics"
	"github.com/BaSui01/agentswarm/internal/telemetry"
	"github.com/BaSui01/agentswarm/llm"
	"github.com/BaSui01/agentswarm/pool"
	"github.com/BaSui01/agentswarm/types"
)

const defaultCallTimeout = 2 * time.Minute

// Engine 多智能体运行引擎。按构造时指定的协作模式驱动一组注册智能体，
// 每次运行都在各自的派生副本上进行，调用方持有的智能体不被污染。
type Engine struct {
	mode        Mode
	agents      map[string]*agent.Agent
	order       []string
	fallbacks   map[string]*agent.Agent
	poolStore   pool.Store
	poolSet     bool
	bus         *EventBus
	metrics     *metrics.Collector
	tracer      oteltrace.Tracer
	sysPrompt   string
	callTimeout time.Duration
	logger      *zap.Logger
}

// Option 引擎可选配置。
type Option func(*Engine)

// WithEventBus 挂接事件总线，运行事件通过它发布。
func WithEventBus(bus *EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithFallback 为指定智能体注册替补：该智能体重试耗尽后，
// 引擎把同一提示词改发给替补。
func WithFallback(agentID string, substitute *agent.Agent) Option {
	return func(e *Engine) {
		if substitute != nil {
			e.fallbacks[agentID] = substitute
		}
	}
}

// WithPoolStore 指定 DecentralizedPool 模式使用的任务池存储。
// 不设置时每次运行新建内存存储。
func WithPoolStore(store pool.Store) Option {
	return func(e *Engine) {
		e.poolStore = store
		e.poolSet = true
	}
}

// WithSystemContext 注入每个参与者开场的系统提示词。
func WithSystemContext(prompt string) Option {
	return func(e *Engine) { e.sysPrompt = prompt }
}

// WithCallTimeout 单次应答调用的超时，默认 2 分钟，0 表示不限时。
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithMetrics 挂接指标收集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithTracer 挂接 OpenTelemetry 追踪器。
func WithTracer(t oteltrace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithLogger 指定日志器，默认 zap.NewNop()。
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New 创建引擎。模式缺失、智能体为 nil 或 ID 重复返回 INVALID_CONFIG。
// 智能体集合可以为空，但 Run 会在运行前拒绝空集合。
func New(mode Mode, agents []*agent.Agent, opts ...Option) (*Engine, error) {
	if mode == nil {
		return nil, types.NewError(types.ErrCodeInvalidConfig, "collaboration mode is required")
	}
	e := &Engine{
		mode:        mode,
		agents:      make(map[string]*agent.Agent, len(agents)),
		fallbacks:   make(map[string]*agent.Agent),
		callTimeout: defaultCallTimeout,
		logger:      zap.NewNop(),
	}
	for _, ag := range agents {
		if ag == nil {
			return nil, types.NewError(types.ErrCodeInvalidConfig, "nil agent")
		}
		if _, ok := e.agents[ag.ID()]; ok {
			return nil, types.NewErrorf(types.ErrCodeInvalidConfig, "duplicate agent id %q", ag.ID())
		}
		e.agents[ag.ID()] = ag
		e.order = append(e.order, ag.ID())
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "engine"))
	return e, nil
}

// Mode 返回引擎的协作模式。
func (e *Engine) Mode() Mode {
	return e.mode
}

// AgentIDs 返回注册顺序的智能体 ID 列表。
func (e *Engine) AgentIDs() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Failure 运行中某次调用或任务的最终失败记录。
type Failure struct {
	AgentID string `json:"agent_id"`
	Round   int    `json:"round"`
	TaskID  string `json:"task_id,omitempty"`
	Reason  string `json:"reason"`
}

// RunResult 一次运行的结果。除配置错误外运行总会产出结果：
// 个体失败记入 Failures，转录保留已成功的部分。
type RunResult struct {
	RunID               string           `json:"run_id"`
	Mode                string           `json:"mode"`
	Transcript          []ReplyRecord    `json:"transcript"`
	RoundsCompleted     int              `json:"rounds_completed"`
	IsComplete          bool             `json:"is_complete"`
	ConvergenceScore    float64          `json:"convergence_score,omitempty"`
	HasConvergenceScore bool             `json:"has_convergence_score,omitempty"`
	TotalTokenUsage     types.TokenUsage `json:"total_token_usage"`
	Failures            []Failure        `json:"failures,omitempty"`
	Tasks               []types.Task     `json:"tasks,omitempty"`
	Duration            time.Duration    `json:"duration"`
}

// FinalReply 返回最后一条转录内容，空转录返回空串。
// Hierarchical 模式下即终层的最终答案。
func (r *RunResult) FinalReply() string {
	if len(r.Transcript) == 0 {
		return ""
	}
	return r.Transcript[len(r.Transcript)-1].Content
}

// runner 单一模式的驱动循环。validate 在任何调用发出前执行，
// 它返回的错误就是整场运行错误；run 返回的错误仅限首个调用前的
// 准备失败（如任务池注入），循环内的个体失败一律记录后继续。
type runner interface {
	validate() error
	run(ctx context.Context, st *runState) error
}

// runState 单次运行的可变状态。
type runState struct {
	runID  string
	prompt string
	rounds int

	transcript *Transcript

	mu       sync.Mutex
	failures []Failure
	usage    types.TokenUsage
	forks    map[string]*agent.Agent
	subForks map[string]*agent.Agent
	forkFn   func(*agent.Agent) *agent.Agent

	aborted atomic.Bool

	roundsDone int
	isComplete bool
	score      float64
	hasScore   bool
	tasks      []types.Task
}

func (st *runState) fork(id string) *agent.Agent {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.forks[id]
}

func (st *runState) substituteFork(id string, sub *agent.Agent) *agent.Agent {
	st.mu.Lock()
	defer st.mu.Unlock()
	if f, ok := st.subForks[id]; ok {
		return f
	}
	f := st.forkFn(sub)
	st.subForks[id] = f
	return f
}

// addUsage 累计一次实际发出的调用的用量。未进转录的调用
// （如主持人点名）也计入,总量始终等于全部调用之和。
func (st *runState) addUsage(u types.TokenUsage) {
	st.mu.Lock()
	st.usage.Add(u)
	st.mu.Unlock()
}

func (st *runState) totalUsage() types.TokenUsage {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.usage
}

func (st *runState) addFailure(f Failure) {
	st.mu.Lock()
	st.failures = append(st.failures, f)
	st.mu.Unlock()
}

// stopped 运行是否应停止推进：预算中止或上下文取消。
func (st *runState) stopped(ctx context.Context) bool {
	return st.aborted.Load() || ctx.Err() != nil
}

// Run 以构造时的模式执行一次协同运行。rounds 只作用于 RoundRobin
// 与 Moderated，其余模式的轮数由模式参数决定。返回错误仅限配置
// 问题；运行中的个体失败体现在 RunResult.Failures。
func (e *Engine) Run(ctx context.Context, prompt string, rounds int) (*RunResult, error) {
	start := time.Now()
	runID := uuid.New().String()
	ctx = types.WithRunID(ctx, runID)
	logger := e.logger.With(zap.String("run_id", runID), zap.String("mode", e.mode.Name()))

	if e.tracer != nil {
		var span oteltrace.Span
		ctx, span = e.tracer.Start(ctx, "engine.run",
			oteltrace.WithAttributes(
				telemetry.AttrRunID.String(runID),
				telemetry.AttrRunMode.String(e.mode.Name()),
			))
		defer span.End()
	}

	if len(e.agents) == 0 {
		return nil, types.NewError(types.ErrCodeInvalidConfig, "at least one agent is required")
	}
	if rounds <= 0 {
		rounds = 1
	}

	r, err := e.newRunner(logger)
	if err != nil {
		return nil, err
	}
	if err := r.validate(); err != nil {
		return nil, err
	}

	st := &runState{
		runID:      runID,
		prompt:     prompt,
		rounds:     rounds,
		transcript: NewTranscript(),
		forks:      make(map[string]*agent.Agent),
		subForks:   make(map[string]*agent.Agent),
	}

	logger.Info("run started",
		zap.Int("agents", len(e.agents)),
		zap.Int("rounds", rounds),
	)

	if err := r.run(ctx, st); err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:               st.runID,
		Mode:                e.mode.Name(),
		Transcript:          st.transcript.Entries(),
		RoundsCompleted:     st.roundsDone,
		IsComplete:          st.isComplete,
		ConvergenceScore:    st.score,
		HasConvergenceScore: st.hasScore,
		TotalTokenUsage:     st.totalUsage(),
		Failures:            st.failures,
		Tasks:               st.tasks,
		Duration:            time.Since(start),
	}

	if e.metrics != nil {
		status := "complete"
		if !result.IsComplete {
			status = "incomplete"
		}
		e.metrics.RecordRun(e.mode.Name(), status, result.Duration, result.RoundsCompleted)
	}

	logger.Info("run finished",
		zap.Int("replies", len(result.Transcript)),
		zap.Int("failures", len(result.Failures)),
		zap.Int("rounds_completed", result.RoundsCompleted),
		zap.Bool("is_complete", result.IsComplete),
		zap.Int("total_tokens", result.TotalTokenUsage.TotalTokens),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// newRunner 按模式实例化驱动循环。
func (e *Engine) newRunner(logger *zap.Logger) (runner, error) {
	switch m := e.mode.(type) {
	case Parallel:
		return &parallelRunner{engine: e, logger: logger.With(zap.String("coordinator", "parallel"))}, nil
	case RoundRobin:
		return &roundRobinRunner{engine: e, mode: m, logger: logger.With(zap.String("coordinator", "round_robin"))}, nil
	case Moderated:
		return &moderatedRunner{engine: e, mode: m, logger: logger.With(zap.String("coordinator", "moderated"))}, nil
	case Hierarchical:
		return &hierarchicalRunner{engine: e, mode: m, logger: logger.With(zap.String("coordinator", "hierarchical"))}, nil
	case Debate:
		return &debateRunner{engine: e, mode: m, logger: logger.With(zap.String("coordinator", "debate"))}, nil
	case Checklist:
		return &checklistRunner{engine: e, mode: m, logger: logger.With(zap.String("coordinator", "checklist"))}, nil
	case DecentralizedPool:
		return &decentralizedRunner{engine: e, mode: m, logger: logger.With(zap.String("coordinator", "decentralized_pool"))}, nil
	default:
		return nil, types.NewErrorf(types.ErrCodeInvalidConfig, "unsupported collaboration mode %q", e.mode.Name())
	}
}

// lookup 校验 ID 均已注册。
func (e *Engine) lookup(ids []string) error {
	for _, id := range ids {
		if _, ok := e.agents[id]; !ok {
			return types.NewErrorf(types.ErrCodeInvalidConfig, "unknown agent id %q", id)
		}
	}
	return nil
}

// validateTasks 校验任务清单非空且 ID 唯一。
func validateTasks(tasks []types.Task) error {
	if len(tasks) == 0 {
		return types.NewError(types.ErrCodeInvalidConfig, "at least one task is required")
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		if task.ID == "" {
			return types.NewError(types.ErrCodeInvalidConfig, "task id is required")
		}
		if _, ok := seen[task.ID]; ok {
			return types.NewErrorf(types.ErrCodeInvalidConfig, "duplicate task id %q", task.ID)
		}
		seen[task.ID] = struct{}{}
	}
	return nil
}

// prepareForks 为参与者创建运行内派生副本并注入开场上下文。
// router 非 nil 时副本换用该路由器（DecentralizedPool 的运行内路由）。
func (e *Engine) prepareForks(st *runState, ids []string, router agent.ToolRouter) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.forkFn == nil {
		st.forkFn = func(a *agent.Agent) *agent.Agent {
			var fork *agent.Agent
			if router != nil {
				fork = a.ForkWithRouter(router)
			} else {
				fork = a.Fork()
			}
			e.seedFork(fork)
			return fork
		}
	}
	for _, id := range ids {
		if _, ok := st.forks[id]; ok {
			continue
		}
		st.forks[id] = st.forkFn(e.agents[id])
	}
}

// seedFork 注入开场系统消息：人设、运行上下文与可用工具清单。
func (e *Engine) seedFork(fork *agent.Agent) {
	content := strings.TrimSpace(fork.AugmentedPrompt(e.sysPrompt))
	if tools := fork.ListTools(); len(tools) > 0 {
		if content != "" {
			content += "\n\n"
		}
		content += toolAdvert(tools)
	}
	if content == "" {
		return
	}
	if err := fork.Seed(content); err != nil {
		e.logger.Warn("seeding agent context failed",
			zap.String("agent_id", fork.ID()),
			zap.Error(err),
		)
	}
}

// toolAdvert 渲染工具清单，供智能体在系统提示词里发现能力。
func toolAdvert(tools []types.ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("Available tools:")
	for _, tool := range tools {
		b.WriteString("\n- ")
		b.WriteString(tool.Name)
		if tool.Description != "" {
			b.WriteString(": ")
			b.WriteString(tool.Description)
		}
	}
	return b.String()
}

// callAgent 调用一个派生副本并处理替补与预算中止。成功返回可追加的
// 转录记录；失败记入 Failures 并返回 false，个体失败从不终止整场运行。
// 预算耗尽是唯一让运行停止推进的调用失败。
func (e *Engine) callAgent(ctx context.Context, st *runState, id string, round int, taskID, prompt string) (ReplyRecord, bool) {
	fork := st.fork(id)
	if fork == nil {
		st.addFailure(Failure{AgentID: id, Round: round, TaskID: taskID, Reason: "agent not prepared for this run"})
		return ReplyRecord{}, false
	}

	ctx = types.WithRound(ctx, round)

	reply, err := e.invokeOnce(ctx, fork, prompt)
	if reply != nil {
		st.addUsage(reply.Usage)
	}
	if err == nil {
		return newRecord(fork, round, taskID, reply), true
	}

	if types.IsBudgetExceeded(err) {
		st.aborted.Store(true)
		st.addFailure(Failure{AgentID: id, Round: round, TaskID: taskID, Reason: err.Error()})
		e.logger.Warn("token budget exhausted, stopping run",
			zap.String("agent_id", id),
			zap.Int("round", round),
			zap.Error(err),
		)
		return ReplyRecord{}, false
	}

	reason := err.Error()
	if sub := e.fallbacks[id]; sub != nil {
		subFork := st.substituteFork(id, sub)
		e.logger.Info("switching to substitute agent",
			zap.String("agent_id", id),
			zap.String("substitute_id", subFork.ID()),
			zap.Int("round", round),
		)
		subReply, subErr := e.invokeOnce(ctx, subFork, prompt)
		if subReply != nil {
			st.addUsage(subReply.Usage)
		}
		if subErr == nil {
			return newRecord(subFork, round, taskID, subReply), true
		}
		if types.IsBudgetExceeded(subErr) {
			st.aborted.Store(true)
		}
		reason += "; substitute: " + subErr.Error()
	}

	st.addFailure(Failure{AgentID: id, Round: round, TaskID: taskID, Reason: reason})
	e.logger.Warn("agent call failed",
		zap.String("agent_id", id),
		zap.Int("round", round),
		zap.String("reason", reason),
	)
	return ReplyRecord{}, false
}

// invokeOnce 带单次超时、追踪与指标的应答调用。智能体 ID 写进
// context,下游的工具后端可以据此关联调用方。
func (e *Engine) invokeOnce(ctx context.Context, fork *agent.Agent, prompt string) (*llm.Reply, error) {
	ctx = types.WithAgentID(ctx, fork.ID())
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}
	if e.tracer != nil {
		attrs := []attribute.KeyValue{telemetry.AttrAgentID.String(fork.ID())}
		if round, ok := types.Round(ctx); ok {
			attrs = append(attrs, telemetry.AttrRound.Int(round))
		}
		var span oteltrace.Span
		ctx, span = e.tracer.Start(ctx, "agent.respond", oteltrace.WithAttributes(attrs...))
		defer span.End()
	}

	start := time.Now()
	reply, err := fork.Respond(ctx, prompt)

	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		var promptTokens, completionTokens int
		if reply != nil {
			promptTokens = reply.Usage.PromptTokens
			completionTokens = reply.Usage.CompletionTokens
		}
		e.metrics.RecordAgentCall(fork.ID(), e.mode.Name(), status, time.Since(start), promptTokens, completionTokens)
	}
	return reply, err
}

func newRecord(fork *agent.Agent, round int, taskID string, reply *llm.Reply) ReplyRecord {
	return ReplyRecord{
		AgentID:   fork.ID(),
		AgentName: fork.DisplayName(),
		Role:      types.RoleAssistant,
		Round:     round,
		TaskID:    taskID,
		Content:   reply.Content,
		Usage:     reply.Usage,
		Timestamp: time.Now(),
	}
}

// emit 发布运行事件；未挂总线时仅计指标。
func (e *Engine) emit(st *runState, ev Event) {
	ev.RunID = st.runID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if e.metrics != nil {
		switch ev.Type {
		case EventTaskClaimed, EventTaskCompleted, EventTaskFailed:
			e.metrics.RecordTaskEvent(e.mode.Name(), string(ev.Type))
		}
	}
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
