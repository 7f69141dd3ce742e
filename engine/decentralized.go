package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentswarm/agent"
	"github.com/BaSui01/agentswarm/pool"
	"github.com/BaSui01/agentswarm/tools"
	"github.com/BaSui01/agentswarm/types"
)

// decentralizedRunner 任务注入共享池后，智能体经运行内工具路由
// 自主认领与完结，引擎只观察结果并发布事件。每个智能体每次迭代
// 最多处理一个任务；认领冲突换下一个候选。
type decentralizedRunner struct {
	engine *Engine
	mode   DecentralizedPool
	logger *zap.Logger
}

// taskCallArgs 与池后端工具的参数约定一致。
type taskCallArgs struct {
	TaskID  string `json:"task_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	Result  string `json:"result,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (r *decentralizedRunner) validate() error {
	if r.engine.poolSet && r.engine.poolStore == nil {
		return types.NewError(types.ErrCodeInvalidConfig, "nil pool store")
	}
	return validateTasks(r.mode.Tasks)
}

func (r *decentralizedRunner) run(ctx context.Context, st *runState) error {
	e := r.engine
	maxIterations := r.mode.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	store := e.poolStore
	if store == nil {
		store = pool.NewMemoryStore()
	}
	logger := r.logger
	if r.mode.PoolID != "" {
		logger = logger.With(zap.String("pool_id", r.mode.PoolID))
	}

	for _, task := range r.mode.Tasks {
		if err := store.Add(ctx, task); err != nil {
			return types.NewError(types.ErrCodeInvalidConfig, "seeding task pool failed").WithCause(err)
		}
	}

	// 运行内路由：池工具只对本次运行的派生副本可见
	runRouter := tools.NewRouter(logger)
	if err := runRouter.Register("taskpool", pool.NewBackend(store, logger)); err != nil {
		return err
	}
	e.prepareForks(st, e.order, runRouter)

	for iter := 1; iter <= maxIterations; iter++ {
		if st.stopped(ctx) {
			break
		}
		counts, err := store.Counts(ctx)
		if err != nil {
			logger.Warn("reading pool counts failed", zap.Error(err))
		} else {
			if e.metrics != nil {
				e.metrics.RecordPoolTasks(r.mode.PoolID, counts.Pending, counts.Claimed, counts.Completed, counts.Failed)
			}
			if counts.Done() {
				break
			}
		}

		e.emit(st, Event{Type: EventRoundStarted, Round: iter})

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range e.order {
			id := id
			g.Go(func() error {
				r.workOnce(gctx, st, id, iter)
				return nil
			})
		}
		_ = g.Wait()

		if st.stopped(ctx) {
			break
		}
		st.roundsDone = iter
		e.emit(st, Event{Type: EventRoundCompleted, Round: iter})
	}

	if counts, err := store.Counts(ctx); err == nil {
		if total := counts.Total(); total > 0 {
			st.score = float64(counts.Completed) / float64(total)
			st.hasScore = true
		}
		st.isComplete = counts.Done() && !st.stopped(ctx)
		logger.Info("pool drained",
			zap.Int("completed", counts.Completed),
			zap.Int("failed", counts.Failed),
			zap.Int("pending", counts.Pending),
			zap.Int("iterations", st.roundsDone),
		)
	}
	if tasks, err := store.List(ctx); err == nil {
		st.tasks = tasks
	}
	return nil
}

// workOnce 智能体在一次迭代内认领并处理至多一个任务。
// 认领竞争输了就换下一个候选，全部落空则本轮空手而归。
func (r *decentralizedRunner) workOnce(ctx context.Context, st *runState, id string, iter int) {
	e := r.engine
	fork := st.fork(id)
	if fork == nil || st.stopped(ctx) {
		return
	}

	pending, err := r.listPending(ctx, fork)
	if err != nil {
		r.logger.Warn("listing tasks failed", zap.String("agent_id", id), zap.Error(err))
		return
	}

	for _, task := range pending {
		claimed, err := r.claim(ctx, fork, task.ID)
		if err != nil {
			if types.IsClaimConflict(err) {
				continue
			}
			r.logger.Warn("claim failed",
				zap.String("agent_id", id),
				zap.String("task_id", task.ID),
				zap.Error(err),
			)
			return
		}
		e.emit(st, Event{
			Type:      EventTaskClaimed,
			Round:     iter,
			AgentID:   id,
			AgentName: fork.DisplayName(),
			TaskID:    claimed.ID,
		})
		r.execute(ctx, st, fork, id, iter, claimed)
		return
	}
}

// execute 处理已认领的任务：应答、回写结果、发布事件。
// 应答失败时任务转为 failed，留给结果统计而非重新入池。
func (r *decentralizedRunner) execute(ctx context.Context, st *runState, fork *agent.Agent, id string, iter int, task *types.Task) {
	e := r.engine

	rec, ok := e.callAgent(ctx, st, id, iter, task.ID, taskPrompt(st.prompt, task))
	if !ok {
		args := taskCallArgs{TaskID: task.ID, AgentID: id, Reason: "agent call failed"}
		if _, err := r.callTool(ctx, fork, pool.ToolFailTask, args); err != nil {
			r.logger.Warn("failing task failed", zap.String("task_id", task.ID), zap.Error(err))
		}
		e.emit(st, Event{
			Type:    EventTaskFailed,
			Round:   iter,
			AgentID: id,
			TaskID:  task.ID,
			Detail:  args.Reason,
		})
		return
	}
	st.transcript.Append(rec)

	args := taskCallArgs{TaskID: task.ID, AgentID: id, Result: clip(rec.Content, 400)}
	if _, err := r.callTool(ctx, fork, pool.ToolCompleteTask, args); err != nil {
		r.logger.Warn("completing task failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	e.emit(st, Event{
		Type:      EventTaskCompleted,
		Round:     iter,
		AgentID:   id,
		AgentName: rec.AgentName,
		TaskID:    task.ID,
	})
}

// listPending 经 list_tasks 工具读取待领任务，保持池内顺序。
func (r *decentralizedRunner) listPending(ctx context.Context, fork *agent.Agent) ([]types.Task, error) {
	res, err := r.callTool(ctx, fork, pool.ToolListTasks, taskCallArgs{AgentID: fork.ID()})
	if err != nil {
		return nil, err
	}
	var tasks []types.Task
	if err := json.Unmarshal(res.Result, &tasks); err != nil {
		return nil, err
	}
	var pending []types.Task
	for _, task := range tasks {
		if task.Status == types.TaskPending {
			pending = append(pending, task)
		}
	}
	return pending, nil
}

// claim 经 claim_task 工具认领任务，冲突错误原样返回。
func (r *decentralizedRunner) claim(ctx context.Context, fork *agent.Agent, taskID string) (*types.Task, error) {
	res, err := r.callTool(ctx, fork, pool.ToolClaimTask, taskCallArgs{TaskID: taskID, AgentID: fork.ID()})
	if err != nil {
		return nil, err
	}
	var task types.Task
	if err := json.Unmarshal(res.Result, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *decentralizedRunner) callTool(ctx context.Context, fork *agent.Agent, tool string, args taskCallArgs) (*types.ToolResult, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := fork.CallTool(ctx, tool, payload)
	if m := r.engine.metrics; m != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.RecordToolCall(tool, status, time.Since(start))
	}
	return res, err
}

// taskPrompt 渲染单个任务的工作提示词。
func taskPrompt(base string, task *types.Task) string {
	var b strings.Builder
	if base != "" {
		b.WriteString(base)
		b.WriteString("\n\n")
	}
	b.WriteString("Your claimed task: ")
	b.WriteString(task.ID)
	if task.Title != "" {
		b.WriteString(" - ")
		b.WriteString(task.Title)
	}
	if task.Description != "" {
		b.WriteString("\n")
		b.WriteString(task.Description)
	}
	b.WriteString("\nComplete the task and reply with your result.")
	return b.String()
}

// clip 截断过长文本。
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
