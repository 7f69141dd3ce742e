package pool

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/types"
)

// 工具名,注册进路由器后由智能体直接调用
const (
	ToolClaimTask    = "claim_task"
	ToolReleaseTask  = "release_task"
	ToolCompleteTask = "complete_task"
	ToolFailTask     = "fail_task"
	ToolListTasks    = "list_tasks"
)

// Backend 把任务池按工具后端的形状暴露出去,智能体通过工具路由器
// 认领和完成任务,引擎只旁观状态变化。满足 tools.Backend。
type Backend struct {
	store  Store
	logger *zap.Logger
}

// NewBackend 创建任务池工具后端。
func NewBackend(store Store, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		store:  store,
		logger: logger.With(zap.String("component", "pool_backend")),
	}
}

// Store 返回底层存储,供引擎旁观任务状态。
func (b *Backend) Store() Store {
	return b.store
}

// Tools 宣告任务池工具。
func (b *Backend) Tools() []types.ToolDescriptor {
	taskParam := types.ToolParameter{Name: "task_id", Type: "string", Required: true, Description: "Task identifier"}
	agentParam := types.ToolParameter{Name: "agent_id", Type: "string", Required: true, Description: "Calling agent identifier"}

	return []types.ToolDescriptor{
		{
			Name:        ToolClaimTask,
			Description: "Atomically claim a pending task. Exactly one concurrent claimant wins.",
			Parameters:  []types.ToolParameter{taskParam, agentParam},
		},
		{
			Name:        ToolReleaseTask,
			Description: "Return a claimed task to the pending state.",
			Parameters:  []types.ToolParameter{taskParam, agentParam},
		},
		{
			Name:        ToolCompleteTask,
			Description: "Mark a claimed task as completed with a result.",
			Parameters: []types.ToolParameter{taskParam, agentParam,
				{Name: "result", Type: "string", Description: "Outcome of the task"}},
		},
		{
			Name:        ToolFailTask,
			Description: "Mark a claimed task as failed with a reason.",
			Parameters: []types.ToolParameter{taskParam, agentParam,
				{Name: "reason", Type: "string", Description: "Why the task failed"}},
		},
		{
			Name:        ToolListTasks,
			Description: "List every task in the pool with its current status.",
			Parameters:  nil,
		},
	}
}

// taskArgs 工具参数
type taskArgs struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Result  string `json:"result,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Execute 分发工具调用。认领冲突等带错误码的失败原样返回,
// 由路由器透传给调用方。
func (b *Backend) Execute(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	var in taskArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", tool, err)
		}
	}

	switch tool {
	case ToolClaimTask:
		task, err := b.store.Claim(ctx, in.TaskID, in.AgentID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(task)

	case ToolReleaseTask:
		if err := b.store.Release(ctx, in.TaskID, in.AgentID); err != nil {
			return nil, err
		}
		return okResult(in.TaskID, string(types.TaskPending))

	case ToolCompleteTask:
		if err := b.store.Complete(ctx, in.TaskID, in.AgentID, in.Result); err != nil {
			return nil, err
		}
		return okResult(in.TaskID, string(types.TaskCompleted))

	case ToolFailTask:
		if err := b.store.Fail(ctx, in.TaskID, in.AgentID, in.Reason); err != nil {
			return nil, err
		}
		return okResult(in.TaskID, string(types.TaskFailed))

	case ToolListTasks:
		tasks, err := b.store.List(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(tasks)

	default:
		return nil, types.NewErrorf(types.ErrCodeUnknownTool, "pool backend does not provide %q", tool)
	}
}

func okResult(taskID, status string) (json.RawMessage, error) {
	return json.Marshal(map[string]string{
		"task_id": taskID,
		"status":  status,
	})
}
