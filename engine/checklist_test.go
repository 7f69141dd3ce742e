package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentswarm/agent"
	"github.com/BaSui01/agentswarm/types"
)

func checklistTasks() []types.Task {
	return []types.Task{
		types.NewTask("t1", "write intro", ""),
		types.NewTask("t2", "write body", ""),
		types.NewTask("t3", "write outro", ""),
	}
}

// TestChecklist_FinishesEarly 第一轮完成 t1 t2，第二轮完成 t3，
// 即便还有剩余迭代额度，第二轮结束就收工。
func TestChecklist_FinishesEarly(t *testing.T) {
	worker := &scriptClient{replies: []string{
		"intro and body done [TASK_COMPLETE:t1] [TASK_COMPLETE:t2]",
		"outro done [TASK_COMPLETE:t3]",
	}}
	a := newTestAgent(t, "worker", worker)

	e, err := New(Checklist{Tasks: checklistTasks(), MaxIterations: 5}, []*agent.Agent{a})
	require.NoError(t, err)

	res, err := e.Run(context.Background(), "write the article", 1)
	require.NoError(t, err)

	assert.Equal(t, 2, res.RoundsCompleted, "第二轮全部完成即停")
	assert.Equal(t, 2, worker.callCount())
	assert.True(t, res.IsComplete)
	require.True(t, res.HasConvergenceScore)
	assert.InDelta(t, 1.0, res.ConvergenceScore, 1e-9)

	require.Len(t, res.Tasks, 3)
	for _, task := range res.Tasks {
		assert.Equal(t, types.TaskCompleted, task.Status, "task %s", task.ID)
		assert.Equal(t, "worker", task.ClaimantID)
	}
}

// TestChecklist_PromptShowsProgress 第二轮提示词里已完成的任务打勾
func TestChecklist_PromptShowsProgress(t *testing.T) {
	worker := &scriptClient{replies: []string{
		"[TASK_COMPLETE:t1]",
		"[TASK_COMPLETE:t2] [TASK_COMPLETE:t3]",
	}}
	a := newTestAgent(t, "worker", worker)

	e, err := New(Checklist{Tasks: checklistTasks(), MaxIterations: 5}, []*agent.Agent{a})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "go", 1)
	require.NoError(t, err)

	first := worker.lastUserPrompt(0)
	assert.Contains(t, first, "- [ ] t1: write intro")
	assert.Contains(t, first, "TASK_COMPLETE")

	second := worker.lastUserPrompt(1)
	assert.Contains(t, second, "- [x] t1: write intro")
	assert.Contains(t, second, "- [ ] t2: write body")
	assert.Contains(t, second, "Conversation so far:")
}

// TestChecklist_IterationIsolation 同迭代的参与者并发应答，拿到同一份
// 清单与对话快照，互相看不到对方本迭代的回复或打勾；下一迭代才可见。
func TestChecklist_IterationIsolation(t *testing.T) {
	first := &scriptClient{replies: []string{"claiming intro [TASK_COMPLETE:t1]", "nothing left for me"}}
	second := &scriptClient{replies: []string{"still reading", "[TASK_COMPLETE:t2] [TASK_COMPLETE:t3]"}}
	agents := []*agent.Agent{
		newTestAgent(t, "first", first),
		newTestAgent(t, "second", second),
	}

	e, err := New(Checklist{Tasks: checklistTasks(), MaxIterations: 3}, agents)
	require.NoError(t, err)

	res, err := e.Run(context.Background(), "go", 1)
	require.NoError(t, err)
	require.True(t, res.IsComplete)
	assert.Equal(t, 2, res.RoundsCompleted)

	assert.Equal(t, first.lastUserPrompt(0), second.lastUserPrompt(0), "同迭代提示词一致")
	assert.NotContains(t, second.lastUserPrompt(0), "claiming intro")
	assert.NotContains(t, second.lastUserPrompt(0), "- [x]")

	assert.Contains(t, second.lastUserPrompt(1), "- [x] t1")
	assert.Contains(t, second.lastUserPrompt(1), "claiming intro")
}

// TestChecklist_IterationBudgetExhausted 额度用完仍有剩余任务：
// 运行不算完整，分数是完成比例。
func TestChecklist_IterationBudgetExhausted(t *testing.T) {
	worker := &scriptClient{replies: []string{"[TASK_COMPLETE:t1]", "still thinking"}}
	a := newTestAgent(t, "worker", worker)

	e, err := New(Checklist{Tasks: checklistTasks(), MaxIterations: 2}, []*agent.Agent{a})
	require.NoError(t, err)

	res, err := e.Run(context.Background(), "go", 1)
	require.NoError(t, err)

	assert.Equal(t, 2, res.RoundsCompleted)
	assert.False(t, res.IsComplete)
	assert.InDelta(t, 1.0/3.0, res.ConvergenceScore, 1e-9)

	statuses := map[string]types.TaskStatus{}
	for _, task := range res.Tasks {
		statuses[task.ID] = task.Status
	}
	assert.Equal(t, types.TaskCompleted, statuses["t1"])
	assert.Equal(t, types.TaskPending, statuses["t2"])
	assert.Equal(t, types.TaskPending, statuses["t3"])
}

// TestChecklist_MarkerParsing 关键字大小写不敏感、未知 ID 忽略、
// 重复标记不换认领人。
func TestChecklist_MarkerParsing(t *testing.T) {
	first := &scriptClient{replies: []string{"[task_complete: t1] and bogus [TASK_COMPLETE:nope]"}}
	second := &scriptClient{replies: []string{"me too [TASK_COMPLETE:t1] [TASK_COMPLETE:t2] [TASK_COMPLETE:t3]"}}
	agents := []*agent.Agent{
		newTestAgent(t, "first", first),
		newTestAgent(t, "second", second),
	}

	e, err := New(Checklist{Tasks: checklistTasks(), MaxIterations: 3}, agents)
	require.NoError(t, err)

	res, err := e.Run(context.Background(), "go", 1)
	require.NoError(t, err)

	require.True(t, res.IsComplete)
	claimants := map[string]string{}
	for _, task := range res.Tasks {
		claimants[task.ID] = task.ClaimantID
	}
	assert.Equal(t, "first", claimants["t1"], "先到先得，重复标记不改认领人")
	assert.Equal(t, "second", claimants["t2"])
	assert.Equal(t, "second", claimants["t3"])
}

// TestChecklist_CompletionEvents 每个任务完成时发布一次事件
func TestChecklist_CompletionEvents(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()
	sink := &recordingSink{}
	bus.Subscribe(EventTaskCompleted, sink.handler())

	worker := &scriptClient{replies: []string{"[TASK_COMPLETE:t1] [TASK_COMPLETE:t2] [TASK_COMPLETE:t3]"}}
	a := newTestAgent(t, "worker", worker)

	e, err := New(Checklist{Tasks: checklistTasks(), MaxIterations: 5},
		[]*agent.Agent{a}, WithEventBus(bus))
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "go", 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sink.count(EventTaskCompleted) == 3
	}, eventWait, eventTick)

	seen := map[string]bool{}
	for _, ev := range sink.snapshot() {
		seen[ev.TaskID] = true
		assert.Equal(t, "worker", ev.AgentID)
	}
	assert.Equal(t, map[string]bool{"t1": true, "t2": true, "t3": true}, seen)
}

func TestChecklist_TaskValidation(t *testing.T) {
	client := &scriptClient{}
	a := newTestAgent(t, "a", client)

	cases := []struct {
		name  string
		tasks []types.Task
	}{
		{"no tasks", nil},
		{"blank id", []types.Task{{Title: "untitled"}}},
		{"duplicate id", []types.Task{types.NewTask("t1", "x", ""), types.NewTask("t1", "y", "")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := New(Checklist{Tasks: tc.tasks}, []*agent.Agent{a})
			require.NoError(t, err)
			_, err = e.Run(context.Background(), "go", 1)
			assert.True(t, types.HasCode(err, types.ErrCodeInvalidConfig))
			assert.Zero(t, client.callCount())
		})
	}
}
