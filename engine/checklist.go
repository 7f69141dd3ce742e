package engine

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentswarm/types"
)

// completeMarker 匹配 [TASK_COMPLETE:<id>]。关键字不区分大小写，
// 任务 ID 按原样比较。
var completeMarker = regexp.MustCompile(`(?i)\[TASK_COMPLETE:\s*([^\]\s]+)\s*\]`)

// checklistRunner 引擎持有任务清单，每轮迭代全体智能体并发应答，
// 从回复中的完成标记推进状态。任何智能体都可以标记任何任务，
// 未知或重复的标记被忽略。
type checklistRunner struct {
	engine *Engine
	mode   Checklist
	logger *zap.Logger
}

func (r *checklistRunner) validate() error {
	return validateTasks(r.mode.Tasks)
}

func (r *checklistRunner) run(ctx context.Context, st *runState) error {
	e := r.engine
	maxIterations := r.mode.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	tasks := types.CloneTasks(r.mode.Tasks)
	for i := range tasks {
		if tasks[i].Status == "" {
			tasks[i].Status = types.TaskPending
		}
	}
	e.prepareForks(st, e.order, nil)

	done := allTasksComplete(tasks)
	for iter := 1; iter <= maxIterations && !done; iter++ {
		if st.stopped(ctx) {
			break
		}
		e.emit(st, Event{Type: EventRoundStarted, Round: iter})

		// 本迭代所有参与者看到同一份清单与对话快照，互相看不到
		// 同迭代的回复；完成标记在汇合后按注册顺序统一落账。
		prompt := r.checklistPrompt(st, tasks)
		records := make([]ReplyRecord, len(e.order))
		settled := make([]bool, len(e.order))
		g, gctx := errgroup.WithContext(ctx)
		for i, id := range e.order {
			i, id := i, id
			g.Go(func() error {
				if st.stopped(gctx) {
					return nil
				}
				records[i], settled[i] = e.callAgent(gctx, st, id, iter, "", prompt)
				return nil
			})
		}
		_ = g.Wait()

		for i := range records {
			if !settled[i] {
				continue
			}
			st.transcript.Append(records[i])
			r.applyMarkers(st, iter, records[i], tasks)
		}
		done = allTasksComplete(tasks)

		if st.stopped(ctx) {
			break
		}
		st.roundsDone = iter
		e.emit(st, Event{Type: EventRoundCompleted, Round: iter})
	}

	completed := 0
	for _, task := range tasks {
		if task.Status == types.TaskCompleted {
			completed++
		}
	}
	st.score = float64(completed) / float64(len(tasks))
	st.hasScore = true
	st.isComplete = done && !st.stopped(ctx)
	st.tasks = tasks

	r.logger.Info("checklist finished",
		zap.Int("completed", completed),
		zap.Int("total", len(tasks)),
		zap.Int("iterations", st.roundsDone),
	)
	return nil
}

// checklistPrompt 渲染任务清单、完成标记说明与当前对话。
func (r *checklistRunner) checklistPrompt(st *runState, tasks []types.Task) string {
	var b strings.Builder
	b.WriteString(st.prompt)
	b.WriteString("\n\nTask list:")
	for _, task := range tasks {
		if task.Status == types.TaskCompleted {
			b.WriteString("\n- [x] ")
		} else {
			b.WriteString("\n- [ ] ")
		}
		b.WriteString(task.ID)
		if task.Title != "" {
			b.WriteString(": ")
			b.WriteString(task.Title)
		}
	}
	b.WriteString("\n\nMark each task you finish by including [TASK_COMPLETE:<task id>] in your reply.")
	if entries := st.transcript.Entries(); len(entries) > 0 {
		b.WriteString("\n\nConversation so far:\n\n")
		b.WriteString(renderConversation(entries))
	}
	return b.String()
}

// applyMarkers 把回复中的完成标记落到清单上并发布事件。
func (r *checklistRunner) applyMarkers(st *runState, iter int, rec ReplyRecord, tasks []types.Task) {
	for _, match := range completeMarker.FindAllStringSubmatch(rec.Content, -1) {
		id := match[1]
		idx := -1
		for i := range tasks {
			if tasks[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			r.logger.Debug("marker for unknown task ignored", zap.String("task_id", id))
			continue
		}
		if tasks[idx].Status == types.TaskCompleted {
			continue
		}
		tasks[idx].Status = types.TaskCompleted
		tasks[idx].ClaimantID = rec.AgentID
		tasks[idx].UpdatedAt = time.Now()
		r.engine.emit(st, Event{
			Type:      EventTaskCompleted,
			Round:     iter,
			AgentID:   rec.AgentID,
			AgentName: rec.AgentName,
			TaskID:    id,
		})
	}
}

func allTasksComplete(tasks []types.Task) bool {
	for _, task := range tasks {
		if task.Status != types.TaskCompleted {
			return false
		}
	}
	return true
}
