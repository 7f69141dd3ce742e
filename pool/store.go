// Package pool implements the shared task pool for decentralized collaboration.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentswarm/types"
)

var timeNow = time.Now

// Counts 各状态的任务数量。
type Counts struct {
	Pending   int `json:"pending"`
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Done 判断池子是否没有待处理工作。
func (c Counts) Done() bool {
	return c.Pending == 0 && c.Claimed == 0
}

// Total 返回任务总数。
func (c Counts) Total() int {
	return c.Pending + c.Claimed + c.Completed + c.Failed
}

// Store 任务池存储。所有实现必须保证 Claim 是单个原子操作:
// 同一任务的并发认领恰有一个成功,其余得到 CLAIM_CONFLICT。
type Store interface {
	// Add 放入一个待认领任务。
	Add(ctx context.Context, task types.Task) error

	// Claim 原子认领 pending 任务。任务不存在返回 TASK_NOT_FOUND,
	// 非 pending 状态返回 CLAIM_CONFLICT。
	Claim(ctx context.Context, taskID, claimantID string) (*types.Task, error)

	// Release 由认领者把任务放回 pending。
	Release(ctx context.Context, taskID, claimantID string) error

	// Complete 由认领者标记任务完成。
	Complete(ctx context.Context, taskID, claimantID, result string) error

	// Fail 由认领者标记任务失败。失败的任务不回到 pending。
	Fail(ctx context.Context, taskID, claimantID, reason string) error

	// Get 读取单个任务。
	Get(ctx context.Context, taskID string) (*types.Task, error)

	// List 按放入顺序返回全部任务的副本。
	List(ctx context.Context) ([]types.Task, error)

	// Counts 返回各状态的任务数。
	Counts(ctx context.Context) (Counts, error)
}

func errTaskNotFound(taskID string) error {
	return types.NewErrorf(types.ErrCodeTaskNotFound, "task %q not found", taskID)
}

func errClaimConflict(taskID, holder string) error {
	if holder == "" {
		return types.NewErrorf(types.ErrCodeClaimConflict, "task %q is not claimable", taskID)
	}
	return types.NewErrorf(types.ErrCodeClaimConflict, "task %q is held by %q", taskID, holder)
}

// =============================================================================
// 💾 内存实现
// =============================================================================

// MemoryStore 进程内任务池,用互斥锁保证认领的原子性。
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*types.Task
	order []string
}

// NewMemoryStore 创建内存任务池。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*types.Task),
	}
}

// NewMemoryStoreWith 创建并填充内存任务池。
func NewMemoryStoreWith(tasks []types.Task) *MemoryStore {
	s := NewMemoryStore()
	for _, task := range tasks {
		_ = s.Add(context.Background(), task)
	}
	return s
}

// Add 实现 Store。
func (s *MemoryStore) Add(ctx context.Context, task types.Task) error {
	if task.ID == "" {
		return types.NewError(types.ErrCodeInvalidConfig, "task id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return types.NewErrorf(types.ErrCodeInvalidConfig, "task %q already in pool", task.ID)
	}
	if task.Status == "" {
		task.Status = types.TaskPending
	}
	copied := task.Clone()
	s.tasks[task.ID] = &copied
	s.order = append(s.order, task.ID)
	return nil
}

// Claim 实现 Store。读改写在同一临界区内完成。
func (s *MemoryStore) Claim(ctx context.Context, taskID, claimantID string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, errTaskNotFound(taskID)
	}
	if task.Status != types.TaskPending {
		return nil, errClaimConflict(taskID, task.ClaimantID)
	}

	task.Status = types.TaskClaimed
	task.ClaimantID = claimantID
	task.UpdatedAt = timeNow()
	claimed := task.Clone()
	return &claimed, nil
}

// Release 实现 Store。
func (s *MemoryStore) Release(ctx context.Context, taskID, claimantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return errTaskNotFound(taskID)
	}
	if task.Status != types.TaskClaimed || task.ClaimantID != claimantID {
		return errClaimConflict(taskID, task.ClaimantID)
	}

	task.Status = types.TaskPending
	task.ClaimantID = ""
	task.UpdatedAt = timeNow()
	return nil
}

// Complete 实现 Store。
func (s *MemoryStore) Complete(ctx context.Context, taskID, claimantID, result string) error {
	return s.finish(taskID, claimantID, types.TaskCompleted, result, "")
}

// Fail 实现 Store。
func (s *MemoryStore) Fail(ctx context.Context, taskID, claimantID, reason string) error {
	return s.finish(taskID, claimantID, types.TaskFailed, "", reason)
}

func (s *MemoryStore) finish(taskID, claimantID string, status types.TaskStatus, result, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return errTaskNotFound(taskID)
	}
	if task.Status != types.TaskClaimed || task.ClaimantID != claimantID {
		return errClaimConflict(taskID, task.ClaimantID)
	}

	task.Status = status
	task.Result = result
	task.Error = reason
	task.UpdatedAt = timeNow()
	return nil
}

// Get 实现 Store。
func (s *MemoryStore) Get(ctx context.Context, taskID string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, errTaskNotFound(taskID)
	}
	copied := task.Clone()
	return &copied, nil
}

// List 实现 Store。
func (s *MemoryStore) List(ctx context.Context) ([]types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out, nil
}

// Counts 实现 Store。
func (s *MemoryStore) Counts(ctx context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Counts
	for _, task := range s.tasks {
		switch task.Status {
		case types.TaskPending:
			c.Pending++
		case types.TaskClaimed:
			c.Claimed++
		case types.TaskCompleted:
			c.Completed++
		case types.TaskFailed:
			c.Failed++
		}
	}
	return c, nil
}
