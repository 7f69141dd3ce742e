package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentswarm/config"
	"github.com/BaSui01/agentswarm/internal/database"
	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 🗃️ 数据库实现
// =============================================================================

// taskRecord 任务表结构
type taskRecord struct {
	Seq         uint64 `gorm:"primaryKey;autoIncrement"`
	TaskID      string `gorm:"uniqueIndex:idx_pool_task;size:128;not null"`
	PoolID      string `gorm:"uniqueIndex:idx_pool_task;index;size:128;not null"`
	Title       string `gorm:"size:256"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"index;size:16;not null"`
	ClaimantID  string `gorm:"size:128"`
	Result      string `gorm:"type:text"`
	Error       string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 指定表名
func (taskRecord) TableName() string {
	return "swarm_tasks"
}

func (r *taskRecord) toTask() types.Task {
	return types.Task{
		ID:          r.TaskID,
		Title:       r.Title,
		Description: r.Description,
		Status:      types.TaskStatus(r.Status),
		ClaimantID:  r.ClaimantID,
		Result:      r.Result,
		Error:       r.Error,
		UpdatedAt:   r.UpdatedAt,
	}
}

// DatabaseStore 数据库任务池。认领通过条件 UPDATE 完成,
// 数据库的行级原子性保证并发认领只有一个赢家。
type DatabaseStore struct {
	db     *gorm.DB
	poolID string
	logger *zap.Logger

	// manager 由 OpenDatabaseStore 创建时持有,Close 时释放连接。
	manager *database.Manager
}

// NewDatabaseStore 创建数据库任务池并迁移表结构。
func NewDatabaseStore(db *gorm.DB, poolID string, logger *zap.Logger) (*DatabaseStore, error) {
	if db == nil {
		return nil, types.NewError(types.ErrCodeInvalidConfig, "db handle is required")
	}
	if poolID == "" {
		return nil, types.NewError(types.ErrCodeInvalidConfig, "pool id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := db.AutoMigrate(&taskRecord{}); err != nil {
		return nil, fmt.Errorf("migrate task table: %w", err)
	}

	return &DatabaseStore{
		db:     db,
		poolID: poolID,
		logger: logger.With(zap.String("component", "pool"), zap.String("pool_id", poolID)),
	}, nil
}

// OpenDatabaseStore 从应用配置打开数据库连接并装配任务池。连接经内部
// 管理器应用连接池参数与周期健康检查,store Close 时一并释放。已持有
// *gorm.DB 的调用方直接使用 NewDatabaseStore。
func OpenDatabaseStore(cfg config.DatabaseConfig, poolID string, logger *zap.Logger) (*DatabaseStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	mgr, err := database.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open task pool database: %w", err)
	}

	store, err := NewDatabaseStore(mgr.DB(), poolID, logger)
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}
	store.manager = mgr
	return store, nil
}

// Close 释放 OpenDatabaseStore 建立的数据库连接。
// 用外部 gorm.DB 构造的 store 不持有连接,Close 为空操作。
func (s *DatabaseStore) Close() error {
	if s.manager == nil {
		return nil
	}
	return s.manager.Close()
}

// Add 实现 Store。池子由引擎单线程填充,存在性检查无需加锁。
func (s *DatabaseStore) Add(ctx context.Context, task types.Task) error {
	if task.ID == "" {
		return types.NewError(types.ErrCodeInvalidConfig, "task id is required")
	}
	if _, err := s.load(ctx, task.ID); err == nil {
		return types.NewErrorf(types.ErrCodeInvalidConfig, "task %q already in pool", task.ID)
	} else if !types.HasCode(err, types.ErrCodeTaskNotFound) {
		return err
	}

	status := task.Status
	if status == "" {
		status = types.TaskPending
	}

	rec := taskRecord{
		TaskID:      task.ID,
		PoolID:      s.poolID,
		Title:       task.Title,
		Description: task.Description,
		Status:      string(status),
		ClaimantID:  task.ClaimantID,
		Result:      task.Result,
		Error:       task.Error,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("add task %q: %w", task.ID, err)
	}
	return nil
}

// Claim 实现 Store。条件 UPDATE 只认 pending 行,影响行数为 0 即落败。
func (s *DatabaseStore) Claim(ctx context.Context, taskID, claimantID string) (*types.Task, error) {
	tx := s.db.WithContext(ctx).Model(&taskRecord{}).
		Where("task_id = ? AND pool_id = ? AND status = ?", taskID, s.poolID, string(types.TaskPending)).
		Updates(map[string]any{
			"status":      string(types.TaskClaimed),
			"claimant_id": claimantID,
		})
	if tx.Error != nil {
		return nil, fmt.Errorf("claim task %q: %w", taskID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		rec, err := s.load(ctx, taskID)
		if err != nil {
			return nil, err
		}
		return nil, errClaimConflict(taskID, rec.ClaimantID)
	}

	rec, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	task := rec.toTask()
	s.logger.Debug("task claimed", zap.String("task_id", taskID), zap.String("claimant", claimantID))
	return &task, nil
}

// Release 实现 Store。
func (s *DatabaseStore) Release(ctx context.Context, taskID, claimantID string) error {
	return s.transition(ctx, taskID, claimantID, types.TaskPending, map[string]any{
		"status":      string(types.TaskPending),
		"claimant_id": "",
	})
}

// Complete 实现 Store。
func (s *DatabaseStore) Complete(ctx context.Context, taskID, claimantID, result string) error {
	return s.transition(ctx, taskID, claimantID, types.TaskCompleted, map[string]any{
		"status": string(types.TaskCompleted),
		"result": result,
	})
}

// Fail 实现 Store。
func (s *DatabaseStore) Fail(ctx context.Context, taskID, claimantID, reason string) error {
	return s.transition(ctx, taskID, claimantID, types.TaskFailed, map[string]any{
		"status": string(types.TaskFailed),
		"error":  reason,
	})
}

// transition 由当前认领者执行状态转换,条件不满足时报冲突。
func (s *DatabaseStore) transition(ctx context.Context, taskID, claimantID string, to types.TaskStatus, updates map[string]any) error {
	tx := s.db.WithContext(ctx).Model(&taskRecord{}).
		Where("task_id = ? AND pool_id = ? AND status = ? AND claimant_id = ?",
			taskID, s.poolID, string(types.TaskClaimed), claimantID).
		Updates(updates)
	if tx.Error != nil {
		return fmt.Errorf("update task %q to %s: %w", taskID, to, tx.Error)
	}
	if tx.RowsAffected == 0 {
		rec, err := s.load(ctx, taskID)
		if err != nil {
			return err
		}
		return errClaimConflict(taskID, rec.ClaimantID)
	}
	return nil
}

func (s *DatabaseStore) load(ctx context.Context, taskID string) (*taskRecord, error) {
	var rec taskRecord
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND pool_id = ?", taskID, s.poolID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errTaskNotFound(taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("load task %q: %w", taskID, err)
	}
	return &rec, nil
}

// Get 实现 Store。
func (s *DatabaseStore) Get(ctx context.Context, taskID string) (*types.Task, error) {
	rec, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	task := rec.toTask()
	return &task, nil
}

// List 实现 Store。
func (s *DatabaseStore) List(ctx context.Context) ([]types.Task, error) {
	var recs []taskRecord
	err := s.db.WithContext(ctx).
		Where("pool_id = ?", s.poolID).
		Order("seq ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	out := make([]types.Task, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toTask())
	}
	return out, nil
}

// Counts 实现 Store。
func (s *DatabaseStore) Counts(ctx context.Context) (Counts, error) {
	type row struct {
		Status string
		N      int
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&taskRecord{}).
		Select("status, count(*) as n").
		Where("pool_id = ?", s.poolID).
		Group("status").
		Find(&rows).Error
	if err != nil {
		return Counts{}, fmt.Errorf("count tasks: %w", err)
	}

	var c Counts
	for _, r := range rows {
		switch types.TaskStatus(r.Status) {
		case types.TaskPending:
			c.Pending = r.N
		case types.TaskClaimed:
			c.Claimed = r.N
		case types.TaskCompleted:
			c.Completed = r.N
		case types.TaskFailed:
			c.Failed = r.N
		}
	}
	return c, nil
}
