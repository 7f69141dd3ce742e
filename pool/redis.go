package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/internal/tlsutil"
	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 🗄️ Redis 实现
// =============================================================================

// RedisConfig Redis 任务池配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 启用 TLS,使用加固配置(TLS 1.2+,仅 AEAD 套件)
	TLS bool `yaml:"tls" json:"tls"`

	// 认领锁的过期时间,认领者崩溃后任务可被重新认领
	ClaimTTL time.Duration `yaml:"claim_ttl" json:"claim_ttl"`
}

// DefaultRedisConfig 返回默认 Redis 任务池配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
		ClaimTTL: 5 * time.Minute,
	}
}

// RedisStore 跨进程共享的任务池。认领的原子性由 SETNX 认领锁保证:
// 同一任务只有第一个 SETNX 成功的认领者获得所有权。
type RedisStore struct {
	client   *redis.Client
	poolID   string
	claimTTL time.Duration
	logger   *zap.Logger
}

// NewRedisStore 连接 Redis 并创建任务池。
func NewRedisStore(config RedisConfig, poolID string, logger *zap.Logger) (*RedisStore, error) {
	if poolID == "" {
		return nil, types.NewError(types.ErrCodeInvalidConfig, "pool id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.TLS {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	client := redis.NewClient(opts)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	claimTTL := config.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = 5 * time.Minute
	}

	logger.Info("redis task pool initialized",
		zap.String("addr", config.Addr),
		zap.String("pool_id", poolID),
		zap.Duration("claim_ttl", claimTTL))

	return &RedisStore{
		client:   client,
		poolID:   poolID,
		claimTTL: claimTTL,
		logger:   logger.With(zap.String("component", "pool"), zap.String("pool_id", poolID)),
	}, nil
}

// NewRedisStoreWithClient 复用已有连接创建任务池,测试用。
func NewRedisStoreWithClient(client *redis.Client, poolID string, claimTTL time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if claimTTL <= 0 {
		claimTTL = 5 * time.Minute
	}
	return &RedisStore{
		client:   client,
		poolID:   poolID,
		claimTTL: claimTTL,
		logger:   logger.With(zap.String("component", "pool"), zap.String("pool_id", poolID)),
	}
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) taskKey(taskID string) string {
	return fmt.Sprintf("swarm:pool:%s:task:%s", s.poolID, taskID)
}

func (s *RedisStore) claimKey(taskID string) string {
	return fmt.Sprintf("swarm:pool:%s:claim:%s", s.poolID, taskID)
}

func (s *RedisStore) orderKey() string {
	return fmt.Sprintf("swarm:pool:%s:order", s.poolID)
}

func (s *RedisStore) loadTask(ctx context.Context, taskID string) (*types.Task, error) {
	raw, err := s.client.Get(ctx, s.taskKey(taskID)).Result()
	if err == redis.Nil {
		return nil, errTaskNotFound(taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("load task %q: %w", taskID, err)
	}

	var task types.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task %q: %w", taskID, err)
	}
	return &task, nil
}

func (s *RedisStore) saveTask(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %q: %w", task.ID, err)
	}
	if err := s.client.Set(ctx, s.taskKey(task.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("save task %q: %w", task.ID, err)
	}
	return nil
}

// Add 实现 Store。
func (s *RedisStore) Add(ctx context.Context, task types.Task) error {
	if task.ID == "" {
		return types.NewError(types.ErrCodeInvalidConfig, "task id is required")
	}
	if task.Status == "" {
		task.Status = types.TaskPending
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %q: %w", task.ID, err)
	}
	ok, err := s.client.SetNX(ctx, s.taskKey(task.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("add task %q: %w", task.ID, err)
	}
	if !ok {
		return types.NewErrorf(types.ErrCodeInvalidConfig, "task %q already in pool", task.ID)
	}
	if err := s.client.RPush(ctx, s.orderKey(), task.ID).Err(); err != nil {
		return fmt.Errorf("record task order %q: %w", task.ID, err)
	}
	return nil
}

// Claim 实现 Store。SETNX 拿到认领锁的才有资格改任务状态。
func (s *RedisStore) Claim(ctx context.Context, taskID, claimantID string) (*types.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() {
		return nil, errClaimConflict(taskID, task.ClaimantID)
	}

	ok, err := s.client.SetNX(ctx, s.claimKey(taskID), claimantID, s.claimTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claim task %q: %w", taskID, err)
	}
	if !ok {
		holder, _ := s.client.Get(ctx, s.claimKey(taskID)).Result()
		return nil, errClaimConflict(taskID, holder)
	}

	// 锁到手后重读,防止和终态转换交错。状态仍是 claimed 说明
	// 上一个认领者的锁已过期,任务可以被接管。
	task, err = s.loadTask(ctx, taskID)
	if err != nil {
		s.client.Del(ctx, s.claimKey(taskID))
		return nil, err
	}
	if task.IsTerminal() {
		s.client.Del(ctx, s.claimKey(taskID))
		return nil, errClaimConflict(taskID, task.ClaimantID)
	}

	task.Status = types.TaskClaimed
	task.ClaimantID = claimantID
	task.UpdatedAt = timeNow()
	if err := s.saveTask(ctx, task); err != nil {
		s.client.Del(ctx, s.claimKey(taskID))
		return nil, err
	}

	s.logger.Debug("task claimed", zap.String("task_id", taskID), zap.String("claimant", claimantID))
	return task, nil
}

// verifyClaim 校验调用者当前持有认领锁。
func (s *RedisStore) verifyClaim(ctx context.Context, taskID, claimantID string) error {
	holder, err := s.client.Get(ctx, s.claimKey(taskID)).Result()
	if err == redis.Nil {
		return errClaimConflict(taskID, "")
	}
	if err != nil {
		return fmt.Errorf("verify claim %q: %w", taskID, err)
	}
	if holder != claimantID {
		return errClaimConflict(taskID, holder)
	}
	return nil
}

// Release 实现 Store。先写回 pending 再释放锁,避免锁空窗期读到旧状态。
func (s *RedisStore) Release(ctx context.Context, taskID, claimantID string) error {
	if err := s.verifyClaim(ctx, taskID, claimantID); err != nil {
		return err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}

	task.Status = types.TaskPending
	task.ClaimantID = ""
	task.UpdatedAt = timeNow()
	if err := s.saveTask(ctx, task); err != nil {
		return err
	}
	s.client.Del(ctx, s.claimKey(taskID))
	return nil
}

// Complete 实现 Store。
func (s *RedisStore) Complete(ctx context.Context, taskID, claimantID, result string) error {
	return s.finish(ctx, taskID, claimantID, types.TaskCompleted, result, "")
}

// Fail 实现 Store。
func (s *RedisStore) Fail(ctx context.Context, taskID, claimantID, reason string) error {
	return s.finish(ctx, taskID, claimantID, types.TaskFailed, "", reason)
}

func (s *RedisStore) finish(ctx context.Context, taskID, claimantID string, status types.TaskStatus, result, reason string) error {
	if err := s.verifyClaim(ctx, taskID, claimantID); err != nil {
		return err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}

	task.Status = status
	task.Result = result
	task.Error = reason
	task.UpdatedAt = timeNow()
	if err := s.saveTask(ctx, task); err != nil {
		return err
	}
	s.client.Del(ctx, s.claimKey(taskID))
	return nil
}

// Get 实现 Store。
func (s *RedisStore) Get(ctx context.Context, taskID string) (*types.Task, error) {
	return s.loadTask(ctx, taskID)
}

// List 实现 Store。
func (s *RedisStore) List(ctx context.Context) ([]types.Task, error) {
	ids, err := s.client.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	out := make([]types.Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.loadTask(ctx, id)
		if err != nil {
			if types.HasCode(err, types.ErrCodeTaskNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *task)
	}
	return out, nil
}

// Counts 实现 Store。
func (s *RedisStore) Counts(ctx context.Context) (Counts, error) {
	tasks, err := s.List(ctx)
	if err != nil {
		return Counts{}, err
	}

	var c Counts
	for _, task := range tasks {
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
