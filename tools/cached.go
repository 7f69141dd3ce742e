package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/internal/cache"
	"github.com/BaSui01/agentswarm/types"
)

// CacheConfig 工具结果缓存配置。适合包装结果只由参数决定的后端，
// 有副作用或依赖外部状态的工具不要走缓存。
type CacheConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 结果过期时间,0 表示 5 分钟
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 启用 TLS
	TLS bool `yaml:"tls" json:"tls"`

	// 健康检查间隔,0 表示不检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// CachedBackend 在任意 Backend 外面加一层 Redis 结果缓存。
// 缓存键按工具名加参数字节哈希生成，语义等价但字节不同的参数
// 各自成键。执行错误从不缓存；缓存故障降级为直连执行。
type CachedBackend struct {
	inner  Backend
	cache  *cache.Manager
	logger *zap.Logger
}

// NewCachedBackend 包装后端并连接缓存。
func NewCachedBackend(inner Backend, cfg CacheConfig, logger *zap.Logger) (*CachedBackend, error) {
	if inner == nil {
		return nil, types.NewError(types.ErrCodeInvalidConfig, "backend to wrap is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ccfg := cache.DefaultConfig()
	ccfg.Addr = cfg.Addr
	ccfg.Password = cfg.Password
	ccfg.DB = cfg.DB
	ccfg.TLS = cfg.TLS
	ccfg.HealthCheckInterval = cfg.HealthCheckInterval
	if cfg.TTL > 0 {
		ccfg.DefaultTTL = cfg.TTL
	}
	if cfg.PoolSize > 0 {
		ccfg.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		ccfg.MinIdleConns = cfg.MinIdleConns
	}

	mgr, err := cache.NewManager(ccfg, logger)
	if err != nil {
		return nil, fmt.Errorf("tool result cache: %w", err)
	}

	return &CachedBackend{
		inner:  inner,
		cache:  mgr,
		logger: logger.With(zap.String("component", "cached_backend")),
	}, nil
}

// Tools 实现 Backend,透传内层工具清单。
func (c *CachedBackend) Tools() []types.ToolDescriptor {
	return c.inner.Tools()
}

// Execute 实现 Backend。命中直接返回，未命中回源并写缓存，
// 缓存读写故障只降级不报错。
func (c *CachedBackend) Execute(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	key := cacheKey(tool, args)

	cached, err := c.cache.Get(ctx, key)
	if err == nil {
		c.logger.Debug("tool cache hit", zap.String("tool", tool))
		return json.RawMessage(cached), nil
	}
	if !cache.IsCacheMiss(err) {
		c.logger.Warn("tool cache unavailable, executing directly",
			zap.String("tool", tool), zap.Error(err))
	}

	result, err := c.inner.Execute(ctx, tool, args)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, string(result), 0); err != nil {
		c.logger.Warn("tool cache write failed",
			zap.String("tool", tool), zap.Error(err))
	}
	return result, nil
}

// Invalidate 删除一条缓存结果，下次调用重新执行。
func (c *CachedBackend) Invalidate(ctx context.Context, tool string, args json.RawMessage) error {
	return c.cache.Delete(ctx, cacheKey(tool, args))
}

// Close 关闭缓存连接。内层后端不受影响。
func (c *CachedBackend) Close() error {
	return c.cache.Close()
}

func cacheKey(tool string, args json.RawMessage) string {
	sum := sha256.Sum256(args)
	return "swarm:tool:" + tool + ":" + hex.EncodeToString(sum[:])
}
