package tools

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/types"
)

// countingBackend 记录 upper 工具的真实执行次数
func countingBackend(calls *atomic.Int32) *FuncBackend {
	return NewFuncBackend().Add(
		types.ToolDescriptor{Name: "upper", Description: "uppercase text"},
		func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			calls.Add(1)
			return json.RawMessage(`{"out":"HELLO"}`), nil
		})
}

func setupCachedBackend(t *testing.T, inner Backend, ttl time.Duration) (*miniredis.Miniredis, *CachedBackend) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cb, err := NewCachedBackend(inner, CacheConfig{Addr: mr.Addr(), TTL: ttl}, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		cb.Close()
		mr.Close()
	})
	return mr, cb
}

func TestNewCachedBackend_Validation(t *testing.T) {
	_, err := NewCachedBackend(nil, CacheConfig{Addr: "localhost:1"}, nil)
	assert.True(t, types.HasCode(err, types.ErrCodeInvalidConfig))

	_, err = NewCachedBackend(echoBackend("a"), CacheConfig{Addr: "localhost:1"}, nil)
	assert.ErrorContains(t, err, "tool result cache")
}

// TestCachedBackend_SecondCallServedFromCache 相同参数第二次调用不再执行内层
func TestCachedBackend_SecondCallServedFromCache(t *testing.T) {
	var calls atomic.Int32
	_, cb := setupCachedBackend(t, countingBackend(&calls), time.Minute)
	ctx := context.Background()

	args := json.RawMessage(`{"text":"hello"}`)

	first, err := cb.Execute(ctx, "upper", args)
	require.NoError(t, err)
	assert.JSONEq(t, `{"out":"HELLO"}`, string(first))
	assert.Equal(t, int32(1), calls.Load())

	second, err := cb.Execute(ctx, "upper", args)
	require.NoError(t, err)
	assert.JSONEq(t, `{"out":"HELLO"}`, string(second))
	assert.Equal(t, int32(1), calls.Load(), "缓存命中不应回源")

	// 参数不同键也不同
	_, err = cb.Execute(ctx, "upper", json.RawMessage(`{"text":"other"}`))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

// TestCachedBackend_ErrorsNotCached 失败结果不会进缓存
func TestCachedBackend_ErrorsNotCached(t *testing.T) {
	var calls atomic.Int32
	failing := NewFuncBackend().Add(
		types.ToolDescriptor{Name: "flaky"},
		func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			calls.Add(1)
			return nil, assert.AnError
		})
	_, cb := setupCachedBackend(t, failing, time.Minute)
	ctx := context.Background()

	_, err := cb.Execute(ctx, "flaky", nil)
	require.Error(t, err)
	_, err = cb.Execute(ctx, "flaky", nil)
	require.Error(t, err)

	assert.Equal(t, int32(2), calls.Load(), "每次失败都要重新执行")
}

// TestCachedBackend_TTLExpiry 过期后重新执行
func TestCachedBackend_TTLExpiry(t *testing.T) {
	var calls atomic.Int32
	mr, cb := setupCachedBackend(t, countingBackend(&calls), 100*time.Millisecond)
	ctx := context.Background()

	_, err := cb.Execute(ctx, "upper", nil)
	require.NoError(t, err)
	_, err = cb.Execute(ctx, "upper", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	mr.FastForward(200 * time.Millisecond)

	_, err = cb.Execute(ctx, "upper", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

// TestCachedBackend_DegradesWhenCacheDown 缓存故障降级为直连执行
func TestCachedBackend_DegradesWhenCacheDown(t *testing.T) {
	var calls atomic.Int32
	mr, cb := setupCachedBackend(t, countingBackend(&calls), time.Minute)
	ctx := context.Background()

	mr.Close()

	out, err := cb.Execute(ctx, "upper", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"out":"HELLO"}`, string(out))

	out, err = cb.Execute(ctx, "upper", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"out":"HELLO"}`, string(out))
	assert.Equal(t, int32(2), calls.Load(), "缓存不可用时每次都回源")
}

func TestCachedBackend_Invalidate(t *testing.T) {
	var calls atomic.Int32
	_, cb := setupCachedBackend(t, countingBackend(&calls), time.Minute)
	ctx := context.Background()

	_, err := cb.Execute(ctx, "upper", nil)
	require.NoError(t, err)
	require.NoError(t, cb.Invalidate(ctx, "upper", nil))

	_, err = cb.Execute(ctx, "upper", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "失效后重新执行")
}

func TestCachedBackend_ToolsDelegates(t *testing.T) {
	var calls atomic.Int32
	_, cb := setupCachedBackend(t, countingBackend(&calls), time.Minute)

	descs := cb.Tools()
	require.Len(t, descs, 1)
	assert.Equal(t, "upper", descs[0].Name)
}

// TestCachedBackend_ThroughRouter 缓存后端接进路由器后行为不变
func TestCachedBackend_ThroughRouter(t *testing.T) {
	var calls atomic.Int32
	_, cb := setupCachedBackend(t, countingBackend(&calls), time.Minute)

	r := NewRouter(zap.NewNop())
	require.NoError(t, r.Register("text", cb))

	res, err := r.Call(context.Background(), "upper", json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"out":"HELLO"}`, string(res.Result))

	_, err = r.Call(context.Background(), "upper", json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "路由层之下缓存仍然命中")
}
