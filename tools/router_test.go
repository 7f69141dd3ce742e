package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/types"
)

func echoBackend(tools ...string) *FuncBackend {
	b := NewFuncBackend()
	for _, name := range tools {
		tool := name
		b.Add(types.ToolDescriptor{Name: tool, Description: "echo " + tool},
			func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(fmt.Sprintf(`{"tool":%q}`, tool)), nil
			})
	}
	return b
}

func TestRouter_Register_RoutesTools(t *testing.T) {
	r := NewRouter(zap.NewNop())

	require.NoError(t, r.Register("calc", echoBackend("add", "sub")))

	assert.True(t, r.Has("add"))
	assert.True(t, r.Has("sub"))
	assert.False(t, r.Has("mul"))

	desc, ok := r.Describe("add")
	require.True(t, ok)
	assert.Equal(t, "echo add", desc.Description)
}

func TestRouter_Register_Validation(t *testing.T) {
	r := NewRouter(zap.NewNop())

	err := r.Register("", echoBackend("a"))
	assert.True(t, types.HasCode(err, types.ErrCodeInvalidConfig))

	err = r.Register("x", nil)
	assert.True(t, types.HasCode(err, types.ErrCodeInvalidConfig))

	require.NoError(t, r.Register("x", echoBackend("a")))
	err = r.Register("x", echoBackend("b"))
	assert.True(t, types.HasCode(err, types.ErrCodeInvalidConfig), "同名后端不能重复注册")
}

// TestRouter_DuplicateTool 先注册者拥有同名工具,后注册者收到警告级错误
func TestRouter_DuplicateTool_FirstRegistrantWins(t *testing.T) {
	r := NewRouter(zap.NewNop())

	require.NoError(t, r.Register("x", echoBackend("toolA")))

	err := r.Register("y", echoBackend("toolA", "toolB"))
	require.Error(t, err)
	assert.True(t, types.IsDuplicateTool(err), "冲突以 DUPLICATE_TOOL 报告")

	// toolA 仍归 x,toolB 正常路由到 y
	res, err := r.Call(context.Background(), "toolA", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tool":"toolA"}`, string(res.Result))

	res, err = r.Call(context.Background(), "toolB", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tool":"toolB"}`, string(res.Result))
}

// TestRouter_Unregister 注销后端后其工具不可路由,其他后端不受影响
func TestRouter_Unregister(t *testing.T) {
	r := NewRouter(zap.NewNop())
	require.NoError(t, r.Register("x", echoBackend("toolA")))
	err := r.Register("y", echoBackend("toolA", "toolB"))
	require.True(t, types.IsDuplicateTool(err))

	require.NoError(t, r.Unregister("x"))

	// toolA 不会转移给 y
	_, err = r.Call(context.Background(), "toolA", nil)
	assert.True(t, types.IsUnknownTool(err))

	res, err := r.Call(context.Background(), "toolB", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tool":"toolB"}`, string(res.Result))

	err = r.Unregister("x")
	assert.True(t, types.HasCode(err, types.ErrCodeInvalidConfig), "重复注销报错")
}

func TestRouter_Call_UnknownTool(t *testing.T) {
	r := NewRouter(zap.NewNop())

	res, err := r.Call(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.True(t, types.IsUnknownTool(err))
	assert.True(t, res.IsError())
}

func TestRouter_Call_InvalidArguments(t *testing.T) {
	r := NewRouter(zap.NewNop())
	require.NoError(t, r.Register("x", echoBackend("toolA")))

	_, err := r.Call(context.Background(), "toolA", json.RawMessage(`{bad`))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeBackend, types.GetErrorCode(err))
}

// TestRouter_Call_BackendFailure 未编码的后端错误包装为 BACKEND_ERROR
func TestRouter_Call_BackendFailure(t *testing.T) {
	b := NewFuncBackend().Add(types.ToolDescriptor{Name: "boom"},
		func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return nil, fmt.Errorf("disk on fire")
		})
	r := NewRouter(zap.NewNop())
	require.NoError(t, r.Register("x", b))

	res, err := r.Call(context.Background(), "boom", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeBackend, types.GetErrorCode(err))
	assert.Contains(t, res.Error, "disk on fire")
}

// TestRouter_Call_CodedErrorVerbatim 带错误码的失败原样透传
func TestRouter_Call_CodedErrorVerbatim(t *testing.T) {
	b := NewFuncBackend().Add(types.ToolDescriptor{Name: "claim_task"},
		func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return nil, types.NewError(types.ErrCodeClaimConflict, "task already claimed")
		})
	r := NewRouter(zap.NewNop())
	require.NoError(t, r.Register("pool", b))

	_, err := r.Call(context.Background(), "claim_task", nil)
	require.Error(t, err)
	assert.True(t, types.IsClaimConflict(err), "冲突错误码不能被包装掉")
}

func TestRouter_Call_Timeout(t *testing.T) {
	b := NewFuncBackend().Add(types.ToolDescriptor{Name: "slow"},
		func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			select {
			case <-time.After(500 * time.Millisecond):
				return json.RawMessage(`{}`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	r := NewRouter(zap.NewNop())
	require.NoError(t, r.Register("x", b, WithCallTimeout(30*time.Millisecond)))

	res, err := r.Call(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeBackend, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err), "超时视为瞬态失败")
	assert.Contains(t, res.Error, "timed out")
}

// TestRouter_SnapshotAtDispatch 已派发的调用在后端注销后仍然完成
func TestRouter_SnapshotAtDispatch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	b := NewFuncBackend().Add(types.ToolDescriptor{Name: "hold"},
		func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			close(entered)
			<-release
			return json.RawMessage(`{"done":true}`), nil
		})

	r := NewRouter(zap.NewNop())
	require.NoError(t, r.Register("x", b))

	type callOut struct {
		res *types.ToolResult
		err error
	}
	out := make(chan callOut, 1)
	go func() {
		res, err := r.Call(context.Background(), "hold", nil)
		out <- callOut{res, err}
	}()

	<-entered
	require.NoError(t, r.Unregister("x"))
	assert.False(t, r.Has("hold"), "注销立即生效于新调用")
	close(release)

	got := <-out
	require.NoError(t, got.err, "在途调用用派发时捕获的后端完成")
	assert.JSONEq(t, `{"done":true}`, string(got.res.Result))
}

func TestRouter_ListAll_OrderAndDedupe(t *testing.T) {
	r := NewRouter(zap.NewNop())
	require.NoError(t, r.Register("x", echoBackend("toolA")))
	err := r.Register("y", echoBackend("toolA", "toolB"))
	require.True(t, types.IsDuplicateTool(err))
	require.NoError(t, r.Register("z", echoBackend("toolC")))

	names := make([]string, 0)
	for _, d := range r.ListAll() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"toolA", "toolB", "toolC"}, names, "按注册顺序合并,重名只出现一次")
}

func TestRouter_RateLimit(t *testing.T) {
	r := NewRouter(zap.NewNop())
	require.NoError(t, r.Register("x", echoBackend("toolA"), WithRateLimit(20, 1)))

	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := r.Call(context.Background(), "toolA", nil)
		require.NoError(t, err)
	}
	assert.Greater(t, time.Since(start), 30*time.Millisecond, "第二次调用应等待限流令牌")
}

// TestRouter_ConcurrentCallsAndMutations 表变更与在途调用并发时不崩溃
func TestRouter_ConcurrentCallsAndMutations(t *testing.T) {
	r := NewRouter(zap.NewNop())
	require.NoError(t, r.Register("stable", echoBackend("toolA")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := r.Call(context.Background(), "toolA", nil)
				if err != nil {
					assert.True(t, types.IsUnknownTool(err))
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("churn-%d", n)
			for j := 0; j < 25; j++ {
				_ = r.Register(name, echoBackend(fmt.Sprintf("tool-%d", n)))
				_ = r.Unregister(name)
			}
		}(i)
	}
	wg.Wait()

	res, err := r.Call(context.Background(), "toolA", nil)
	require.NoError(t, err)
	assert.NotNil(t, res.Result)
}

// TestRouter_ContextMetadataReachesBackend 引擎写进 context 的运行元数据
// 原样到达后端,工具实现可以据此关联调用方
func TestRouter_ContextMetadataReachesBackend(t *testing.T) {
	r := NewRouter(zap.NewNop())

	b := NewFuncBackend().Add(types.ToolDescriptor{Name: "whoami"},
		func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			runID, _ := types.RunID(ctx)
			agentID, _ := types.AgentID(ctx)
			round, _ := types.Round(ctx)
			return json.RawMessage(fmt.Sprintf(`{"run":%q,"agent":%q,"round":%d}`, runID, agentID, round)), nil
		})
	require.NoError(t, r.Register("meta", b))

	ctx := types.WithRunID(context.Background(), "run-7")
	ctx = types.WithAgentID(ctx, "scout")
	ctx = types.WithRound(ctx, 2)

	res, err := r.Call(ctx, "whoami", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"run":"run-7","agent":"scout","round":2}`, string(res.Result))
}
