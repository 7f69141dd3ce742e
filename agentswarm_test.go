package agentswarm

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/BaSui01/agentswarm/agent"
	"github.com/BaSui01/agentswarm/config"
	"github.com/BaSui01/agentswarm/engine"
	"github.com/BaSui01/agentswarm/llm"
	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 🧪 门面测试
// =============================================================================

// newCountingClient 返回递增编号应答的客户端
func newCountingClient() llm.Client {
	var calls atomic.Int32
	return llm.ClientFunc(func(_ context.Context, _ []types.Message, _ int) (*llm.Reply, error) {
		n := calls.Add(1)
		return &llm.Reply{
			Content: fmt.Sprintf("reply %d", n),
			Usage:   types.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}, nil
	})
}

func newFacadeAgent(t *testing.T, id string) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{ID: id}, newCountingClient())
	require.NoError(t, err)
	return a
}

func TestNew_RequiresMode(t *testing.T) {
	_, err := New(WithAgents(newFacadeAgent(t, "a")))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidConfig, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "WithMode")
}

func TestNew_ParallelRun(t *testing.T) {
	eng, err := New(
		WithAgents(newFacadeAgent(t, "a"), newFacadeAgent(t, "b")),
		WithMode(engine.Parallel{}),
		WithCallTimeout(5*time.Second),
	)
	require.NoError(t, err)

	res, err := eng.Run(context.Background(), "say something", 1)
	require.NoError(t, err)

	assert.True(t, res.IsComplete)
	assert.Len(t, res.Transcript, 2)
	assert.Equal(t, 10, res.TotalTokenUsage.TotalTokens)
}

func TestNew_FromConfigDefaultMode(t *testing.T) {
	cfg := config.DefaultConfig() // DefaultMode 为 parallel

	eng, err := New(
		WithConfig(cfg),
		WithAgents(newFacadeAgent(t, "solo")),
	)
	require.NoError(t, err)

	res, err := eng.Run(context.Background(), "hello", 1)
	require.NoError(t, err)
	assert.Len(t, res.Transcript, 1)
}

func TestNew_FromConfigDebate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.DefaultMode = "debate"
	cfg.Engine.DefaultRounds = 2
	cfg.Engine.ConvergenceThreshold = 0.5

	mode, err := modeFromConfig(cfg.Engine)
	require.NoError(t, err)

	debate, ok := mode.(engine.Debate)
	require.True(t, ok)
	assert.Equal(t, 2, debate.MaxRounds)
	assert.InDelta(t, 0.5, debate.ConvergenceThreshold, 1e-9)
}

func TestNew_FromConfigStructuralModeRejected(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.DefaultMode = "moderated" // 需要主持人 ID,无法从配置推导

	_, err := New(WithConfig(cfg), WithAgents(newFacadeAgent(t, "a")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WithMode")
}

func TestNew_ExplicitModeBeatsConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.DefaultMode = "debate"

	eng, err := New(
		WithConfig(cfg),
		WithMode(engine.RoundRobin{}),
		WithAgents(newFacadeAgent(t, "a"), newFacadeAgent(t, "b")),
	)
	require.NoError(t, err)
	assert.Equal(t, "round_robin", eng.Mode().Name())
}

func TestNew_InvalidConfigRejected(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.DefaultRounds = 0

	_, err := New(WithConfig(cfg), WithAgents(newFacadeAgent(t, "a")))
	assert.Error(t, err)
}

func TestNew_ForwardsEngineOptions(t *testing.T) {
	bus := engine.NewEventBus()
	defer bus.Stop()

	var rounds atomic.Int32
	bus.Subscribe(engine.EventRoundCompleted, func(ev engine.Event) {
		rounds.Add(1)
	})

	eng, err := New(
		WithAgents(newFacadeAgent(t, "a")),
		WithMode(engine.Parallel{}),
		WithEventBus(bus),
		WithSystemContext("Shared briefing."),
	)
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "go", 1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return rounds.Load() == 1 },
		2*time.Second, 5*time.Millisecond)
}

func TestNew_MetricsNamespaceSharedAcrossEngines(t *testing.T) {
	// 进程级收集器,第二次装配不会重复注册 panic
	assert.NotPanics(t, func() {
		for i := 0; i < 2; i++ {
			eng, err := New(
				WithAgents(newFacadeAgent(t, fmt.Sprintf("agent-%d", i))),
				WithMode(engine.Parallel{}),
				WithMetricsNamespace("agentswarm_facade_test"),
			)
			require.NoError(t, err)

			_, err = eng.Run(context.Background(), "ping", 1)
			require.NoError(t, err)
		}
	})
}

func TestStartTelemetry_DisabledIsNoop(t *testing.T) {
	// 禁用时返回的 shutdown 是安全的空操作,调用方无需分支判断
	shutdown, err := StartTelemetry(config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartTelemetry_RequiresEndpoint(t *testing.T) {
	_, err := StartTelemetry(config.TelemetryConfig{Enabled: true}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "otlp endpoint")
}

func TestMigratePoolSchema_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.db")

	err := MigratePoolSchema(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Name:   dbPath,
	})
	require.NoError(t, err)

	// 迁移完成后任务表就位
	db, err := sql.Open("sqlite", "file:"+dbPath)
	require.NoError(t, err)
	defer db.Close()

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'swarm_tasks'").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "swarm_tasks", name)

	// 幂等:再次执行无待应用迁移,不报错
	require.NoError(t, MigratePoolSchema(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Name:   dbPath,
	}))
}

func TestMigratePoolSchema_InvalidDriver(t *testing.T) {
	err := MigratePoolSchema(context.Background(), config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database dialect")
}
