package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentswarm/agent"
	"github.com/BaSui01/agentswarm/llm"
	"github.com/BaSui01/agentswarm/types"
)

// TestParallel_PartialFailure 四个智能体一个彻底失败：
// 运行不报错，转录三条，失败被记录在案。
func TestParallel_PartialFailure(t *testing.T) {
	agents := []*agent.Agent{
		newTestAgent(t, "a", &scriptClient{replies: []string{"from a"}}),
		newTestAgent(t, "b", &scriptClient{replies: []string{"from b"}}),
		newTestAgent(t, "c", newFlakyForeverClient()),
		newTestAgent(t, "d", &scriptClient{replies: []string{"from d"}}),
	}

	e, err := New(Parallel{}, agents)
	require.NoError(t, err)

	res, err := e.Run(context.Background(), "analyze this", 1)
	require.NoError(t, err, "个体失败不升级为运行错误")

	assert.Len(t, res.Transcript, 3)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "c", res.Failures[0].AgentID)
	assert.Equal(t, 1, res.Failures[0].Round)
	assert.True(t, res.IsComplete)
	assert.Equal(t, 1, res.RoundsCompleted)

	seen := make(map[string]bool)
	for _, rec := range res.Transcript {
		seen[rec.AgentID] = true
		assert.Equal(t, 1, rec.Round)
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "d": true}, seen)
}

// newFlakyForeverClient 可重试错误但永远失败，耗尽重试预算。
func newFlakyForeverClient() *scriptClient {
	return &scriptClient{fn: func(call int, _ []types.Message) (*llm.Reply, error) {
		return nil, llm.NewClientError("still down", nil, true)
	}}
}

// TestParallel_SamePromptForAll 所有智能体在同一步收到相同提示词
func TestParallel_SamePromptForAll(t *testing.T) {
	clients := make([]*scriptClient, 3)
	agents := make([]*agent.Agent, 3)
	for i, id := range []string{"a", "b", "c"} {
		clients[i] = &scriptClient{}
		agents[i] = newTestAgent(t, id, clients[i])
	}

	e, err := New(Parallel{}, agents)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "the question", 1)
	require.NoError(t, err)

	for i, client := range clients {
		require.Equal(t, 1, client.callCount(), "agent %d", i)
		assert.Equal(t, "the question", client.lastUserPrompt(0))
	}
}

// TestParallel_RoundsParameterIgnored 并行是单步模式，rounds 不生效
func TestParallel_RoundsParameterIgnored(t *testing.T) {
	client := &scriptClient{}
	e, err := New(Parallel{}, []*agent.Agent{newTestAgent(t, "a", client)})
	require.NoError(t, err)

	res, err := e.Run(context.Background(), "hi", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RoundsCompleted)
	assert.Equal(t, 1, client.callCount())
}

// TestParallel_Events 一轮并行发出 round_started 与 round_completed
func TestParallel_Events(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()
	sink := &recordingSink{}
	bus.Subscribe(EventAll, sink.handler())

	e, err := New(Parallel{},
		[]*agent.Agent{newTestAgent(t, "a", &scriptClient{})},
		WithEventBus(bus),
	)
	require.NoError(t, err)

	res, err := e.Run(context.Background(), "hi", 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sink.count(EventRoundCompleted) == 1
	}, eventWait, eventTick)

	assert.Equal(t, 1, sink.count(EventRoundStarted))
	for _, ev := range sink.snapshot() {
		assert.Equal(t, res.RunID, ev.RunID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}
