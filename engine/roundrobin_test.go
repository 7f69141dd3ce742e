package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentswarm/agent"
	"github.com/BaSui01/agentswarm/llm"
	"github.com/BaSui01/agentswarm/types"
)

// TestRoundRobin_StrictVisibility 第 r 轮第 k 位发言者的提示词里
// 恰好出现此前所有回复：r-1 轮全量加本轮前 k-1 条，不多不少。
func TestRoundRobin_StrictVisibility(t *testing.T) {
	ids := []string{"a", "b", "c"}
	clients := make(map[string]*scriptClient, len(ids))
	agents := make([]*agent.Agent, 0, len(ids))
	for _, id := range ids {
		id := id
		c := &scriptClient{}
		c.fn = func(call int, _ []types.Message) (*llm.Reply, error) {
			return &llm.Reply{
				Content: fmt.Sprintf("reply-%s-%d", id, call+1),
				Usage:   types.TokenUsage{TotalTokens: 1},
			}, nil
		}
		clients[id] = c
		agents = append(agents, newTestAgent(t, id, c))
	}

	e, err := New(RoundRobin{}, agents)
	require.NoError(t, err)

	const rounds = 2
	res, err := e.Run(context.Background(), "topic", rounds)
	require.NoError(t, err)
	require.Len(t, res.Transcript, rounds*len(ids))
	assert.True(t, res.IsComplete)
	assert.Equal(t, rounds, res.RoundsCompleted)

	// 转录顺序即发言顺序：a b c a b c
	for i, rec := range res.Transcript {
		wantID := ids[i%len(ids)]
		assert.Equal(t, wantID, rec.AgentID, "position %d", i)
		assert.Equal(t, i/len(ids)+1, rec.Round, "position %d", i)
	}

	// 每位发言者在每次调用里看到的回复条数恰好是此前的转录长度
	for round := 0; round < rounds; round++ {
		for k, id := range ids {
			prompt := clients[id].lastUserPrompt(round)
			wantVisible := round*len(ids) + k
			gotVisible := strings.Count(prompt, "reply-")
			assert.Equal(t, wantVisible, gotVisible,
				"round %d speaker %s sees %d replies", round+1, id, gotVisible)
			if wantVisible == 0 {
				assert.Equal(t, "topic", prompt, "首位发言者拿到裸提示词")
			} else {
				assert.Contains(t, prompt, "Conversation so far:")
			}
		}
	}
}

func TestRoundRobin_CustomOrder(t *testing.T) {
	clients := map[string]*scriptClient{
		"a": {}, "b": {}, "c": {},
	}
	agents := []*agent.Agent{
		newTestAgent(t, "a", clients["a"]),
		newTestAgent(t, "b", clients["b"]),
		newTestAgent(t, "c", clients["c"]),
	}

	// 只让 c 和 a 发言，顺序给定
	e, err := New(RoundRobin{Order: []string{"c", "a"}}, agents)
	require.NoError(t, err)

	res, err := e.Run(context.Background(), "hi", 1)
	require.NoError(t, err)
	require.Len(t, res.Transcript, 2)
	assert.Equal(t, "c", res.Transcript[0].AgentID)
	assert.Equal(t, "a", res.Transcript[1].AgentID)
	assert.Zero(t, clients["b"].callCount(), "不在顺序里的智能体不发言")
}

func TestRoundRobin_UnknownOrderID(t *testing.T) {
	a := newTestAgent(t, "a", &scriptClient{})
	e, err := New(RoundRobin{Order: []string{"a", "nope"}}, []*agent.Agent{a})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "hi", 1)
	assert.True(t, types.HasCode(err, types.ErrCodeInvalidConfig))
}

// TestRoundRobin_FailedSpeakerSkipped 中途失败的发言者不留转录，
// 后续发言者看到的对话也不包含它。
func TestRoundRobin_FailedSpeakerSkipped(t *testing.T) {
	after := &scriptClient{}
	agents := []*agent.Agent{
		newTestAgent(t, "a", &scriptClient{replies: []string{"a speaks"}}),
		newTestAgent(t, "b", failingClient("b is down")),
		newTestAgent(t, "c", after),
	}

	e, err := New(RoundRobin{}, agents)
	require.NoError(t, err)

	res, err := e.Run(context.Background(), "hi", 1)
	require.NoError(t, err)
	require.Len(t, res.Transcript, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "b", res.Failures[0].AgentID)

	prompt := after.lastUserPrompt(0)
	assert.Contains(t, prompt, "a speaks")
	assert.NotContains(t, prompt, "b is down")
	assert.True(t, res.IsComplete, "个体失败不影响完成度")
}
