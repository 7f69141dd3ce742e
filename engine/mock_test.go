package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentswarm/agent"
	"github.com/BaSui01/agentswarm/llm"
	"github.com/BaSui01/agentswarm/llm/retry"
	"github.com/BaSui01/agentswarm/types"
)

// scriptClient 按脚本应答的测试客户端，记录每次调用收到的消息快照。
// replies 依次出队，耗尽后重复最后一条；fn 设置后优先生效。
type scriptClient struct {
	mu      sync.Mutex
	replies []string
	fn      func(call int, messages []types.Message) (*llm.Reply, error)
	calls   [][]types.Message
}

func (c *scriptClient) Invoke(ctx context.Context, messages []types.Message, budgetHint int) (*llm.Reply, error) {
	c.mu.Lock()
	call := len(c.calls)
	c.calls = append(c.calls, types.CloneMessages(messages))
	fn := c.fn
	content := "ok"
	if len(c.replies) > 0 {
		idx := call
		if idx >= len(c.replies) {
			idx = len(c.replies) - 1
		}
		content = c.replies[idx]
	}
	c.mu.Unlock()

	if fn != nil {
		return fn(call, messages)
	}
	return &llm.Reply{
		Content: content,
		Usage:   types.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (c *scriptClient) Name() string { return "script" }

func (c *scriptClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// call 返回第 i 次调用的消息快照。
func (c *scriptClient) call(i int) []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[i]
}

// lastUserPrompt 返回第 i 次调用中最后一条用户消息的内容。
func (c *scriptClient) lastUserPrompt(i int) string {
	msgs := c.call(i)
	for j := len(msgs) - 1; j >= 0; j-- {
		if msgs[j].Role == types.RoleUser {
			return msgs[j].Content
		}
	}
	return ""
}

// failingClient 始终返回不可重试错误的客户端。
func failingClient(msg string) *scriptClient {
	return &scriptClient{fn: func(call int, _ []types.Message) (*llm.Reply, error) {
		return nil, llm.NewClientError(msg, nil, false)
	}}
}

// fastRetry 毫秒级退避，让重试路径在测试里瞬间走完。
func fastRetry() agent.Option {
	return agent.WithRetryer(retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}, nil))
}

func newTestAgent(t *testing.T, id string, client llm.Client, opts ...agent.Option) *agent.Agent {
	t.Helper()
	ag, err := agent.New(agent.Config{ID: id}, client, append([]agent.Option{fastRetry()}, opts...)...)
	require.NoError(t, err)
	return ag
}

func newPersonaAgent(t *testing.T, cfg agent.Config, client llm.Client, opts ...agent.Option) *agent.Agent {
	t.Helper()
	ag, err := agent.New(cfg, client, append([]agent.Option{fastRetry()}, opts...)...)
	require.NoError(t, err)
	return ag
}

// 事件总线异步派发，测试统一用 Eventually 等待落地。
const (
	eventWait = 2 * time.Second
	eventTick = 5 * time.Millisecond
)

// recordingSink 收集事件的同步接收器，配合 EventAll 订阅使用。
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) handler() EventHandler {
	return func(ev Event) {
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.mu.Unlock()
	}
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) count(eventType EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}
