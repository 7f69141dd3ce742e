package agent

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentswarm/llm"
	"github.com/BaSui01/agentswarm/llm/retry"
	"github.com/BaSui01/agentswarm/types"
)

// testClient implements llm.Client for testing
type testClient struct {
	mu       sync.Mutex
	name     string
	invokeFn func(ctx context.Context, messages []types.Message, budgetHint int) (*llm.Reply, error)
	calls    [][]types.Message
}

func (c *testClient) Invoke(ctx context.Context, messages []types.Message, budgetHint int) (*llm.Reply, error) {
	c.mu.Lock()
	c.calls = append(c.calls, types.CloneMessages(messages))
	c.mu.Unlock()
	if c.invokeFn != nil {
		return c.invokeFn(ctx, messages, budgetHint)
	}
	return &llm.Reply{
		Content: "ok",
		Usage:   types.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (c *testClient) Name() string {
	if c.name == "" {
		return "test"
	}
	return c.name
}

func (c *testClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *testClient) lastCall() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

// charTokenizer counts one token per byte, no per-message overhead.
// Keeps budget arithmetic in tests exact.
type charTokenizer struct{}

func (charTokenizer) CountTokens(text string) int { return len(text) }

func (charTokenizer) CountMessageTokens(msg types.Message) int { return len(msg.Content) }

func (charTokenizer) CountMessagesTokens(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
	}
	return total
}

// fastRetryer 毫秒级退避，避免测试等待
func fastRetryer(maxRetries int) retry.Retryer {
	return retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}, nil)
}
