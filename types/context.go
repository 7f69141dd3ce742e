package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRunID   contextKey = "run_id"
	keyAgentID contextKey = "agent_id"
	keyRound   contextKey = "round"
)

// WithRunID adds the orchestration run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts the orchestration run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithAgentID adds the calling agent ID to context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, keyAgentID, agentID)
}

// AgentID extracts the calling agent ID from context.
func AgentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAgentID).(string)
	return v, ok && v != ""
}

// WithRound adds the current round index to context.
func WithRound(ctx context.Context, round int) context.Context {
	return context.WithValue(ctx, keyRound, round)
}

// Round extracts the current round index from context.
func Round(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(keyRound).(int)
	return v, ok
}
