package agent

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentswarm/types"
)

// Compactor 上下文压缩策略：把被裁剪的一段旧消息替换为更短的摘要消息。
// 实现必须是纯计算，不得调用模型。
type Compactor interface {
	// Compact 为即将被裁剪的消息段生成摘要消息。
	Compact(span []types.Message) (types.Message, error)
}

// SnippetCompactor 内置的摘要策略：截取每条消息的前若干字符拼成要点列表。
// 便宜且确定，适合测试与默认配置。
type SnippetCompactor struct {
	// MaxChars 每条消息保留的最大字符数，默认 80。
	MaxChars int
}

// Compact 实现 Compactor。
func (c *SnippetCompactor) Compact(span []types.Message) (types.Message, error) {
	maxChars := c.MaxChars
	if maxChars <= 0 {
		maxChars = 80
	}

	var b strings.Builder
	b.WriteString("Summary of earlier conversation:\n")
	for _, msg := range span {
		content := msg.Content
		if len(content) > maxChars {
			content = content[:maxChars] + "..."
		}
		fmt.Fprintf(&b, "- [%s] %s\n", msg.Role, content)
	}
	return types.NewSystemMessage(b.String()), nil
}

// History 私有的滚动对话历史，带 token 预算。
// 由单个 Agent 独占持有，本身不做并发保护；并发分支必须先 fork。
type History struct {
	messages  []types.Message
	budget    int // 0 表示不限
	tokenizer types.Tokenizer
	compactor Compactor
}

// NewHistory 创建空历史。tokenizer 为空时使用字符估算。
func NewHistory(budget int, tokenizer types.Tokenizer) *History {
	if tokenizer == nil {
		tokenizer = types.NewEstimateTokenizer()
	}
	return &History{
		budget:    budget,
		tokenizer: tokenizer,
	}
}

// WithCompactor 设置压缩策略。
func (h *History) WithCompactor(c Compactor) *History {
	h.compactor = c
	return h
}

// Append 追加消息并执行预算约束：超出预算时优先裁剪最旧的条目
// （保留开头的 system 消息），配置了 Compactor 时以摘要替换被裁剪段。
// 当裁剪后仍超出预算（单条消息本身过大）时返回 BUDGET_EXCEEDED。
func (h *History) Append(msg types.Message) error {
	h.messages = append(h.messages, msg)
	return h.enforceBudget()
}

// enforceBudget 将历史裁剪到预算以内。
func (h *History) enforceBudget() error {
	if h.budget <= 0 {
		return nil
	}
	if h.tokenizer.CountMessagesTokens(h.messages) <= h.budget {
		return nil
	}

	// 保留开头的 system 消息（人设与运行上下文），从其后最旧的消息开始裁剪
	keepFrom := 0
	if len(h.messages) > 0 && h.messages[0].Role == types.RoleSystem {
		keepFrom = 1
	}

	var trimmed []types.Message
	for len(h.messages)-keepFrom > 1 {
		if h.tokenizer.CountMessagesTokens(h.messages) <= h.budget {
			break
		}
		trimmed = append(trimmed, h.messages[keepFrom])
		h.messages = append(h.messages[:keepFrom], h.messages[keepFrom+1:]...)
	}

	if len(trimmed) > 0 && h.compactor != nil {
		summary, err := h.compactor.Compact(trimmed)
		if err == nil {
			// 摘要插入在 system 消息之后
			h.messages = append(h.messages[:keepFrom],
				append([]types.Message{summary}, h.messages[keepFrom:]...)...)
			// 摘要本身可能把历史再次推出预算，但不会递归压缩
			if h.tokenizer.CountMessagesTokens(h.messages) > h.budget &&
				len(h.messages)-keepFrom > 1 {
				h.messages = append(h.messages[:keepFrom], h.messages[keepFrom+1:]...)
			}
		}
	}

	if h.tokenizer.CountMessagesTokens(h.messages) > h.budget {
		return types.NewErrorf(types.ErrCodeBudgetExceeded,
			"history exceeds token budget %d even after trimming", h.budget)
	}
	return nil
}

// EnsureBudget 重新执行预算约束，供压缩后的二次检查使用。
func (h *History) EnsureBudget() error {
	return h.enforceBudget()
}

// TruncateLast 移除最后 n 条消息，用于失败调用后的回滚。
func (h *History) TruncateLast(n int) {
	if n <= 0 {
		return
	}
	if n > len(h.messages) {
		n = len(h.messages)
	}
	h.messages = h.messages[:len(h.messages)-n]
}

// Snapshot 返回历史的深拷贝，调用方可自由持有。
func (h *History) Snapshot() []types.Message {
	return types.CloneMessages(h.messages)
}

// Clone 返回完全独立的历史副本，供 fork 使用。
func (h *History) Clone() *History {
	return &History{
		messages:  types.CloneMessages(h.messages),
		budget:    h.budget,
		tokenizer: h.tokenizer,
		compactor: h.compactor,
	}
}

// Len 返回消息条数。
func (h *History) Len() int {
	return len(h.messages)
}

// Tokens 返回当前历史的 token 总数。
func (h *History) Tokens() int {
	return h.tokenizer.CountMessagesTokens(h.messages)
}

// Budget 返回配置的 token 预算。
func (h *History) Budget() int {
	return h.budget
}

// Compact 立即对除最新消息外的历史执行一次压缩，供 Adaptive 预算策略使用。
// 没有配置 Compactor 或历史过短时为空操作。
func (h *History) Compact() error {
	if h.compactor == nil || len(h.messages) < 3 {
		return nil
	}

	keepFrom := 0
	if h.messages[0].Role == types.RoleSystem {
		keepFrom = 1
	}
	last := len(h.messages) - 1
	if last-keepFrom < 2 {
		return nil
	}

	span := h.messages[keepFrom:last]
	summary, err := h.compactor.Compact(span)
	if err != nil {
		return fmt.Errorf("compact history: %w", err)
	}

	compacted := make([]types.Message, 0, keepFrom+2)
	compacted = append(compacted, h.messages[:keepFrom]...)
	compacted = append(compacted, summary, h.messages[last])
	h.messages = compacted
	return nil
}
