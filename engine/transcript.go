package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentswarm/types"
)

// ReplyRecord 转录中的一条成功回复。Round 从 1 开始计数；
// Hierarchical 模式下 Layer 标注产出层级，DecentralizedPool 模式下
// TaskID 标注该回复处理的任务。
type ReplyRecord struct {
	AgentID   string           `json:"agent_id"`
	AgentName string           `json:"agent_name"`
	Role      types.Role       `json:"role"`
	Round     int              `json:"round"`
	Layer     int              `json:"layer,omitempty"`
	TaskID    string           `json:"task_id,omitempty"`
	Content   string           `json:"content"`
	Usage     types.TokenUsage `json:"usage"`
	Timestamp time.Time        `json:"timestamp"`
}

// Transcript 追加式共享转录。并发安全，读取返回副本。
type Transcript struct {
	mu      sync.Mutex
	entries []ReplyRecord
}

// NewTranscript 创建空转录。
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append 追加一条记录并返回其序号。
func (t *Transcript) Append(rec ReplyRecord) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	t.entries = append(t.entries, rec)
	return len(t.entries) - 1
}

// Entries 返回当前全部记录的副本。
func (t *Transcript) Entries() []ReplyRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ReplyRecord, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len 返回当前记录数。
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// renderConversation 把记录渲染成对话文本，供提示词拼接。
func renderConversation(entries []ReplyRecord) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(e.AgentName)
		b.WriteString(": ")
		b.WriteString(e.Content)
	}
	return b.String()
}

// promptWithTranscript 在基础提示词后附加当前对话内容。
func promptWithTranscript(base string, entries []ReplyRecord) string {
	if len(entries) == 0 {
		return base
	}
	return base + "\n\nConversation so far:\n\n" + renderConversation(entries)
}
