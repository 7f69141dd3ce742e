package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/agentswarm/types"
)

// TiktokenTokenizer 基于 tiktoken 的精确计数器，实现 types.Tokenizer。
// 编码数据在首次使用时惰性加载；加载失败时自动退回字符估算，
// 保证预算控制在离线环境下仍然可用。
type TiktokenTokenizer struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	fallback *types.EstimateTokenizer
}

// modelEncodings 将模型名称映射到其 tiktoken 编码与上下文大小。
var modelEncodings = map[string]struct {
	encoding  string
	maxTokens int
}{
	"gpt-4o":        {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4o-mini":   {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4-turbo":   {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4":         {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo": {encoding: "cl100k_base", maxTokens: 16385},
}

// NewTiktokenTokenizer 为给定模型创建计数器。未知模型先做前缀匹配，
// 匹配失败时默认使用 cl100k_base。
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	info, ok := modelEncodings[model]
	if !ok {
		// 前缀匹配
		for prefix, i := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				info = i
				ok = true
				break
			}
		}
	}
	if !ok {
		info.encoding = "cl100k_base"
	}

	return &TiktokenTokenizer{
		model:    model,
		encoding: info.encoding,
		fallback: types.NewEstimateTokenizer(),
	}
}

// init 惰性初始化 tiktoken 编码（首次使用时可能下载数据）。
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens 返回给定文本的 token 数。
func (t *TiktokenTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessageTokens 返回单条消息的 token 数，含角色标记等固定开销。
func (t *TiktokenTokenizer) CountMessageTokens(msg types.Message) int {
	if err := t.init(); err != nil {
		return t.fallback.CountMessageTokens(msg)
	}
	// 每条消息的开销: <|start|>role\n content<|end|>\n
	total := 4
	total += len(t.enc.Encode(msg.Content, nil, nil))
	total += len(t.enc.Encode(string(msg.Role), nil, nil))
	if msg.Name != "" {
		total += len(t.enc.Encode(msg.Name, nil, nil))
	}
	return total
}

// CountMessagesTokens 返回消息列表的总 token 数。
func (t *TiktokenTokenizer) CountMessagesTokens(msgs []types.Message) int {
	total := 0
	for _, msg := range msgs {
		total += t.CountMessageTokens(msg)
	}
	if total > 0 {
		total += 3 // conversation-end overhead
	}
	return total
}

// Name 返回分词器的名称。
func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// ForModel 返回适合给定模型的计数器。已知 OpenAI 系模型用 tiktoken，
// 其余模型退回字符估算。
func ForModel(model string) types.Tokenizer {
	if model == "" {
		return types.NewEstimateTokenizer()
	}
	return NewTiktokenTokenizer(model)
}
