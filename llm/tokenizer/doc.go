// Package tokenizer 提供基于 tiktoken 的精确 Token 计数，
// 用于 agent 历史的 Token 预算管理；离线时退回字符估算。
package tokenizer
