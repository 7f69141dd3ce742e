// Package types provides core types used across the agentswarm framework.
// This package has ZERO dependencies on other agentswarm packages to avoid
// circular imports. All other packages should import types from here.
package types

import (
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a conversation message. Messages are immutable once
// appended to a history; mutating helpers return modified copies.
type Message struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content,omitempty"`
	Name      string            `json:"name,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewToolMessage creates a new tool result message.
func NewToolMessage(name, content string) Message {
	return Message{
		Role:      RoleTool,
		Content:   content,
		Name:      name,
		Timestamp: time.Now(),
	}
}

// WithName attributes the message to a named speaker.
func (m Message) WithName(name string) Message {
	m.Name = name
	return m
}

// WithMetadata adds metadata to the message.
func (m Message) WithMetadata(metadata map[string]string) Message {
	m.Metadata = metadata
	return m
}

// Clone returns a deep copy of the message, including its metadata map.
func (m Message) Clone() Message {
	out := m
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// CloneMessages returns a deep copy of a message slice. The returned slice
// shares nothing with the input, so either side can be mutated freely.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
