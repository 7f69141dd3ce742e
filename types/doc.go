// Copyright (c) AgentSwarm Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentSwarm 框架的全局共享类型定义。

# 概述

types 是框架最底层的公共包，不依赖任何内部包，为 agent、engine、llm、
tools、pool 等上层模块提供统一的类型契约。所有跨包共享的接口、结构体、
枚举和错误码均定义于此，以避免循环依赖。

# 核心接口与类型

  - Message            对话消息（Role、Content、Name、Metadata、Timestamp）
  - Task / TaskStatus  工作项及其生命周期（pending / claimed / completed / failed）
  - ToolDescriptor     工具描述（name + description + 参数列表）
  - ToolResult         工具执行结果
  - TokenUsage         Token 消耗统计（支持 Add 累加）
  - Tokenizer          框架级 Token 计数接口
  - Error / ErrorCode  结构化错误体系，含 Retryable 标记与 Cause 链

# 主要能力

  - Context 传播：WithRunID / WithAgentID / WithRound
  - 错误判定：IsClaimConflict / IsUnknownTool / IsBudgetExceeded / IsRetryable
  - Token 估算：EstimateTokenizer（中英文字符分别计算）
  - 深拷贝：Message.Clone / CloneMessages / CloneTasks（fork 隔离的基础）
*/
package types
