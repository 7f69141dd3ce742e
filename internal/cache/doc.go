// Copyright (c) AgentSwarm Authors.
// Licensed under the MIT License.

// Package cache 为工具路由提供 Redis 结果缓存。
//
// # 概述
//
// 缓存的值是工具执行返回的原始 JSON 串，键由包装层
// （tools.CachedBackend）按工具名与参数哈希生成。
// 未命中返回 ErrCacheMiss，连接故障返回普通错误，
// 两者由包装层分别处理：未命中回源执行，故障降级直连。
//
// # 核心类型
//
//   - Manager: 缓存管理器，Get/Set/Delete 之外还维护健康检查循环
//   - Config: 连接与过期策略，TLS 开关复用 tlsutil 的加固配置
//
// 本包是内部实现，缓存的公开入口在 tools 包。
package cache
