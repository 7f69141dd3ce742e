// Package tlsutil 集中管理出站连接的 TLS 配置，
// 供 Redis 任务池、工具结果缓存与 OpenAPI 工具后端使用（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
