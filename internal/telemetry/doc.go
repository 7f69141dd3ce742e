// Package telemetry 封装 OpenTelemetry SDK 初始化与本模块的追踪约定：
// 统一的 instrumentation scope（ScopeName）和引擎 span 使用的 swarm.*
// 属性键。遥测禁用时全局 provider 保持 noop，不连接任何外部服务。
package telemetry
