// Copyright (c) AgentSwarm Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖协同运行、
智能体调用、工具路由、任务池与数据库五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。
  - Default：进程级单例入口。promauto 重复注册会 panic，
    多个引擎实例必须共享同一个 Collector。

# 主要能力

  - 运行指标：运行总数、运行耗时、完成轮数、任务事件计数，
    按 mode/status 分组。
  - 智能体指标：应答调用总数、调用耗时、Token 用量
    （prompt/completion），按 agent_id/mode 分组。
  - 工具指标：调用总数与耗时，按 tool/status 分组。
  - 任务池指标：各状态任务数 Gauge，按 pool_id/status 分组。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram，
    按 database/operation 分组。
*/
package metrics
