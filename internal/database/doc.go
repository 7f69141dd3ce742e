// Copyright (c) AgentSwarm Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接管理，为任务池的持久化存储
提供连接池调优、健康检查与事务重试。

# 概述

本包通过 Manager 封装 GORM 与 database/sql 的连接池配置，按配置的
驱动类型（postgres/mysql/sqlite）选择方言并建立连接。后台健康检查
定时探活，异常时通过 zap 日志输出诊断信息。

# 核心类型

  - Manager：连接管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolStats：友好格式的连接池统计信息。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 驱动选择：Open 按 config.DatabaseConfig.Driver 构造方言并连接。
  - 连接池调优：通过 MaxIdleConns/MaxOpenConns/ConnMaxLifetime 精细控制。
  - 健康检查：后台定时 PingContext 探活，输出连接数与空闲数。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 支持指数退避重试（死锁、序列化失败等场景）。
*/
package database
