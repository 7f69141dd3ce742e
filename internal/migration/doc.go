// Copyright (c) AgentSwarm Authors.
// Licensed under the MIT License.

/*
包 migration 提供任务池表结构的版本化迁移，支持 PostgreSQL、MySQL
与 SQLite 三种数据库，基于 golang-migrate 实现。

各方言的 SQL 脚本（swarm_tasks 表及其索引）通过 embed.FS 内嵌在包里，
部署时无需携带迁移文件。SQLite 走 modernc 纯 Go 驱动，无需 CGO。

# 核心类型

  - Migrator：迁移器，提供 Up/Down/Reset/Version/Pending/Close。
  - Options：方言、连接串与版本表名。
  - Dialect：数据库方言枚举（postgres/mysql/sqlite）。

# 工厂函数

NewMigratorFromConfig / NewMigratorFromDatabaseConfig 从应用配置的
database 段创建迁移器；NewMigratorFromDSN 接受现成的连接串。
ParseDialect 解析方言别名，DSN 按方言拼接连接串。
*/
package migration
