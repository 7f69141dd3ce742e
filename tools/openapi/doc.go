// Copyright (c) AgentSwarm Authors.
// Licensed under the MIT License.

/*
# 概述

Package openapi 把 OpenAPI 3 文档变成可路由的工具后端。

文档中的每个 Operation 映射为一个工具：operationId 作为工具名，
path/query/header 参数与 JSON 请求体映射为扁平的工具参数。
生成的 Backend 实现 tools.Backend，可直接注册进 tools.Router，
Execute 时把参数装配成 HTTP 请求发给远端服务。

# 核心类型

  - Document — 解析后的 OpenAPI 文档（Info / Servers / Paths）
  - Backend — 工具后端，Tools 暴露描述符，Execute 发起 HTTP 调用
  - Option — WithBaseURL / WithHTTPClient / WithIncludeTags 等构建选项

# 主要能力

  - 文档加载：ParseDocument 解析 JSON，FetchDocument 从 URL 拉取
  - 工具生成：路径按字典序、方法按固定顺序遍历，清单稳定可复现
  - Tag 过滤：WithIncludeTags / WithExcludeTags 控制暴露范围
  - 安全传输：默认使用 tlsutil 加固的 HTTP 客户端
  - 错误语义：远端 5xx 与 429 标记为可重试，交给上层退避

仅支持 JSON 文档与 application/json 请求体；cookie 参数不支持。
*/
package openapi
