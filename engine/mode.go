package engine

import "github.com/BaSui01/agentswarm/types"

const (
	defaultDebateRounds  = 3
	defaultMaxIterations = 5
)

// Mode 决定一次运行中智能体的协作方式。实现集合封闭，
// 以值形式传给 New，由引擎在运行前按具体类型展开并校验。
type Mode interface {
	// Name 返回模式名，用于日志、事件与结果标注。
	Name() string

	isMode()
}

// Parallel 单步并发：所有智能体同时收到相同提示词，
// 转录按完成顺序排列，个体失败不影响其余回复。
type Parallel struct{}

func (Parallel) Name() string { return "parallel" }
func (Parallel) isMode()      {}

// RoundRobin 轮流发言。Order 为空时按注册顺序。
// 每位发言者的提示词包含此前的全部转录。
type RoundRobin struct {
	Order []string
}

func (RoundRobin) Name() string { return "round_robin" }
func (RoundRobin) isMode()      {}

// Moderated 主持人模式：每轮先由主持人点名，被点到的智能体并发应答。
// EligibleRespondents 为空时默认除主持人外的全部智能体。
type Moderated struct {
	ModeratorID         string
	EligibleRespondents []string
}

func (Moderated) Name() string { return "moderated" }
func (Moderated) isMode()      {}

// Hierarchical 分层模式：逐层执行，层内并发。每层只看到更低层的输出；
// 最后一层必须恰好一名成员，其回复即最终答案。
type Hierarchical struct {
	Layers [][]string
}

func (Hierarchical) Name() string { return "hierarchical" }
func (Hierarchical) isMode()      {}

// Debate 辩论模式：按注册顺序逐轮发言，每轮结束后对该轮回复打收敛分，
// 达到 ConvergenceThreshold 即提前结束。阈值为 0 表示不设阈值，跑满
// MaxRounds；MaxRounds 为 0 时默认 3 轮。
type Debate struct {
	MaxRounds            int
	ConvergenceThreshold float64
}

func (Debate) Name() string { return "debate" }
func (Debate) isMode()      {}

// Checklist 清单模式：引擎持有任务清单，智能体在回复中写入
// [TASK_COMPLETE:<id>] 标记完成项；全部完成或迭代耗尽时结束，
// 完成比例作为收敛分。MaxIterations 为 0 时默认 5 次。
type Checklist struct {
	Tasks         []types.Task
	MaxIterations int
}

func (Checklist) Name() string { return "checklist" }
func (Checklist) isMode()      {}

// DecentralizedPool 去中心化任务池：任务注入共享池，智能体通过工具路由
// 自主认领、完成或失败，认领冲突由存储层的原子 CAS 仲裁。池内任务全部
// 终结或迭代耗尽时结束，完成比例作为收敛分。
type DecentralizedPool struct {
	PoolID        string
	Tasks         []types.Task
	MaxIterations int
}

func (DecentralizedPool) Name() string { return "decentralized_pool" }
func (DecentralizedPool) isMode()      {}
