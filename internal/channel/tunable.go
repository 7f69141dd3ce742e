// Package channel provides the self-tuning buffered queue behind the
// engine event bus. 发布端永不阻塞，队列按丢弃率与占用率自动伸缩。
package channel

import (
	"sync"
	"sync/atomic"
	"time"
)

// Config 队列伸缩参数。
type Config struct {
	// 初始容量
	Initial int `json:"initial"`

	// 收缩下限
	Min int `json:"min"`

	// 扩张上限
	Max int `json:"max"`

	// 扩张倍率
	GrowFactor float64 `json:"grow_factor"`

	// 收缩倍率
	ShrinkFactor float64 `json:"shrink_factor"`

	// 两次调整之间的最小采样窗口
	SampleWindow time.Duration `json:"sample_window"`
}

// DefaultConfig 返回事件总线使用的默认参数。
func DefaultConfig() Config {
	return Config{
		Initial:      256,
		Min:          64,
		Max:          4096,
		GrowFactor:   2.0,
		ShrinkFactor: 0.5,
		SampleWindow: 10 * time.Second,
	}
}

// Queue 动态容量的无阻塞队列。生产者通过 TryPush 投递，满时丢弃；
// 消费者在 select 中使用 Chan，每次循环重新取通道以跟上容量调整。
type Queue[T any] struct {
	config Config

	mu   sync.RWMutex
	ch   chan T
	size int

	pushes   atomic.Int64
	drops    atomic.Int64
	lastTune time.Time
}

// New 创建队列。非法参数回退到默认值。
func New[T any](config Config) *Queue[T] {
	def := DefaultConfig()
	if config.Initial <= 0 {
		config.Initial = def.Initial
	}
	if config.Min <= 0 {
		config.Min = def.Min
	}
	if config.Max < config.Min {
		config.Max = def.Max
	}
	if config.GrowFactor <= 1 {
		config.GrowFactor = def.GrowFactor
	}
	if config.ShrinkFactor <= 0 || config.ShrinkFactor >= 1 {
		config.ShrinkFactor = def.ShrinkFactor
	}
	if config.SampleWindow <= 0 {
		config.SampleWindow = def.SampleWindow
	}
	return &Queue[T]{
		config:   config,
		ch:       make(chan T, config.Initial),
		size:     config.Initial,
		lastTune: time.Now(),
	}
}

// TryPush 无阻塞投递。队列满时丢弃并返回 false。
// 读锁覆盖整个发送，调整容量时不会把元素留在被替换的旧通道里。
func (q *Queue[T]) TryPush(v T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	q.pushes.Add(1)
	select {
	case q.ch <- v:
		return true
	default:
		q.drops.Add(1)
		return false
	}
}

// Chan 返回当前底层通道供 select 使用。容量调整会替换通道，
// 调用方必须每次循环重新调用而不是缓存返回值。
func (q *Queue[T]) Chan() <-chan T {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.ch
}

// Len 当前排队元素数。
func (q *Queue[T]) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.ch)
}

// Cap 当前容量。
func (q *Queue[T]) Cap() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// Tune 根据上个窗口的丢弃率与占用率调整容量：
// 丢弃率超过 10% 时扩张，占用率低于 25% 且几乎无丢弃时收缩。
// 距上次调整不足 SampleWindow 时不动作。
func (q *Queue[T]) Tune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if time.Since(q.lastTune) < q.config.SampleWindow {
		return
	}

	drops := q.drops.Swap(0)
	pushes := q.pushes.Swap(0)
	if pushes == 0 {
		return
	}

	dropRate := float64(drops) / float64(pushes)
	utilization := float64(len(q.ch)) / float64(q.size)

	newSize := q.size
	if dropRate > 0.1 && q.size < q.config.Max {
		newSize = int(float64(q.size) * q.config.GrowFactor)
		if newSize > q.config.Max {
			newSize = q.config.Max
		}
	}
	if utilization < 0.25 && dropRate < 0.01 && q.size > q.config.Min {
		newSize = int(float64(q.size) * q.config.ShrinkFactor)
		if newSize < q.config.Min {
			newSize = q.config.Min
		}
	}

	if newSize != q.size {
		q.resize(newSize)
	}
	q.lastTune = time.Now()
}

// resize 换用新容量的通道并搬运积压元素。调用方持有写锁。
func (q *Queue[T]) resize(newSize int) {
	newCh := make(chan T, newSize)
	for {
		select {
		case v := <-q.ch:
			select {
			case newCh <- v:
			default:
				// 新通道装不下剩余积压，放弃本次调整
				return
			}
		default:
			q.ch = newCh
			q.size = newSize
			return
		}
	}
}

// Stats 队列统计。
type Stats struct {
	Capacity    int     `json:"capacity"`
	Length      int     `json:"length"`
	Pushes      int64   `json:"pushes"`
	Drops       int64   `json:"drops"`
	Utilization float64 `json:"utilization"`
}

// GetStats 返回自上次 Tune 以来的统计快照。
func (q *Queue[T]) GetStats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Stats{
		Capacity:    q.size,
		Length:      len(q.ch),
		Pushes:      q.pushes.Load(),
		Drops:       q.drops.Load(),
		Utilization: float64(len(q.ch)) / float64(q.size),
	}
}
