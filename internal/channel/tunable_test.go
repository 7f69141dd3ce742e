package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQueue_PushAndDrain 测试投递与消费保持顺序
func TestQueue_PushAndDrain(t *testing.T) {
	q := New[int](DefaultConfig())

	for i := 0; i < 5; i++ {
		assert.True(t, q.TryPush(i))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		select {
		case v := <-q.Chan():
			assert.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatal("queue should deliver buffered values")
		}
	}
	assert.Equal(t, 0, q.Len())
}

// TestQueue_DropsWhenFull 测试队列满时丢弃而不是阻塞
func TestQueue_DropsWhenFull(t *testing.T) {
	q := New[string](Config{Initial: 2, Min: 2, Max: 2, SampleWindow: time.Hour})

	assert.True(t, q.TryPush("a"))
	assert.True(t, q.TryPush("b"))
	assert.False(t, q.TryPush("c"))

	stats := q.GetStats()
	assert.Equal(t, int64(3), stats.Pushes)
	assert.Equal(t, int64(1), stats.Drops)
	assert.Equal(t, 2, stats.Length)
}

// TestQueue_TuneGrowsUnderPressure 测试高丢弃率触发扩容
func TestQueue_TuneGrowsUnderPressure(t *testing.T) {
	q := New[int](Config{Initial: 2, Min: 2, Max: 8, GrowFactor: 2.0, ShrinkFactor: 0.5, SampleWindow: time.Millisecond})

	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	require.False(t, q.TryPush(3))

	time.Sleep(5 * time.Millisecond)
	q.Tune()

	assert.Equal(t, 4, q.Cap())
	// 积压元素搬到了新通道
	assert.Equal(t, 2, q.Len())
	v := <-q.Chan()
	assert.Equal(t, 1, v)
}

// TestQueue_TuneShrinksWhenIdle 测试低占用率触发缩容
func TestQueue_TuneShrinksWhenIdle(t *testing.T) {
	q := New[int](Config{Initial: 64, Min: 16, Max: 256, GrowFactor: 2.0, ShrinkFactor: 0.5, SampleWindow: time.Millisecond})

	require.True(t, q.TryPush(42))
	v := <-q.Chan()
	require.Equal(t, 42, v)

	time.Sleep(5 * time.Millisecond)
	q.Tune()

	assert.Equal(t, 32, q.Cap())
}

// TestQueue_TuneRespectsSampleWindow 测试采样窗口内不重复调整
func TestQueue_TuneRespectsSampleWindow(t *testing.T) {
	q := New[int](Config{Initial: 2, Min: 2, Max: 8, GrowFactor: 2.0, ShrinkFactor: 0.5, SampleWindow: time.Hour})

	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	require.False(t, q.TryPush(3))

	q.Tune()
	assert.Equal(t, 2, q.Cap())
}

// TestQueue_TuneNoTrafficNoChange 测试无流量时容量不变
func TestQueue_TuneNoTrafficNoChange(t *testing.T) {
	q := New[int](Config{Initial: 64, Min: 16, Max: 256, GrowFactor: 2.0, ShrinkFactor: 0.5, SampleWindow: time.Millisecond})

	time.Sleep(5 * time.Millisecond)
	q.Tune()

	assert.Equal(t, 64, q.Cap())
}

// TestNew_InvalidConfigFallsBack 测试非法参数回退默认值
func TestNew_InvalidConfigFallsBack(t *testing.T) {
	q := New[int](Config{Initial: -1, Min: 0, Max: -5, GrowFactor: 0.5, ShrinkFactor: 2})

	def := DefaultConfig()
	assert.Equal(t, def.Initial, q.Cap())
	assert.Equal(t, def.Min, q.config.Min)
	assert.Equal(t, def.Max, q.config.Max)
	assert.Equal(t, def.GrowFactor, q.config.GrowFactor)
	assert.Equal(t, def.ShrinkFactor, q.config.ShrinkFactor)
}
