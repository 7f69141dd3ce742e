package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_SubscribeAndPublish(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	sink := &recordingSink{}
	bus.Subscribe(EventRoundStarted, sink.handler())

	bus.Publish(Event{Type: EventRoundStarted, RunID: "r1", Round: 1})
	bus.Publish(Event{Type: EventTaskClaimed, RunID: "r1", TaskID: "t1"})

	require.Eventually(t, func() bool {
		return sink.count(EventRoundStarted) == 1
	}, eventWait, eventTick)

	events := sink.snapshot()
	require.Len(t, events, 1, "未订阅的类型收不到")
	assert.Equal(t, "r1", events[0].RunID)
	assert.False(t, events[0].Timestamp.IsZero(), "发布时补时间戳")
}

func TestEventBus_WildcardSeesEverything(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	all := &recordingSink{}
	bus.Subscribe(EventAll, all.handler())

	published := []EventType{EventRoundStarted, EventTaskClaimed, EventTaskCompleted, EventRoundCompleted}
	for _, typ := range published {
		bus.Publish(Event{Type: typ})
	}

	require.Eventually(t, func() bool {
		return len(all.snapshot()) == len(published)
	}, eventWait, eventTick)

	// 同一订阅者看到的顺序与发布顺序一致
	for i, ev := range all.snapshot() {
		assert.Equal(t, published[i], ev.Type, "position %d", i)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	kept := &recordingSink{}
	dropped := &recordingSink{}
	bus.Subscribe(EventTaskCompleted, kept.handler())
	subID := bus.Subscribe(EventTaskCompleted, dropped.handler())

	bus.Unsubscribe(subID)
	bus.Publish(Event{Type: EventTaskCompleted, TaskID: "t1"})

	require.Eventually(t, func() bool {
		return kept.count(EventTaskCompleted) == 1
	}, eventWait, eventTick)
	assert.Zero(t, dropped.count(EventTaskCompleted), "退订后不再收到")
}

// TestEventBus_PanickingHandlerIsolated 处理器崩溃不影响其他订阅者，
// 也不杀死派发协程。
func TestEventBus_PanickingHandlerIsolated(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	bus.Subscribe(EventTaskFailed, func(Event) { panic("handler bug") })
	sink := &recordingSink{}
	bus.Subscribe(EventTaskFailed, sink.handler())

	bus.Publish(Event{Type: EventTaskFailed})
	bus.Publish(Event{Type: EventTaskFailed})

	require.Eventually(t, func() bool {
		return sink.count(EventTaskFailed) == 2
	}, eventWait, eventTick)
}

func TestEventBus_StopIsIdempotent(t *testing.T) {
	bus := NewEventBus()
	bus.Stop()
	bus.Stop()

	// 已停止的总线丢弃发布，不阻塞也不崩溃
	bus.Publish(Event{Type: EventRoundStarted})
}

func TestEventBus_PublishNeverBlocks(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	block := make(chan struct{})
	bus.Subscribe(EventRoundStarted, func(Event) { <-block })

	// 270 条超出 256 的缓冲，发布端仍然立刻返回
	for i := 0; i < 270; i++ {
		bus.Publish(Event{Type: EventRoundStarted, Round: i})
	}
	close(block)
}
