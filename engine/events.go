package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/internal/channel"
)

// EventType 运行事件类型
type EventType string

const (
	EventRoundStarted   EventType = "round_started"
	EventRoundCompleted EventType = "round_completed"
	EventTaskClaimed    EventType = "task_claimed"
	EventTaskCompleted  EventType = "task_completed"
	EventTaskFailed     EventType = "task_failed"
)

// EventAll 通配订阅，接收所有类型的事件。
const EventAll EventType = "*"

// Event 运行过程中发布的事件。
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Round     int       `json:"round,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler 事件处理器
type EventHandler func(Event)

// subscriptionCounter 用于生成唯一订阅 ID，避免并发碰撞
var subscriptionCounter int64

// EventBus 运行事件总线。发布端从不阻塞，队列满时丢弃事件，
// 队列容量随负载自动伸缩；单个派发协程顺序调用处理器，
// 同一订阅者看到的顺序与发布顺序一致。
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]EventHandler
	events   *channel.Queue[Event]
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// NewEventBus 创建并启动事件总线。
func NewEventBus(logger ...*zap.Logger) *EventBus {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	bus := &EventBus{
		handlers: make(map[EventType]map[string]EventHandler),
		events:   channel.New[Event](channel.DefaultConfig()),
		done:     make(chan struct{}),
		logger:   l,
	}
	go bus.dispatch()
	return bus
}

// Publish 发布事件。总线停止后发布是空操作。
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case <-b.done:
		return
	default:
	}
	if !b.events.TryPush(event) {
		b.logger.Debug("event queue full, dropping event",
			zap.String("type", string(event.Type)))
	}
}

// Subscribe 订阅某一类型的事件，EventAll 表示全部。返回订阅 ID。
func (b *EventBus) Subscribe(eventType EventType, handler EventHandler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]EventHandler)
	}

	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe 取消订阅。
func (b *EventBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}

// dispatch 处理事件队列，按采样窗口周期调整队列容量。
func (b *EventBus) dispatch() {
	tune := time.NewTicker(channel.DefaultConfig().SampleWindow)
	defer tune.Stop()

	for {
		select {
		case event := <-b.events.Chan():
			b.mu.RLock()
			handlers := make([]EventHandler, 0, len(b.handlers[event.Type])+len(b.handlers[EventAll]))
			for _, h := range b.handlers[event.Type] {
				handlers = append(handlers, h)
			}
			for _, h := range b.handlers[EventAll] {
				handlers = append(handlers, h)
			}
			b.mu.RUnlock()

			for _, handler := range handlers {
				b.invoke(handler, event)
			}
		case <-tune.C:
			b.events.Tune()
		case <-b.done:
			return
		}
	}
}

func (b *EventBus) invoke(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", zap.Any("recover", r))
		}
	}()
	handler(event)
}

// Stop 停止派发。已发布但尚未派发的事件被丢弃。
func (b *EventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}
