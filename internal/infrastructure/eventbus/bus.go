// Package eventbus 提供进程内的任务进度事件分发
package eventbus

import (
	"sync"

	"omnigen-api/internal/domain/entity"
	"omnigen-api/pkg/metrics"
)

// Subscription 一个订阅者持有的有界事件通道
type Subscription struct {
	ch   chan *entity.ProgressEvent
	mu   sync.Mutex
	done bool
}

// Events 返回只读事件通道
func (s *Subscription) Events() <-chan *entity.ProgressEvent {
	return s.ch
}

// deliver 投递事件，通道满时丢弃最旧事件给新事件让位
// 慢订阅者只影响自己，永远不会阻塞发布方
func (s *Subscription) deliver(event *entity.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		select {
		case <-s.ch:
			metrics.EventsDroppedTotal.Inc()
		default:
		}
	}
}

// close 关闭订阅通道，之后的投递被静默丢弃
func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
}

// Bus 进度事件总线
// 事件投递是尽力而为的 at-most-once：总线不持久化、不重放
// 同一任务的事件由单一发布协程产出，订阅者观察到的单任务事件保持有序
type Bus struct {
	mu       sync.RWMutex
	buffer   int
	userSubs map[string]map[*Subscription]struct{}
	allSubs  map[*Subscription]struct{}
}

// NewBus 创建事件总线，buffer 为每个订阅者的通道容量
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		buffer:   buffer,
		userSubs: make(map[string]map[*Subscription]struct{}),
		allSubs:  make(map[*Subscription]struct{}),
	}
}

func userKey(tenantID, userID string) string {
	return tenantID + "|" + userID
}

// Subscribe 订阅某租户某用户的事件
func (b *Bus) Subscribe(tenantID, userID string) *Subscription {
	sub := &Subscription{ch: make(chan *entity.ProgressEvent, b.buffer)}
	key := userKey(tenantID, userID)

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.userSubs[key]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.userSubs[key] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// SubscribeAll 订阅全量事件（管控面消费，如审计镜像）
func (b *Bus) SubscribeAll() *Subscription {
	sub := &Subscription{ch: make(chan *entity.ProgressEvent, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs[sub] = struct{}{}
	return sub
}

// Unsubscribe 取消订阅并关闭其通道
func (b *Bus) Unsubscribe(tenantID, userID string, sub *Subscription) {
	key := userKey(tenantID, userID)

	b.mu.Lock()
	if subs, ok := b.userSubs[key]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.userSubs, key)
		}
	}
	delete(b.allSubs, sub)
	b.mu.Unlock()

	sub.close()
}

// Publish 向匹配的订阅者投递事件
func (b *Bus) Publish(event *entity.ProgressEvent) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, 4)
	if subs, ok := b.userSubs[userKey(event.TenantID, event.UserID)]; ok {
		for sub := range subs {
			targets = append(targets, sub)
		}
	}
	for sub := range b.allSubs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(event)
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(event.State)).Inc()
}
