// Package events publishes notifications about records appended to the
// agent memory so that external consumers (indexers, dashboards, audit
// pipelines) can follow the organisation's activity.
package events

import (
	"context"
	"sync"
	"time"
)

// Kind 表示事件类型。
type Kind string

const (
	KindMessageStored       Kind = "message.stored"
	KindToolExecutionStored Kind = "tool_execution.stored"
)

// Event 描述一条已持久化的记录。
type Event struct {
	Kind       Kind      `json:"kind"`
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// Publisher 定义事件发布能力。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 实现 Publisher。
func (Nop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (Nop) Close() error { return nil }

// Recorder 在内存中保存事件，便于调试与测试。
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish 实现 Publisher。
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events 返回已记录事件的副本。
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Close 实现 Publisher。
func (r *Recorder) Close() error { return nil }
