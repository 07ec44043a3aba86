package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AgentHive/internal/errors"
)

// MemoryStore 以内存方式保存记录，进程退出后数据丢失。
type MemoryStore struct {
	mu         sync.RWMutex
	messages   []MessageRecord
	executions []ToolExecutionRecord
}

var (
	_ Store    = (*MemoryStore)(nil)
	_ Searcher = (*MemoryStore)(nil)
)

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveMessage 实现 Store 接口。
func (m *MemoryStore) SaveMessage(_ context.Context, record *MessageRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "message 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = uuid.NewString()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	m.messages = append(m.messages, cloneMessage(*record))
	return nil
}

// SaveToolExecution 实现 Store 接口。
func (m *MemoryStore) SaveToolExecution(_ context.Context, record *ToolExecutionRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool execution 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = uuid.NewString()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	m.executions = append(m.executions, cloneExecution(*record))
	return nil
}

// SimilarMessages 实现 Searcher 接口。
func (m *MemoryStore) SimilarMessages(ctx context.Context, vector []float64, threshold float64, limit int) ([]MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ranked := Rank(m.messages, func(r MessageRecord) []float64 { return r.Embedding }, vector, threshold, limit)
	for i := range ranked {
		ranked[i] = cloneMessage(ranked[i])
	}
	return ranked, nil
}

// SimilarToolExecutions 实现 Searcher 接口。
func (m *MemoryStore) SimilarToolExecutions(ctx context.Context, vector []float64, threshold float64, limit int) ([]ToolExecutionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ranked := Rank(m.executions, func(r ToolExecutionRecord) []float64 { return r.Embedding }, vector, threshold, limit)
	for i := range ranked {
		ranked[i] = cloneExecution(ranked[i])
	}
	return ranked, nil
}

// Messages 返回全部消息记录，按写入顺序。
func (m *MemoryStore) Messages() []MessageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MessageRecord, 0, len(m.messages))
	for _, rec := range m.messages {
		out = append(out, cloneMessage(rec))
	}
	return out
}

// ToolExecutions 返回全部工具执行记录，按写入顺序。
func (m *MemoryStore) ToolExecutions() []ToolExecutionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ToolExecutionRecord, 0, len(m.executions))
	for _, rec := range m.executions {
		out = append(out, cloneExecution(rec))
	}
	return out
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func cloneMessage(rec MessageRecord) MessageRecord {
	rec.ToolCalls = append(rec.ToolCalls[:0:0], rec.ToolCalls...)
	rec.Embedding = append(rec.Embedding[:0:0], rec.Embedding...)
	return rec
}

func cloneExecution(rec ToolExecutionRecord) ToolExecutionRecord {
	if rec.InputArgs != nil {
		args := make(map[string]any, len(rec.InputArgs))
		for k, v := range rec.InputArgs {
			args[k] = v
		}
		rec.InputArgs = args
	}
	rec.Embedding = append(rec.Embedding[:0:0], rec.Embedding...)
	return rec
}
