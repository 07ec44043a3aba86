package memory

import (
	"context"
	"log/slog"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/events"
	"AgentHive/internal/llm"
	"AgentHive/pkg/logger"
)

// Archive 负责为记录生成向量、持久化并发布事件。
type Archive struct {
	store     Store
	embedder  llm.Embedder
	publisher events.Publisher
	logger    *slog.Logger
}

// ArchiveOption 定义 Archive 的可选配置。
type ArchiveOption func(*Archive)

// WithPublisher 设置记录写入后的事件发布器。
func WithPublisher(p events.Publisher) ArchiveOption {
	return func(a *Archive) {
		if p != nil {
			a.publisher = p
		}
	}
}

// WithLogger 覆盖默认日志。
func WithLogger(l *slog.Logger) ArchiveOption {
	return func(a *Archive) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewArchive 创建 Archive。
func NewArchive(store Store, embedder llm.Embedder, opts ...ArchiveOption) *Archive {
	a := &Archive{
		store:     store,
		embedder:  embedder,
		publisher: events.Nop{},
		logger:    logger.Named("memory"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RecordMessage 为消息内容生成向量并写入存储。
func (a *Archive) RecordMessage(ctx context.Context, record MessageRecord) (MessageRecord, error) {
	if a == nil || a.store == nil || a.embedder == nil {
		return record, xerrors.New(xerrors.CodeInitializationFailure, "archive 未初始化")
	}
	vector, err := a.embedder.Embed(ctx, record.Content)
	if err != nil {
		return record, asBackendError(err, "生成消息向量失败")
	}
	record.Embedding = vector
	if err := a.store.SaveMessage(ctx, &record); err != nil {
		return record, asStorageError(err, "保存消息失败")
	}

	a.logger.Debug("消息已存储",
		slog.String("record_id", record.ID),
		slog.String("thread_id", record.ThreadID),
		slog.String("role", string(record.Role)),
		slog.Int("content_length", len(record.Content)),
	)

	payload := record
	payload.Embedding = nil
	a.publish(ctx, events.Event{
		Kind:       events.KindMessageStored,
		ID:         record.ID,
		ThreadID:   record.ThreadID,
		RunID:      record.RunID,
		OccurredAt: record.CreatedAt,
		Payload:    payload,
	})
	return record, nil
}

// RecordToolExecution 为工具执行生成向量并写入存储。
func (a *Archive) RecordToolExecution(ctx context.Context, record ToolExecutionRecord) (ToolExecutionRecord, error) {
	if a == nil || a.store == nil || a.embedder == nil {
		return record, xerrors.New(xerrors.CodeInitializationFailure, "archive 未初始化")
	}
	text, err := record.EmbeddingText()
	if err != nil {
		return record, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化工具执行失败")
	}
	vector, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return record, asBackendError(err, "生成工具执行向量失败")
	}
	record.Embedding = vector
	if err := a.store.SaveToolExecution(ctx, &record); err != nil {
		return record, asStorageError(err, "保存工具执行失败")
	}

	logger.Audit().Info("tool_execution",
		slog.String("record_id", record.ID),
		slog.String("thread_id", record.ThreadID),
		slog.String("run_id", record.RunID),
		slog.String("tool", record.ToolName),
		slog.String("status", string(record.Status)),
		slog.String("error", record.ErrorMessage),
	)

	payload := record
	payload.Embedding = nil
	a.publish(ctx, events.Event{
		Kind:       events.KindToolExecutionStored,
		ID:         record.ID,
		ThreadID:   record.ThreadID,
		RunID:      record.RunID,
		OccurredAt: record.CreatedAt,
		Payload:    payload,
	})
	return record, nil
}

func (a *Archive) publish(ctx context.Context, event events.Event) {
	if err := a.publisher.Publish(ctx, event); err != nil {
		a.logger.Warn("发布记录事件失败",
			slog.String("kind", string(event.Kind)),
			slog.String("record_id", event.ID),
			slog.Any("error", err),
		)
	}
}

func asBackendError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeBackendFailure, err, message)
}

func asStorageError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
