package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
	"AgentHive/internal/memory"
)

const defaultScanWindow = 2000

// Store 使用 MySQL 保存消息与工具执行记录。
type Store struct {
	db         *sql.DB
	scanWindow int
	now        func() time.Time
}

var (
	_ memory.Store    = (*Store)(nil)
	_ memory.Searcher = (*Store)(nil)
)

// NewStore 建立连接池并执行内置迁移。
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 MySQL 存储失败")
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行 MySQL 迁移失败")
	}
	return newStoreWithDB(db, cfg.ScanWindow), nil
}

func newStoreWithDB(db *sql.DB, scanWindow int) *Store {
	if scanWindow <= 0 {
		scanWindow = defaultScanWindow
	}
	return &Store{db: db, scanWindow: scanWindow, now: time.Now}
}

const insertMessageSQL = `INSERT INTO messages
    (id, assistant_id, sender_id, receiver_id, thread_id, run_id, message_id, content, role, tool_calls, embedding, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SaveMessage 实现 memory.Store。
func (s *Store) SaveMessage(ctx context.Context, record *memory.MessageRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "message 不能为空")
	}
	toolCalls, err := encodeJSON(record.ToolCalls)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 tool_calls 失败")
	}
	embedding, err := encodeJSON(record.Embedding)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 embedding 失败")
	}

	id := uuid.NewString()
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, insertMessageSQL,
		id,
		record.AssistantID,
		record.SenderID,
		record.ReceiverID,
		record.ThreadID,
		record.RunID,
		record.MessageID,
		record.Content,
		string(record.Role),
		toolCalls,
		embedding,
		createdAt.UnixMilli(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 messages 失败")
	}
	record.ID = id
	record.CreatedAt = createdAt
	return nil
}

const insertToolExecutionSQL = `INSERT INTO tool_executions
    (id, thread_id, run_id, message_id, tool_name, input_args, output, status, error_message, embedding, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SaveToolExecution 实现 memory.Store。
func (s *Store) SaveToolExecution(ctx context.Context, record *memory.ToolExecutionRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool execution 不能为空")
	}
	input, err := encodeJSON(record.InputArgs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 input_args 失败")
	}
	output, err := encodeJSON(record.Output)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 output 失败")
	}
	embedding, err := encodeJSON(record.Embedding)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 embedding 失败")
	}

	id := uuid.NewString()
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, insertToolExecutionSQL,
		id,
		record.ThreadID,
		record.RunID,
		record.MessageID,
		record.ToolName,
		input,
		output,
		string(record.Status),
		nullString(record.ErrorMessage),
		embedding,
		createdAt.UnixMilli(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 tool_executions 失败")
	}
	record.ID = id
	record.CreatedAt = createdAt
	return nil
}

const selectMessagesSQL = `SELECT id, assistant_id, sender_id, receiver_id, thread_id, run_id, message_id, content, role, tool_calls, embedding, created_at
    FROM messages WHERE embedding IS NOT NULL ORDER BY created_at DESC, id DESC LIMIT ?`

// SimilarMessages 实现 memory.Searcher。
func (s *Store) SimilarMessages(ctx context.Context, vector []float64, threshold float64, limit int) ([]memory.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectMessagesSQL, s.scanWindow)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 messages 失败")
	}
	defer rows.Close()

	var candidates []memory.MessageRecord
	for rows.Next() {
		var (
			rec       memory.MessageRecord
			role      string
			toolCalls sql.NullString
			embedding sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.AssistantID, &rec.SenderID, &rec.ReceiverID, &rec.ThreadID, &rec.RunID, &rec.MessageID, &rec.Content, &role, &toolCalls, &embedding, &createdAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 messages 失败")
		}
		rec.Role = llm.Role(role)
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := decodeJSON(toolCalls, &rec.ToolCalls); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析消息 %s 的 tool_calls 失败", rec.ID))
		}
		if err := decodeJSON(embedding, &rec.Embedding); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析消息 %s 的 embedding 失败", rec.ID))
		}
		candidates = append(candidates, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 messages 失败")
	}

	return memory.Rank(candidates, func(r memory.MessageRecord) []float64 { return r.Embedding }, vector, threshold, limit), nil
}

const selectToolExecutionsSQL = `SELECT id, thread_id, run_id, message_id, tool_name, input_args, output, status, error_message, embedding, created_at
    FROM tool_executions WHERE embedding IS NOT NULL ORDER BY created_at DESC, id DESC LIMIT ?`

// SimilarToolExecutions 实现 memory.Searcher。
func (s *Store) SimilarToolExecutions(ctx context.Context, vector []float64, threshold float64, limit int) ([]memory.ToolExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectToolExecutionsSQL, s.scanWindow)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 tool_executions 失败")
	}
	defer rows.Close()

	var candidates []memory.ToolExecutionRecord
	for rows.Next() {
		var (
			rec       memory.ToolExecutionRecord
			status    string
			input     sql.NullString
			output    sql.NullString
			errMsg    sql.NullString
			embedding sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.ThreadID, &rec.RunID, &rec.MessageID, &rec.ToolName, &input, &output, &status, &errMsg, &embedding, &createdAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 tool_executions 失败")
		}
		rec.Status = memory.ExecutionStatus(status)
		rec.ErrorMessage = errMsg.String
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := decodeJSON(input, &rec.InputArgs); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析工具执行 %s 的 input_args 失败", rec.ID))
		}
		if err := decodeJSON(output, &rec.Output); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析工具执行 %s 的 output 失败", rec.ID))
		}
		if err := decodeJSON(embedding, &rec.Embedding); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析工具执行 %s 的 embedding 失败", rec.ID))
		}
		candidates = append(candidates, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 tool_executions 失败")
	}

	return memory.Rank(candidates, func(r memory.ToolExecutionRecord) []float64 { return r.Embedding }, vector, threshold, limit), nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeJSON(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(encoded) == "null" {
		return nil, nil
	}
	return string(encoded), nil
}

func decodeJSON(raw sql.NullString, target any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), target)
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
