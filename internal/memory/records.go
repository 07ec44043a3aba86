package memory

import (
	"encoding/json"
	"time"

	"AgentHive/internal/llm"
)

// ExecutionStatus 表示工具执行结果。
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusError   ExecutionStatus = "error"
)

// MessageRecord 是一条被持久化的会话消息。
type MessageRecord struct {
	ID          string         `json:"id"`
	AssistantID string         `json:"assistant_id,omitempty"`
	SenderID    string         `json:"sender_id,omitempty"`
	ReceiverID  string         `json:"receiver_id,omitempty"`
	ThreadID    string         `json:"thread_id"`
	RunID       string         `json:"run_id,omitempty"`
	MessageID   string         `json:"message_id,omitempty"`
	Content     string         `json:"content"`
	Role        llm.Role       `json:"role"`
	ToolCalls   []llm.ToolCall `json:"tool_calls,omitempty"`
	Embedding   []float64      `json:"embedding,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ToolExecutionRecord 是一次工具调用的审计记录。
type ToolExecutionRecord struct {
	ID           string          `json:"id"`
	ThreadID     string          `json:"thread_id"`
	RunID        string          `json:"run_id"`
	MessageID    string          `json:"message_id,omitempty"`
	ToolName     string          `json:"tool_name"`
	InputArgs    map[string]any  `json:"input_args"`
	Output       any             `json:"output"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Embedding    []float64       `json:"embedding,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// EmbeddingText 返回用于生成向量的文本，即 {"tool","input","output"} 的 JSON。
func (r ToolExecutionRecord) EmbeddingText() (string, error) {
	payload := struct {
		Tool   string         `json:"tool"`
		Input  map[string]any `json:"input"`
		Output any            `json:"output"`
	}{
		Tool:   r.ToolName,
		Input:  r.InputArgs,
		Output: r.Output,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
