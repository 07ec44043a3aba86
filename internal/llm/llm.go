package llm

import "context"

// RunStatus 表示后端运行的生命周期状态。
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusIncomplete     RunStatus = "incomplete"
	RunStatusExpired        RunStatus = "expired"
)

// Pending 判断运行是否仍在排队或执行中，需要继续轮询。
func (s RunStatus) Pending() bool {
	return s == RunStatusQueued || s == RunStatusInProgress
}

// Role 表示会话消息的发送方角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ListOrder 控制消息列表的排序方向。
type ListOrder string

const (
	OrderAsc  ListOrder = "asc"
	OrderDesc ListOrder = "desc"
)

// ToolCall 是运行在 requires_action 状态下请求执行的一次工具调用。
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolOutput 是对单个 ToolCall 的应答。
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// Run 是后端一次运行的快照。
type Run struct {
	ID          string
	ThreadID    string
	AssistantID string
	Status      RunStatus
	ToolCalls   []ToolCall
	LastError   string
}

// Message 是会话中的一条消息，仅保留首个内容块。
type Message struct {
	ID          string
	ThreadID    string
	RunID       string
	AssistantID string
	Role        Role
	Content     string
	// Text 为 false 时表示首个内容块不是文本，Content 为空。
	Text bool
}

// ToolDefinition 描述暴露给助手的函数工具。
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// AssistantSpec 是创建助手所需的参数。
type AssistantSpec struct {
	Name         string
	Instructions string
	Model        string
	Tools        []ToolDefinition
}

// Assistant 是后端创建出的助手。
type Assistant struct {
	ID   string
	Name string
}

// Backend 定义了托管式助手执行后端的全部能力。
type Backend interface {
	CreateAssistant(ctx context.Context, spec AssistantSpec) (Assistant, error)
	CreateThread(ctx context.Context) (string, error)
	CreateRun(ctx context.Context, threadID, assistantID, extraInstructions string) (Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error)
	AppendMessage(ctx context.Context, threadID string, role Role, content string) (Message, error)
	ListMessages(ctx context.Context, threadID string, order ListOrder, limit int) ([]Message, error)
}

// Embedder 将文本转换为向量。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbedderFunc 允许直接使用函数实现 Embedder。
type EmbedderFunc func(ctx context.Context, text string) ([]float64, error)

// Embed 实现 Embedder。
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float64, error) {
	return f(ctx, text)
}
