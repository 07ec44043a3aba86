package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"AgentHive/internal/directory"
	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
	"AgentHive/internal/memory"
	"AgentHive/internal/run"
	"AgentHive/internal/tools"
	"AgentHive/pkg/logger"
)

// toolsPreamble 连接人设与可用工具列表。
const toolsPreamble = "\n\nYou also have the following tools available:\n"

const (
	defaultCEOName = "CEO"
	defaultModel   = "gpt-4o-mini"
)

// Runner 启动并驱动运行，*run.Driver 实现了该接口。
type Runner interface {
	StartRun(ctx context.Context, threadID, agentID, input string) (llm.Run, error)
	DriveToCompletion(ctx context.Context, r llm.Run, threadID, receiverID string) (run.Outcome, error)
}

// Recorder 持久化消息，*memory.Archive 实现了该接口。
type Recorder interface {
	RecordMessage(ctx context.Context, record memory.MessageRecord) (memory.MessageRecord, error)
}

// Hive 管理根智能体及其组织。
type Hive struct {
	backend  llm.Backend
	dir      *directory.Directory
	registry *tools.Registry
	runner   Runner
	recorder Recorder

	model     string
	ceoName   string
	ceoPrompt string
	logger    *slog.Logger

	mu    sync.Mutex
	ceoID string
}

// Option 定义可选的 Hive 配置。
type Option func(*Hive)

// WithModel 设置新建助手使用的模型。
func WithModel(model string) Option {
	return func(h *Hive) {
		if strings.TrimSpace(model) != "" {
			h.model = model
		}
	}
}

// WithCEO 设置根智能体的名称与人设。
func WithCEO(name, prompt string) Option {
	return func(h *Hive) {
		if strings.TrimSpace(name) != "" {
			h.ceoName = name
		}
		if strings.TrimSpace(prompt) != "" {
			h.ceoPrompt = prompt
		}
	}
}

// New 创建 Hive。recorder 可以为空。
func New(backend llm.Backend, dir *directory.Directory, registry *tools.Registry, runner Runner, recorder Recorder, opts ...Option) *Hive {
	h := &Hive{
		backend:  backend,
		dir:      dir,
		registry: registry,
		runner:   runner,
		recorder: recorder,
		model:    defaultModel,
		ceoName:  defaultCEOName,
		logger:   logger.Named("hive"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Bootstrap 创建根智能体以及它与人类调用方之间的会话。重复调用返回已有的根智能体。
func (h *Hive) Bootstrap(ctx context.Context) (directory.Agent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ceoID != "" {
		entry, _ := h.dir.Get(h.ceoID)
		return entry.Agent, nil
	}

	agent, threadID, err := h.provision(ctx, h.ceoName, h.ceoPrompt)
	if err != nil {
		return directory.Agent{}, err
	}
	if err := h.dir.Register(agent, directory.UserID, threadID); err != nil {
		return directory.Agent{}, err
	}
	h.ceoID = agent.ID
	h.logger.Info("根智能体已就绪",
		slog.String("agent_id", agent.ID),
		slog.String("thread_id", threadID),
		slog.Int("tools", len(agent.ToolNames)),
	)
	return agent, nil
}

// Spawn 在 managerID 之下创建新的智能体，并以新会话作为双方频道。
func (h *Hive) Spawn(ctx context.Context, managerID, name, instructions string) (directory.Agent, error) {
	if _, ok := h.dir.Get(managerID); !ok {
		return directory.Agent{}, xerrors.Newf(xerrors.CodeNotFound, "Manager agent with ID %s not found", managerID)
	}
	agent, threadID, err := h.provision(ctx, name, instructions)
	if err != nil {
		return directory.Agent{}, err
	}
	if err := h.dir.AttachSubordinate(managerID, agent, threadID); err != nil {
		return directory.Agent{}, err
	}
	h.logger.Info("新智能体已加入",
		slog.String("agent_id", agent.ID),
		slog.String("name", name),
		slog.String("manager_id", managerID),
	)
	logger.Audit().Info("agent_spawned",
		slog.String("agent_id", agent.ID),
		slog.String("name", name),
		slog.String("manager_id", managerID),
	)
	return agent, nil
}

// CEO 返回根智能体 ID，未初始化时返回空字符串。
func (h *Hive) CEO() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ceoID
}

// Structure 渲染从根智能体开始的组织结构。
func (h *Hive) Structure() string {
	return h.dir.DescribeHierarchy(h.CEO())
}

// Chat 将人类输入交给根智能体处理并返回回复文本。非文本回复返回空字符串。
func (h *Hive) Chat(ctx context.Context, input string) (string, error) {
	ceoID := h.CEO()
	if ceoID == "" {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "根智能体尚未初始化")
	}
	threadID, ok := h.dir.Channel(ceoID, directory.UserID)
	if !ok {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "根智能体缺少用户会话")
	}

	msg, err := h.backend.AppendMessage(ctx, threadID, llm.RoleUser, input)
	if err != nil {
		return "", asBackendError(err, "写入用户消息失败")
	}
	if h.recorder != nil {
		_, err := h.recorder.RecordMessage(ctx, memory.MessageRecord{
			AssistantID: ceoID,
			SenderID:    directory.UserID,
			ReceiverID:  ceoID,
			ThreadID:    threadID,
			MessageID:   msg.ID,
			Content:     input,
			Role:        llm.RoleUser,
		})
		if err != nil {
			return "", err
		}
	}

	started, err := h.runner.StartRun(ctx, threadID, ceoID, input)
	if err != nil {
		return "", err
	}
	outcome, err := h.runner.DriveToCompletion(ctx, started, threadID, directory.UserID)
	if err != nil {
		return "", err
	}
	return outcome.Content, nil
}

// provision 在后端创建助手与会话。助手可使用注册表中的全部工具。
func (h *Hive) provision(ctx context.Context, name, instructions string) (directory.Agent, string, error) {
	names := h.registry.Names()
	assistant, err := h.backend.CreateAssistant(ctx, llm.AssistantSpec{
		Name:         name,
		Instructions: instructions + toolsPreamble + strings.Join(names, ", "),
		Model:        h.model,
		Tools:        h.registry.Definitions(),
	})
	if err != nil {
		return directory.Agent{}, "", asBackendError(err, "创建助手失败")
	}
	threadID, err := h.backend.CreateThread(ctx)
	if err != nil {
		return directory.Agent{}, "", asBackendError(err, "创建会话失败")
	}
	return directory.Agent{
		ID:           assistant.ID,
		Name:         name,
		Instructions: instructions,
		ToolNames:    names,
	}, threadID, nil
}

func asBackendError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeBackendFailure, err, message)
}
