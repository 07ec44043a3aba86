// Package run drives assistant runs from creation to a terminal state:
// memory context injection, status polling, tool-call resolution and
// persistence of the final reply.
package run

import (
	"context"
	"log/slog"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
	"AgentHive/internal/memory"
	"AgentHive/internal/observability/metrics"
	"AgentHive/pkg/logger"
)

// NoResponse 是会话中没有任何消息时返回的文本。
const NoResponse = "No response from assistant"

// DefaultReceiver 是未指定接收方时回复记录的 receiver。
const DefaultReceiver = "USER"

// Resolver 执行 requires_action 状态下的工具调用。
type Resolver interface {
	ResolveToolCalls(ctx context.Context, run llm.Run, threadID string) (llm.Run, error)
}

// ContextSource 为运行提供记忆上下文。
type ContextSource interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Recorder 持久化消息，*memory.Archive 实现了该接口。
type Recorder interface {
	RecordMessage(ctx context.Context, record memory.MessageRecord) (memory.MessageRecord, error)
}

// Outcome 是一次运行的最终结果。
type Outcome struct {
	Content string
	// Text 为 false 表示最新消息不是文本，Content 为空。
	Text bool
	// Failed 表示运行以 failed 结束，Content 为合成的错误提示。
	Failed    bool
	MessageID string
	Run       llm.Run
}

// Driver 负责启动运行并驱动其到达终态。
type Driver struct {
	backend  llm.Backend
	resolver Resolver
	context  ContextSource
	recorder Recorder
	policy   PollPolicy
	logger   *slog.Logger
}

// NewDriver 创建 Driver。contextSource 与 recorder 可以为空。
func NewDriver(backend llm.Backend, resolver Resolver, contextSource ContextSource, recorder Recorder, policy PollPolicy) *Driver {
	return &Driver{
		backend:  backend,
		resolver: resolver,
		context:  contextSource,
		recorder: recorder,
		policy:   policy.normalized(),
		logger:   logger.Named("run"),
	}
}

// Instructions 返回附加到运行上的额外指令。
func Instructions(agentID, memoryContext string) string {
	return "Your assistantId is " + agentID + ".\n\n---\n\n" +
		"Use the following context from your memory to provide a more accurate response to the message.\n\n" +
		memoryContext
}

// StartRun 以 agentID 的身份在 threadID 上创建运行，并等待其离开排队与执行状态。
func (d *Driver) StartRun(ctx context.Context, threadID, agentID, input string) (llm.Run, error) {
	var memoryContext string
	if d.context != nil {
		retrieved, err := d.context.Retrieve(ctx, input)
		if err != nil {
			return llm.Run{}, err
		}
		memoryContext = retrieved
	}

	run, err := d.backend.CreateRun(ctx, threadID, agentID, Instructions(agentID, memoryContext))
	if err != nil {
		return llm.Run{}, asBackendError(err, "创建运行失败")
	}
	d.logger.Debug("运行已创建",
		slog.String("run_id", run.ID),
		slog.String("thread_id", threadID),
		slog.String("agent_id", agentID),
	)
	return d.poll(ctx, threadID, run)
}

// DriveToCompletion 循环处理工具调用直到运行结束，并返回最终结果。
// failed 状态会被转换为助手消息，不作为错误返回。
func (d *Driver) DriveToCompletion(ctx context.Context, run llm.Run, threadID, receiverID string) (Outcome, error) {
	var err error
	for run.Status == llm.RunStatusRequiresAction {
		run, err = d.resolver.ResolveToolCalls(ctx, run, threadID)
		if err != nil {
			return Outcome{Run: run}, err
		}
		run, err = d.poll(ctx, threadID, run)
		if err != nil {
			return Outcome{Run: run}, err
		}
	}

	log := d.logger.With(
		slog.String("run_id", run.ID),
		slog.String("thread_id", threadID),
		slog.String("status", string(run.Status)),
	)
	logger.Audit().Info("run_finished",
		slog.String("run_id", run.ID),
		slog.String("thread_id", threadID),
		slog.String("agent_id", run.AssistantID),
		slog.String("status", string(run.Status)),
	)
	metrics.ObserveRun(string(run.Status))

	if run.Status == llm.RunStatusFailed {
		reason := run.LastError
		if reason == "" {
			reason = "Unknown error"
		}
		text := "I encountered an error: " + reason
		log.Warn("运行失败", slog.String("error", reason))
		msg, err := d.backend.AppendMessage(ctx, threadID, llm.RoleAssistant, text)
		if err != nil {
			return Outcome{Run: run}, asBackendError(err, "写入错误消息失败")
		}
		return Outcome{Content: text, Text: true, Failed: true, MessageID: msg.ID, Run: run}, nil
	}

	messages, err := d.backend.ListMessages(ctx, threadID, llm.OrderDesc, 1)
	if err != nil {
		return Outcome{Run: run}, asBackendError(err, "读取最新消息失败")
	}
	if len(messages) == 0 {
		log.Warn("会话中没有消息")
		return Outcome{Content: NoResponse, Text: true, Run: run}, nil
	}

	latest := messages[0]
	if !latest.Text {
		log.Info("最新消息不是文本", slog.String("message_id", latest.ID))
		return Outcome{Text: false, MessageID: latest.ID, Run: run}, nil
	}

	if receiverID == "" {
		receiverID = DefaultReceiver
	}
	if d.recorder != nil {
		_, err := d.recorder.RecordMessage(ctx, memory.MessageRecord{
			AssistantID: run.AssistantID,
			SenderID:    run.AssistantID,
			ReceiverID:  receiverID,
			ThreadID:    threadID,
			RunID:       run.ID,
			MessageID:   latest.ID,
			Content:     latest.Content,
			Role:        llm.RoleAssistant,
		})
		if err != nil {
			return Outcome{Run: run}, err
		}
	}
	return Outcome{Content: latest.Content, Text: true, MessageID: latest.ID, Run: run}, nil
}

func (d *Driver) poll(ctx context.Context, threadID string, run llm.Run) (llm.Run, error) {
	return d.policy.Wait(ctx, run, func(ctx context.Context) (llm.Run, error) {
		next, err := d.backend.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return llm.Run{}, asBackendError(err, "查询运行状态失败")
		}
		return next, nil
	})
}

func asBackendError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeBackendFailure, err, message)
}
