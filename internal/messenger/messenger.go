// Package messenger lets agents talk to each other. A message is delivered
// on the channel shared by the pair and answered by a full run of the
// receiving agent, which may itself send further messages. Nested sends are
// tracked through the context so that cycles and runaway depth are refused.
package messenger

import (
	"context"
	"log/slog"

	"AgentHive/internal/directory"
	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
	"AgentHive/internal/memory"
	"AgentHive/internal/run"
	"AgentHive/pkg/logger"
)

// DefaultMaxDepth 是允许同时进行的嵌套发送数量。
const DefaultMaxDepth = 5

// Runner 启动并驱动运行，*run.Driver 实现了该接口。
type Runner interface {
	StartRun(ctx context.Context, threadID, agentID, input string) (llm.Run, error)
	DriveToCompletion(ctx context.Context, r llm.Run, threadID, receiverID string) (run.Outcome, error)
}

// Recorder 持久化消息，*memory.Archive 实现了该接口。
type Recorder interface {
	RecordMessage(ctx context.Context, record memory.MessageRecord) (memory.MessageRecord, error)
}

// Messenger 在智能体之间投递消息。
type Messenger struct {
	backend  llm.Backend
	dir      *directory.Directory
	runner   Runner
	recorder Recorder
	maxDepth int
	logger   *slog.Logger
}

// Option 定义 Messenger 的可选配置。
type Option func(*Messenger)

// WithMaxDepth 设置嵌套发送的上限，非正数时使用默认值。
func WithMaxDepth(depth int) Option {
	return func(m *Messenger) {
		if depth > 0 {
			m.maxDepth = depth
		}
	}
}

// New 创建 Messenger，recorder 可以为空。
func New(backend llm.Backend, dir *directory.Directory, runner Runner, recorder Recorder, opts ...Option) *Messenger {
	m := &Messenger{
		backend:  backend,
		dir:      dir,
		runner:   runner,
		recorder: recorder,
		maxDepth: DefaultMaxDepth,
		logger:   logger.Named("messenger"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

type chainKey struct{}

// chainFrom 返回当前上下文中正在进行的发送链，按发起顺序排列。
func chainFrom(ctx context.Context) []string {
	chain, _ := ctx.Value(chainKey{}).([]string)
	return chain
}

func withChain(ctx context.Context, chain []string) context.Context {
	return context.WithValue(ctx, chainKey{}, chain)
}

// Send 将 text 从 from 发送给 to，并返回接收方的回复。
func (m *Messenger) Send(ctx context.Context, from, to, text string) (string, error) {
	if _, ok := m.dir.Get(from); !ok {
		return "", xerrors.Newf(xerrors.CodeNotFound, "Sending agent %q not found", from)
	}
	if _, ok := m.dir.Get(to); !ok {
		return "", xerrors.Newf(xerrors.CodeNotFound, "Receiving agent %q not found", to)
	}

	chain := chainFrom(ctx)
	if len(chain) == 0 {
		chain = []string{from}
	} else if chain[len(chain)-1] != from {
		chain = append(append([]string(nil), chain...), from)
	}
	for _, id := range chain {
		if id == to {
			return "", xerrors.Newf(xerrors.CodeMessageCycle, "agent %s is already waiting on this conversation", to)
		}
	}
	if len(chain) > m.maxDepth {
		return "", xerrors.Newf(xerrors.CodeRecursionLimit, "message depth limit %d reached", m.maxDepth)
	}
	ctx = withChain(ctx, append(append([]string(nil), chain...), to))

	log := m.logger.With(slog.String("from", from), slog.String("to", to), slog.Int("depth", len(chain)))

	threadID, err := m.dir.EnsureChannel(ctx, from, to, m.backend.CreateThread)
	if err != nil {
		return "", asBackendError(err, "创建会话失败")
	}

	msg, err := m.backend.AppendMessage(ctx, threadID, llm.RoleUser, text)
	if err != nil {
		return "", asBackendError(err, "写入消息失败")
	}
	if m.recorder != nil {
		_, err := m.recorder.RecordMessage(ctx, memory.MessageRecord{
			SenderID:   from,
			ReceiverID: to,
			ThreadID:   threadID,
			MessageID:  msg.ID,
			Content:    text,
			Role:       llm.RoleUser,
		})
		if err != nil {
			return "", err
		}
	}

	log.Info("消息已投递", slog.String("thread_id", threadID))
	started, err := m.runner.StartRun(ctx, threadID, to, text)
	if err != nil {
		return "", err
	}
	outcome, err := m.runner.DriveToCompletion(ctx, started, threadID, from)
	if err != nil {
		return "", err
	}
	if !outcome.Text {
		return to + " responded (non-text response)", nil
	}
	return to + " responds: " + outcome.Content, nil
}

func asBackendError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeBackendFailure, err, message)
}
