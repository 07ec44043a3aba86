// Package retrieval builds the memory context block injected into every
// run: conversations and tool executions similar to the incoming text.
package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
	"AgentHive/internal/memory"
	"AgentHive/pkg/logger"
)

// Options 控制两类检索的阈值与数量。
type Options struct {
	MessageThreshold float64
	MessageLimit     int
	ToolThreshold    float64
	ToolLimit        int
}

// DefaultOptions 返回默认检索参数。
func DefaultOptions() Options {
	return Options{
		MessageThreshold: 0.7,
		MessageLimit:     5,
		ToolThreshold:    0.9,
		ToolLimit:        5,
	}
}

// Retriever 根据查询文本召回相关历史。
type Retriever struct {
	embedder   llm.Embedder
	messages   memory.SimilarityIndex[memory.MessageRecord]
	executions memory.SimilarityIndex[memory.ToolExecutionRecord]
	opts       Options
	logger     *slog.Logger
}

// New 创建 Retriever。阈值按原值使用，0 表示不过滤；数量不大于 0 时使用默认值。
func New(embedder llm.Embedder, messages memory.SimilarityIndex[memory.MessageRecord], executions memory.SimilarityIndex[memory.ToolExecutionRecord], opts Options) *Retriever {
	def := DefaultOptions()
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = def.MessageLimit
	}
	if opts.ToolLimit <= 0 {
		opts.ToolLimit = def.ToolLimit
	}
	return &Retriever{
		embedder:   embedder,
		messages:   messages,
		executions: executions,
		opts:       opts,
		logger:     logger.Named("retrieval"),
	}
}

// Retrieve 并发执行两类检索并拼接上下文文本，没有命中时返回空字符串。
func (r *Retriever) Retrieve(ctx context.Context, query string) (string, error) {
	var (
		messages   []memory.MessageRecord
		executions []memory.ToolExecutionRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, err := r.embed(gctx, query)
		if err != nil {
			return err
		}
		found, err := r.messages.Similar(gctx, vector, r.opts.MessageThreshold, r.opts.MessageLimit)
		if err != nil {
			return asStorageError(err, "检索相似消息失败")
		}
		messages = found
		return nil
	})
	g.Go(func() error {
		vector, err := r.embed(gctx, query)
		if err != nil {
			return err
		}
		found, err := r.executions.Similar(gctx, vector, r.opts.ToolThreshold, r.opts.ToolLimit)
		if err != nil {
			return asStorageError(err, "检索相似工具执行失败")
		}
		executions = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	r.logger.Debug("上下文检索完成",
		slog.Int("messages", len(messages)),
		slog.Int("tool_executions", len(executions)),
	)
	return Format(messages, executions), nil
}

// Format 将检索结果渲染为上下文文本。
func Format(messages []memory.MessageRecord, executions []memory.ToolExecutionRecord) string {
	var b strings.Builder
	if len(messages) > 0 {
		lines := make([]string, 0, len(messages))
		for _, msg := range messages {
			lines = append(lines, string(msg.Role)+": "+msg.Content)
		}
		b.WriteString("Previous relevant conversations:\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n\n")
	}
	if len(executions) > 0 {
		blocks := make([]string, 0, len(executions))
		for _, exec := range executions {
			blocks = append(blocks,
				"Tool: "+exec.ToolName+"\n"+
					"Input: "+toJSON(exec.InputArgs)+"\n"+
					"Output: "+toJSON(exec.Output)+"\n"+
					"Status: "+string(exec.Status))
		}
		b.WriteString("Previous relevant actions:\n")
		b.WriteString(strings.Join(blocks, "\n\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}

func (r *Retriever) embed(ctx context.Context, text string) ([]float64, error) {
	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, "生成查询向量失败")
	}
	return vector, nil
}

func toJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}

func asStorageError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
