package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
	"AgentHive/internal/memory"
	"AgentHive/internal/observability/metrics"
	"AgentHive/pkg/logger"
)

// Recorder 持久化工具执行记录，*memory.Archive 实现了该接口。
type Recorder interface {
	RecordToolExecution(ctx context.Context, record memory.ToolExecutionRecord) (memory.ToolExecutionRecord, error)
}

// Dispatcher 执行运行中挂起的工具调用并一次性提交输出。
type Dispatcher struct {
	registry *Registry
	backend  llm.Backend
	recorder Recorder
	logger   *slog.Logger
}

// NewDispatcher 创建 Dispatcher，recorder 可以为空。
func NewDispatcher(registry *Registry, backend llm.Backend, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		backend:  backend,
		recorder: recorder,
		logger:   logger.Named("dispatcher"),
	}
}

// ResolveToolCalls 解析 run 中的全部工具调用。任一名称未注册时整批中止且不提交；
// 单个调用的参数或执行错误转换为 "Error: ..." 输出，不影响其他调用。
func (d *Dispatcher) ResolveToolCalls(ctx context.Context, run llm.Run, threadID string) (llm.Run, error) {
	calls := run.ToolCalls
	if len(calls) == 0 {
		return run, xerrors.Newf(xerrors.CodeInvalidArgument, "run %s has no pending tool calls", run.ID)
	}

	resolved := make([]Tool, len(calls))
	for i, call := range calls {
		tool, ok := d.registry.Lookup(call.Name)
		if !ok {
			return run, xerrors.New(xerrors.CodeUnknownTool, fmt.Sprintf("Tool %s not found", call.Name),
				xerrors.WithMetadata("tool", call.Name))
		}
		resolved[i] = tool
	}

	outputs := make([]llm.ToolOutput, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			inv := Invocation{ThreadID: threadID, RunID: run.ID, ToolCallID: call.ID, AgentID: run.AssistantID}
			outputs[i] = llm.ToolOutput{
				ToolCallID: call.ID,
				Output:     d.execute(WithInvocation(ctx, inv), resolved[i], call, inv),
			}
			return nil
		})
	}
	_ = g.Wait()

	next, err := d.backend.SubmitToolOutputs(ctx, threadID, run.ID, outputs)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeBackendFailure) {
			return run, err
		}
		return run, xerrors.Wrap(xerrors.CodeBackendFailure, err, "提交工具输出失败")
	}
	return next, nil
}

func (d *Dispatcher) execute(ctx context.Context, tool Tool, call llm.ToolCall, inv Invocation) string {
	log := d.logger.With(
		slog.String("tool", call.Name),
		slog.String("tool_call_id", call.ID),
		slog.String("run_id", inv.RunID),
	)

	var input map[string]any
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
			log.Warn("工具参数解析失败", slog.Any("error", err))
			metrics.ObserveToolCall(call.Name, "invalid_argument", 0)
			return "Error: " + err.Error()
		}
	}

	started := time.Now()
	result, err := safeCall(ctx, tool, json.RawMessage(call.Arguments))
	elapsed := time.Since(started)
	if err != nil {
		var argErr *ArgumentError
		if errors.As(err, &argErr) {
			log.Warn("工具参数校验失败", slog.Any("error", err))
			metrics.ObserveToolCall(call.Name, "invalid_argument", elapsed)
			return "Error: " + argErr.Error()
		}
		message := xerrors.MessageOf(err)
		log.Warn("工具执行失败", slog.String("error", message))
		metrics.ObserveToolCall(call.Name, "error", elapsed)
		return "Error: " + message
	}

	output := Stringify(result)
	log.Debug("工具执行成功", slog.Int("output_length", len(output)))
	metrics.ObserveToolCall(call.Name, "success", elapsed)
	d.record(ctx, log, memory.ToolExecutionRecord{
		ThreadID:  inv.ThreadID,
		RunID:     inv.RunID,
		ToolName:  call.Name,
		InputArgs: input,
		Output:    result,
		Status:    memory.StatusSuccess,
	})
	return output
}

func (d *Dispatcher) record(ctx context.Context, log *slog.Logger, rec memory.ToolExecutionRecord) {
	if d.recorder == nil {
		return
	}
	if _, err := d.recorder.RecordToolExecution(ctx, rec); err != nil {
		log.Error("保存工具执行记录失败", slog.Any("error", err))
	}
}

func safeCall(ctx context.Context, tool Tool, raw json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Newf(xerrors.CodeExecutorFailure, "tool panicked: %v", r)
		}
	}()
	return tool.Call(ctx, raw)
}

// Stringify 将工具结果转换为提交给后端的文本。
func Stringify(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	return string(encoded)
}
