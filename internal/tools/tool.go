// Package tools defines the capability contract exposed to assistants,
// typed tools whose parameter schema is derived from a Go struct, the tool
// registry and the dispatcher that resolves a run's pending tool calls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
)

// Tool 是可被助手调用的能力。
type Tool interface {
	Definition() llm.ToolDefinition
	// Call 接收原始 JSON 参数。参数形状错误返回 *ArgumentError。
	Call(ctx context.Context, raw json.RawMessage) (any, error)
}

// ArgumentError 表示工具参数无法解析或缺少必填字段。
type ArgumentError struct {
	Tool  string
	Field string
	Err   error
}

// Error 实现 error 接口，返回解析错误本身的描述。
func (e *ArgumentError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("argument %q: %v", e.Field, e.Err)
}

// Unwrap 返回底层错误。
func (e *ArgumentError) Unwrap() error { return e.Err }

// Is 使 ArgumentError 与 INVALID_ARGUMENT 错误码匹配。
func (e *ArgumentError) Is(target error) bool {
	t, ok := xerrors.From(target)
	return ok && t.Code() == xerrors.CodeInvalidArgument
}

// Invocation 描述当前工具调用所处的运行。
type Invocation struct {
	ThreadID   string
	RunID      string
	ToolCallID string
	// AgentID 是发起调用的助手。
	AgentID string
}

type invocationKey struct{}

// WithInvocation 将调用信息写入上下文。
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom 读取上下文中的调用信息。
func InvocationFrom(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
