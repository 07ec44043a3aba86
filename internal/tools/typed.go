package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"AgentHive/internal/llm"
)

// TypedTool 将参数解码为结构体 A 后调用处理函数。
type TypedTool[A any] struct {
	def llm.ToolDefinition
	fn  func(ctx context.Context, args A) (any, error)
}

// NewTyped 创建参数类型为 A 的工具，参数 schema 由 A 的字段推导。
func NewTyped[A any](name, description string, fn func(ctx context.Context, args A) (any, error)) *TypedTool[A] {
	return &TypedTool[A]{
		def: llm.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  Schema(reflect.TypeOf((*A)(nil)).Elem()),
		},
		fn: fn,
	}
}

// Definition 实现 Tool。
func (t *TypedTool[A]) Definition() llm.ToolDefinition {
	return t.def
}

// Call 实现 Tool。
func (t *TypedTool[A]) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := t.Decode(raw)
	if err != nil {
		return nil, err
	}
	return t.fn(ctx, args)
}

// Decode 解析并校验原始参数。空参数视为空对象。
func (t *TypedTool[A]) Decode(raw json.RawMessage) (A, error) {
	var args A
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return args, &ArgumentError{Tool: t.def.Name, Err: err}
	}
	for _, name := range requiredFields(t.def.Parameters) {
		value, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return args, &ArgumentError{Tool: t.def.Name, Field: name, Err: errors.New("required field is missing")}
		}
	}

	if err := json.Unmarshal(trimmed, &args); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return args, &ArgumentError{Tool: t.def.Name, Field: typeErr.Field, Err: err}
		}
		return args, &ArgumentError{Tool: t.def.Name, Err: err}
	}
	return args, nil
}
