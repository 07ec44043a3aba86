package tools

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
	"AgentHive/internal/llm/llmtest"
	"AgentHive/internal/memory"
)

type greetArgs struct {
	Name     string   `json:"name" description:"Who to greet"`
	Times    int      `json:"times,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Nickname *string  `json:"nickname"`
}

func TestSchemaFromStruct(t *testing.T) {
	schema := Schema(reflect.TypeOf(greetArgs{}))
	props := schema["properties"].(map[string]any)
	name := props["name"].(map[string]any)
	if name["type"] != "string" || name["description"] != "Who to greet" {
		t.Fatalf("unexpected name schema: %v", name)
	}
	if props["times"].(map[string]any)["type"] != "integer" {
		t.Fatalf("unexpected times schema: %v", props["times"])
	}
	tags := props["tags"].(map[string]any)
	if tags["type"] != "array" || tags["items"].(map[string]any)["type"] != "string" {
		t.Fatalf("unexpected tags schema: %v", tags)
	}
	if got := schema["required"].([]string); len(got) != 1 || got[0] != "name" {
		t.Fatalf("unexpected required: %v", got)
	}

	empty := Schema(reflect.TypeOf(struct{}{}))
	if _, ok := empty["required"]; ok {
		t.Fatalf("empty struct must not require fields: %v", empty)
	}
}

func TestTypedToolDecode(t *testing.T) {
	tool := NewTyped("greet", "Greets someone", func(_ context.Context, args greetArgs) (any, error) {
		return "hi " + args.Name, nil
	})

	out, err := tool.Call(context.Background(), []byte(`{"name":"ada"}`))
	if err != nil || out != "hi ada" {
		t.Fatalf("unexpected call result %v %v", out, err)
	}

	cases := map[string]string{
		"malformed":     `{bad json`,
		"missing field": `{"times":2}`,
		"null field":    `{"name":null}`,
		"wrong type":    `{"name":"ada","times":"two"}`,
		"not an object": `[1,2]`,
	}
	for label, raw := range cases {
		_, err := tool.Call(context.Background(), []byte(raw))
		var argErr *ArgumentError
		if !errors.As(err, &argErr) {
			t.Fatalf("%s: expected ArgumentError, got %v", label, err)
		}
		if !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
			t.Fatalf("%s: argument errors must carry INVALID_ARGUMENT", label)
		}
	}

	noArgs := NewTyped("ping", "Ping", func(context.Context, struct{}) (any, error) { return "pong", nil })
	for _, raw := range []string{"", "null", "{}"} {
		if out, err := noArgs.Call(context.Background(), []byte(raw)); err != nil || out != "pong" {
			t.Fatalf("empty arguments %q should decode: %v", raw, err)
		}
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := NewTyped("b_tool", "", func(context.Context, struct{}) (any, error) { return nil, nil })
	b := NewTyped("a_tool", "", func(context.Context, struct{}) (any, error) { return nil, nil })
	if err := reg.Register(a, b); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(a); !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "a_tool" || names[1] != "b_tool" {
		t.Fatalf("unexpected names %v", names)
	}
	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "a_tool" {
		t.Fatalf("unexpected definitions %v", defs)
	}
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []memory.ToolExecutionRecord
	err     error
}

func (r *recordingRecorder) RecordToolExecution(_ context.Context, rec memory.ToolExecutionRecord) (memory.ToolExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return rec, r.err
	}
	r.records = append(r.records, rec)
	return rec, nil
}

type stringer struct{}

func (stringer) String() string { return "custom" }

// pendingRun drives a scripted run into requires_action with the given calls.
func pendingRun(t *testing.T, backend *llmtest.Backend, calls []llm.ToolCall) (llm.Run, string) {
	t.Helper()
	ctx := context.Background()
	asst, _ := backend.CreateAssistant(ctx, llm.AssistantSpec{Name: "agent"})
	thread, _ := backend.CreateThread(ctx)
	backend.SetScript(asst.ID, func(llmtest.RunRequest) []llmtest.Step {
		return []llmtest.Step{
			{Status: llm.RunStatusRequiresAction, ToolCalls: calls},
			{Status: llm.RunStatusCompleted, Reply: "done"},
		}
	})
	run, err := backend.CreateRun(ctx, thread, asst.ID, "")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	run, err = backend.RetrieveRun(ctx, thread, run.ID)
	if err != nil || run.Status != llm.RunStatusRequiresAction {
		t.Fatalf("run not pending: %+v %v", run, err)
	}
	return run, thread
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	err := reg.Register(
		NewTyped("greet", "", func(_ context.Context, args greetArgs) (any, error) {
			return "hi " + args.Name, nil
		}),
		NewTyped("fail", "", func(context.Context, struct{}) (any, error) {
			return nil, errors.New("wallet locked")
		}),
		NewTyped("object", "", func(context.Context, struct{}) (any, error) {
			return map[string]int{"n": 1}, nil
		}),
		NewTyped("stringer", "", func(context.Context, struct{}) (any, error) {
			return stringer{}, nil
		}),
		NewTyped("whoami", "", func(ctx context.Context, _ struct{}) (any, error) {
			inv, _ := InvocationFrom(ctx)
			return inv.AgentID + "@" + inv.ThreadID, nil
		}),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestResolveToolCallsMixedBatch(t *testing.T) {
	backend := llmtest.NewBackend()
	recorder := &recordingRecorder{}
	dispatcher := NewDispatcher(newTestRegistry(t), backend, recorder)

	calls := []llm.ToolCall{
		{ID: "c1", Name: "greet", Arguments: `{"name":"ada"}`},
		{ID: "c2", Name: "greet", Arguments: `{bad json`},
		{ID: "c3", Name: "fail", Arguments: `{}`},
		{ID: "c4", Name: "object", Arguments: ``},
		{ID: "c5", Name: "stringer", Arguments: `{}`},
		{ID: "c6", Name: "whoami", Arguments: `{}`},
	}
	run, thread := pendingRun(t, backend, calls)

	next, err := dispatcher.ResolveToolCalls(context.Background(), run, thread)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if next.Status == llm.RunStatusRequiresAction {
		t.Fatalf("run should have resumed, got %s", next.Status)
	}

	if len(backend.Submissions) != 1 {
		t.Fatalf("expected one submission, got %d", len(backend.Submissions))
	}
	outputs := backend.Submissions[0].Outputs
	if len(outputs) != len(calls) {
		t.Fatalf("expected %d outputs, got %d", len(calls), len(outputs))
	}
	for i, out := range outputs {
		if out.ToolCallID != calls[i].ID {
			t.Fatalf("output %d out of order: %+v", i, out)
		}
	}
	if outputs[0].Output != "hi ada" {
		t.Fatalf("unexpected output: %q", outputs[0].Output)
	}
	if !strings.HasPrefix(outputs[1].Output, "Error: invalid character") {
		t.Fatalf("malformed call should yield parse error output: %q", outputs[1].Output)
	}
	if outputs[2].Output != "Error: wallet locked" {
		t.Fatalf("unexpected handler error output: %q", outputs[2].Output)
	}
	if outputs[3].Output != `{"n":1}` || outputs[4].Output != "custom" {
		t.Fatalf("unexpected stringified outputs: %q %q", outputs[3].Output, outputs[4].Output)
	}
	if outputs[5].Output != run.AssistantID+"@"+thread {
		t.Fatalf("invocation not propagated: %q", outputs[5].Output)
	}

	byTool := map[string]memory.ToolExecutionRecord{}
	for _, rec := range recorder.records {
		byTool[rec.ToolName] = rec
	}
	if len(recorder.records) != 4 {
		t.Fatalf("expected 4 records (only successful calls), got %d", len(recorder.records))
	}
	if rec, ok := byTool["fail"]; ok {
		t.Fatalf("handler failure must not be recorded: %+v", rec)
	}
	if rec := byTool["greet"]; rec.Status != memory.StatusSuccess || rec.InputArgs["name"] != "ada" || rec.RunID != run.ID {
		t.Fatalf("unexpected success record: %+v", rec)
	}
}

func TestHandlerFailureRecordsNothing(t *testing.T) {
	backend := llmtest.NewBackend()
	recorder := &recordingRecorder{}
	dispatcher := NewDispatcher(newTestRegistry(t), backend, recorder)

	run, thread := pendingRun(t, backend, []llm.ToolCall{{ID: "c1", Name: "fail", Arguments: `{}`}})
	if _, err := dispatcher.ResolveToolCalls(context.Background(), run, thread); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out := backend.Submissions[0].Outputs[0].Output; out != "Error: wallet locked" {
		t.Fatalf("unexpected output %q", out)
	}
	if len(recorder.records) != 0 {
		t.Fatalf("records after handler failure: %d %+v", len(recorder.records), recorder.records)
	}
}

func TestResolveToolCallsUnknownToolAborts(t *testing.T) {
	backend := llmtest.NewBackend()
	recorder := &recordingRecorder{}
	dispatcher := NewDispatcher(newTestRegistry(t), backend, recorder)

	run, thread := pendingRun(t, backend, []llm.ToolCall{
		{ID: "c1", Name: "greet", Arguments: `{"name":"ada"}`},
		{ID: "c2", Name: "launch_rocket", Arguments: `{}`},
	})
	_, err := dispatcher.ResolveToolCalls(context.Background(), run, thread)
	if !xerrors.HasCode(err, xerrors.CodeUnknownTool) {
		t.Fatalf("expected UNKNOWN_TOOL, got %v", err)
	}
	if len(backend.Submissions) != 0 || len(recorder.records) != 0 {
		t.Fatalf("nothing should run or be submitted")
	}
}

func TestResolveToolCallsSurvivesRecorderAndReportsSubmitErrors(t *testing.T) {
	backend := llmtest.NewBackend()
	dispatcher := NewDispatcher(newTestRegistry(t), backend, &recordingRecorder{err: errors.New("db down")})

	run, thread := pendingRun(t, backend, []llm.ToolCall{{ID: "c1", Name: "greet", Arguments: `{"name":"ada"}`}})
	if _, err := dispatcher.ResolveToolCalls(context.Background(), run, thread); err != nil {
		t.Fatalf("persistence failures must not surface: %v", err)
	}

	run, thread = pendingRun(t, backend, []llm.ToolCall{{ID: "c1", Name: "greet", Arguments: `{"name":"ada"}`}})
	backend.Fail("SubmitToolOutputs", errors.New("503"))
	if _, err := dispatcher.ResolveToolCalls(context.Background(), run, thread); !xerrors.HasCode(err, xerrors.CodeBackendFailure) {
		t.Fatalf("expected BACKEND_FAILURE, got %v", err)
	}
}

func TestStringify(t *testing.T) {
	if Stringify(nil) != "" || Stringify("x") != "x" || Stringify(3) != "3" || Stringify([]byte("b")) != "b" {
		t.Fatalf("unexpected stringify results")
	}
	if Stringify(stringer{}) != "custom" {
		t.Fatalf("stringer not used")
	}
}
