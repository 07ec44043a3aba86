package run

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
	"AgentHive/internal/llm/llmtest"
	"AgentHive/internal/memory"
	"AgentHive/internal/tools"
)

type staticContext string

func (s staticContext) Retrieve(context.Context, string) (string, error) { return string(s), nil }

func fastPolicy() PollPolicy {
	return PollPolicy{Interval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
}

type fixture struct {
	backend  *llmtest.Backend
	store    *memory.MemoryStore
	driver   *Driver
	agentID  string
	threadID string
}

func newFixture(t *testing.T, registry *tools.Registry) *fixture {
	t.Helper()
	ctx := context.Background()
	backend := llmtest.NewBackend()
	asst, err := backend.CreateAssistant(ctx, llm.AssistantSpec{Name: "CEO"})
	if err != nil {
		t.Fatalf("create assistant: %v", err)
	}
	thread, err := backend.CreateThread(ctx)
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if _, err := backend.AppendMessage(ctx, thread, llm.RoleUser, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	store := memory.NewMemoryStore()
	archive := memory.NewArchive(store, llmtest.NewEmbedder())
	dispatcher := tools.NewDispatcher(registry, backend, archive)
	return &fixture{
		backend:  backend,
		store:    store,
		driver:   NewDriver(backend, dispatcher, staticContext("Previous Messages:\n{}"), archive, fastPolicy()),
		agentID:  asst.ID,
		threadID: thread,
	}
}

func (f *fixture) drive(t *testing.T, receiver string) (Outcome, error) {
	t.Helper()
	ctx := context.Background()
	run, err := f.driver.StartRun(ctx, f.threadID, f.agentID, "hello")
	if err != nil {
		return Outcome{}, err
	}
	return f.driver.DriveToCompletion(ctx, run, f.threadID, receiver)
}

func TestStartRunInjectsInstructions(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SetScript(f.agentID, llmtest.Reply("hi"))

	run, err := f.driver.StartRun(context.Background(), f.threadID, f.agentID, "hello")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if run.Status.Pending() {
		t.Fatalf("run should have left pending states, got %s", run.Status)
	}
	want := "Your assistantId is " + f.agentID + ".\n\n---\n\nUse the following context from your memory to provide a more accurate response to the message.\n\nPrevious Messages:\n{}"
	if got := f.backend.RunRequests[0].ExtraInstructions; got != want {
		t.Fatalf("unexpected instructions:\n%q\nwant\n%q", got, want)
	}
}

func TestDriveToCompletionRecordsReply(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SetScript(f.agentID, llmtest.Reply("Hello! How can I help?"))

	out, err := f.drive(t, "")
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if !out.Text || out.Failed || out.Content != "Hello! How can I help?" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	records := f.store.Messages()
	if len(records) != 1 {
		t.Fatalf("expected one stored reply, got %d", len(records))
	}
	rec := records[0]
	if rec.SenderID != f.agentID || rec.ReceiverID != DefaultReceiver || rec.Role != llm.RoleAssistant {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.MessageID != out.MessageID || rec.RunID != out.Run.ID || len(rec.Embedding) == 0 {
		t.Fatalf("record not linked to reply: %+v", rec)
	}
}

func TestDriveToCompletionUsesReceiver(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SetScript(f.agentID, llmtest.Reply("done"))

	if _, err := f.drive(t, "asst_cto"); err != nil {
		t.Fatalf("drive: %v", err)
	}
	if got := f.store.Messages()[0].ReceiverID; got != "asst_cto" {
		t.Fatalf("unexpected receiver %q", got)
	}
}

func TestDriveToCompletionFailedRun(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SetScript(f.agentID, func(llmtest.RunRequest) []llmtest.Step {
		return []llmtest.Step{{Status: llm.RunStatusFailed, LastError: "rate limited"}}
	})

	out, err := f.drive(t, "")
	if err != nil {
		t.Fatalf("failed runs must not raise: %v", err)
	}
	if !out.Failed || out.Content != "I encountered an error: rate limited" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	msgs := f.backend.Messages(f.threadID)
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleAssistant || last.Content != out.Content {
		t.Fatalf("error message not appended: %+v", last)
	}
	if len(f.store.Messages()) != 0 {
		t.Fatalf("failed outcome must not be recorded")
	}

	f.backend.SetScript(f.agentID, func(llmtest.RunRequest) []llmtest.Step {
		return []llmtest.Step{{Status: llm.RunStatusFailed}}
	})
	out, err = f.drive(t, "")
	if err != nil || out.Content != "I encountered an error: Unknown error" {
		t.Fatalf("unexpected outcome without reason %+v %v", out, err)
	}
}

func TestDriveToCompletionNoMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	empty, err := f.backend.CreateThread(ctx)
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	run, err := f.driver.StartRun(ctx, empty, f.agentID, "")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	out, err := f.driver.DriveToCompletion(ctx, run, empty, "")
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if out.Content != NoResponse || !out.Text {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestDriveToCompletionNonTextReply(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SetScript(f.agentID, func(llmtest.RunRequest) []llmtest.Step {
		return []llmtest.Step{{Status: llm.RunStatusCompleted, NonText: true}}
	})

	out, err := f.drive(t, "")
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if out.Text || out.Content != "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(f.store.Messages()) != 0 {
		t.Fatalf("non-text replies must not be recorded")
	}
}

type echoArgs struct {
	Text string `json:"text"`
}

func TestDriveToCompletionResolvesToolCalls(t *testing.T) {
	registry := tools.NewRegistry()
	echo := tools.NewTyped("echo", "Echo text", func(_ context.Context, args echoArgs) (any, error) {
		return strings.ToUpper(args.Text), nil
	})
	if err := registry.Register(echo); err != nil {
		t.Fatalf("register: %v", err)
	}
	f := newFixture(t, registry)
	f.backend.SetScript(f.agentID, func(llmtest.RunRequest) []llmtest.Step {
		return []llmtest.Step{
			{Status: llm.RunStatusInProgress},
			{Status: llm.RunStatusRequiresAction, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "echo", Arguments: `{"text":"ping"}`}}},
			{Status: llm.RunStatusInProgress},
			{Status: llm.RunStatusRequiresAction, ToolCalls: []llm.ToolCall{{ID: "call_2", Name: "echo", Arguments: `{"text":"pong"}`}}},
			{Status: llm.RunStatusCompleted, Reply: "PING PONG"},
		}
	})

	out, err := f.drive(t, "")
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if out.Content != "PING PONG" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(f.backend.Submissions) != 2 {
		t.Fatalf("expected two submissions, got %d", len(f.backend.Submissions))
	}
	if got := f.backend.Submissions[1].Outputs[0]; got.ToolCallID != "call_2" || got.Output != "PONG" {
		t.Fatalf("unexpected submission %+v", got)
	}
	if len(f.store.ToolExecutions()) != 2 {
		t.Fatalf("expected two execution records, got %d", len(f.store.ToolExecutions()))
	}
}

func TestDriveToCompletionUnknownToolAborts(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SetScript(f.agentID, func(llmtest.RunRequest) []llmtest.Step {
		return []llmtest.Step{{Status: llm.RunStatusRequiresAction, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "missing"}}}}
	})

	_, err := f.drive(t, "")
	if !xerrors.HasCode(err, xerrors.CodeUnknownTool) {
		t.Fatalf("expected UNKNOWN_TOOL, got %v", err)
	}
	if len(f.backend.Submissions) != 0 {
		t.Fatalf("nothing should be submitted")
	}
}

func TestPollPolicyTimesOut(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 3
	calls := 0
	_, err := policy.Wait(context.Background(), llm.Run{ID: "run_1", Status: llm.RunStatusQueued}, func(context.Context) (llm.Run, error) {
		calls++
		return llm.Run{ID: "run_1", Status: llm.RunStatusInProgress}, nil
	})
	if !xerrors.HasCode(err, xerrors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 fetches, got %d", calls)
	}
}

func TestPollPolicyHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := PollPolicy{Interval: time.Hour}
	_, err := policy.Wait(ctx, llm.Run{Status: llm.RunStatusQueued}, func(context.Context) (llm.Run, error) {
		t.Fatalf("fetch must not be called after cancellation")
		return llm.Run{}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPollPolicyBacksOff(t *testing.T) {
	policy := PollPolicy{Interval: time.Millisecond, MaxInterval: 4 * time.Millisecond, Multiplier: 2}
	remaining := 4
	run, err := policy.Wait(context.Background(), llm.Run{Status: llm.RunStatusQueued}, func(context.Context) (llm.Run, error) {
		remaining--
		if remaining == 0 {
			return llm.Run{Status: llm.RunStatusCompleted}, nil
		}
		return llm.Run{Status: llm.RunStatusInProgress}, nil
	})
	if err != nil || run.Status != llm.RunStatusCompleted {
		t.Fatalf("unexpected result %+v %v", run, err)
	}
}

func TestStartRunWrapsBackendErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.Fail("CreateRun", errors.New("boom"))
	_, err := f.driver.StartRun(context.Background(), f.threadID, f.agentID, "hello")
	if !xerrors.HasCode(err, xerrors.CodeBackendFailure) {
		t.Fatalf("expected BACKEND_FAILURE, got %v", err)
	}
}
