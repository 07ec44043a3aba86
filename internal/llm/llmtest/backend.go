// Package llmtest provides an in-memory scripted llm.Backend and a
// deterministic llm.Embedder for package tests.
package llmtest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
)

// Step is one state transition a scripted run goes through. A step is
// applied on each RetrieveRun call.
type Step struct {
	Status    llm.RunStatus
	ToolCalls []llm.ToolCall
	LastError string
	// Reply is appended to the thread as an assistant message when the step is applied.
	Reply   string
	NonText bool
}

// RunRequest captures the arguments of a CreateRun call.
type RunRequest struct {
	ThreadID          string
	AssistantID       string
	ExtraInstructions string
	// Input is the content of the latest user message on the thread.
	Input string
}

// Script decides the steps of a run.
type Script func(req RunRequest) []Step

// Submission captures a SubmitToolOutputs call.
type Submission struct {
	ThreadID string
	RunID    string
	Outputs  []llm.ToolOutput
}

type fakeRun struct {
	run   llm.Run
	steps []Step
}

// Backend is a goroutine-safe fake of the hosted assistant backend.
type Backend struct {
	mu sync.Mutex

	seq        int
	assistants map[string]llm.AssistantSpec
	threads    map[string][]llm.Message
	runs       map[string]*fakeRun
	scripts    map[string]Script

	// DefaultScript is used for assistants without their own script.
	DefaultScript Script
	// Failures makes the named method return the error.
	Failures map[string]error

	RunRequests []RunRequest
	Submissions []Submission
	Retrievals  int
}

var _ llm.Backend = (*Backend)(nil)

// NewBackend returns an empty backend whose runs complete immediately
// with no reply.
func NewBackend() *Backend {
	return &Backend{
		assistants: make(map[string]llm.AssistantSpec),
		threads:    make(map[string][]llm.Message),
		runs:       make(map[string]*fakeRun),
		scripts:    make(map[string]Script),
		Failures:   make(map[string]error),
	}
}

// Reply returns a script whose run completes with the given text.
func Reply(text string) Script {
	return func(RunRequest) []Step {
		return []Step{{Status: llm.RunStatusInProgress}, {Status: llm.RunStatusCompleted, Reply: text}}
	}
}

// SetScript assigns the script used by runs of the assistant.
func (b *Backend) SetScript(assistantID string, script Script) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[assistantID] = script
}

// Fail makes the named method return err until cleared with a nil error.
func (b *Backend) Fail(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.Failures, method)
		return
	}
	b.Failures[method] = err
}

// Assistant returns the spec an assistant was created with.
func (b *Backend) Assistant(id string) (llm.AssistantSpec, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	spec, ok := b.assistants[id]
	return spec, ok
}

// AssistantIDs returns the ids of all created assistants in creation order.
func (b *Backend) AssistantIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.assistants))
	for id := range b.assistants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return seqOf(ids[i]) < seqOf(ids[j]) })
	return ids
}

// Messages returns a copy of the thread in ascending order.
func (b *Backend) Messages(threadID string) []llm.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Message(nil), b.threads[threadID]...)
}

// ThreadCount returns the number of created threads.
func (b *Backend) ThreadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.threads)
}

func (b *Backend) nextID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s_%d", prefix, b.seq)
}

func seqOf(id string) int {
	n, _ := strconv.Atoi(id[strings.LastIndex(id, "_")+1:])
	return n
}

func (b *Backend) failure(method string) error {
	if err, ok := b.Failures[method]; ok {
		return err
	}
	return nil
}

// CreateAssistant 实现 llm.Backend。
func (b *Backend) CreateAssistant(_ context.Context, spec llm.AssistantSpec) (llm.Assistant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("CreateAssistant"); err != nil {
		return llm.Assistant{}, err
	}
	id := b.nextID("asst")
	b.assistants[id] = spec
	return llm.Assistant{ID: id, Name: spec.Name}, nil
}

// CreateThread 实现 llm.Backend。
func (b *Backend) CreateThread(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("CreateThread"); err != nil {
		return "", err
	}
	id := b.nextID("thread")
	b.threads[id] = nil
	return id, nil
}

// CreateRun 实现 llm.Backend。
func (b *Backend) CreateRun(_ context.Context, threadID, assistantID, extra string) (llm.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("CreateRun"); err != nil {
		return llm.Run{}, err
	}
	thread, ok := b.threads[threadID]
	if !ok {
		return llm.Run{}, xerrors.Newf(xerrors.CodeNotFound, "thread %s not found", threadID)
	}
	if _, ok := b.assistants[assistantID]; !ok {
		return llm.Run{}, xerrors.Newf(xerrors.CodeNotFound, "assistant %s not found", assistantID)
	}

	req := RunRequest{ThreadID: threadID, AssistantID: assistantID, ExtraInstructions: extra}
	for i := len(thread) - 1; i >= 0; i-- {
		if thread[i].Role == llm.RoleUser {
			req.Input = thread[i].Content
			break
		}
	}
	b.RunRequests = append(b.RunRequests, req)

	script := b.scripts[assistantID]
	if script == nil {
		script = b.DefaultScript
	}
	var steps []Step
	if script != nil {
		steps = script(req)
	}

	fr := &fakeRun{
		run: llm.Run{
			ID:          b.nextID("run"),
			ThreadID:    threadID,
			AssistantID: assistantID,
			Status:      llm.RunStatusQueued,
		},
		steps: steps,
	}
	b.runs[fr.run.ID] = fr
	return fr.run, nil
}

// RetrieveRun 实现 llm.Backend，每次调用推进一个脚本步骤。
func (b *Backend) RetrieveRun(_ context.Context, threadID, runID string) (llm.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("RetrieveRun"); err != nil {
		return llm.Run{}, err
	}
	fr, ok := b.runs[runID]
	if !ok || fr.run.ThreadID != threadID {
		return llm.Run{}, xerrors.Newf(xerrors.CodeNotFound, "run %s not found", runID)
	}
	b.Retrievals++

	if fr.run.Status == llm.RunStatusRequiresAction {
		return fr.run, nil
	}
	if len(fr.steps) == 0 {
		if fr.run.Status.Pending() {
			fr.run.Status = llm.RunStatusCompleted
		}
		return fr.run, nil
	}

	step := fr.steps[0]
	fr.steps = fr.steps[1:]
	fr.run.Status = step.Status
	fr.run.ToolCalls = append([]llm.ToolCall(nil), step.ToolCalls...)
	fr.run.LastError = step.LastError
	if step.Reply != "" || step.NonText {
		msg := llm.Message{
			ID:          b.nextID("msg"),
			ThreadID:    threadID,
			RunID:       runID,
			AssistantID: fr.run.AssistantID,
			Role:        llm.RoleAssistant,
			Content:     step.Reply,
			Text:        !step.NonText,
		}
		if step.NonText {
			msg.Content = ""
		}
		b.threads[threadID] = append(b.threads[threadID], msg)
	}
	return fr.run, nil
}

// SubmitToolOutputs 实现 llm.Backend。
func (b *Backend) SubmitToolOutputs(_ context.Context, threadID, runID string, outputs []llm.ToolOutput) (llm.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("SubmitToolOutputs"); err != nil {
		return llm.Run{}, err
	}
	fr, ok := b.runs[runID]
	if !ok || fr.run.ThreadID != threadID {
		return llm.Run{}, xerrors.Newf(xerrors.CodeNotFound, "run %s not found", runID)
	}
	if fr.run.Status != llm.RunStatusRequiresAction {
		return llm.Run{}, xerrors.Newf(xerrors.CodeConflict, "run %s is %s", runID, fr.run.Status)
	}
	if len(outputs) != len(fr.run.ToolCalls) {
		return llm.Run{}, xerrors.Newf(xerrors.CodeInvalidArgument, "expected %d outputs, got %d", len(fr.run.ToolCalls), len(outputs))
	}
	b.Submissions = append(b.Submissions, Submission{
		ThreadID: threadID,
		RunID:    runID,
		Outputs:  append([]llm.ToolOutput(nil), outputs...),
	})
	fr.run.Status = llm.RunStatusQueued
	fr.run.ToolCalls = nil
	return fr.run, nil
}

// AppendMessage 实现 llm.Backend。
func (b *Backend) AppendMessage(_ context.Context, threadID string, role llm.Role, content string) (llm.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("AppendMessage"); err != nil {
		return llm.Message{}, err
	}
	if _, ok := b.threads[threadID]; !ok {
		return llm.Message{}, xerrors.Newf(xerrors.CodeNotFound, "thread %s not found", threadID)
	}
	msg := llm.Message{
		ID:       b.nextID("msg"),
		ThreadID: threadID,
		Role:     role,
		Content:  content,
		Text:     true,
	}
	b.threads[threadID] = append(b.threads[threadID], msg)
	return msg, nil
}

// ListMessages 实现 llm.Backend。
func (b *Backend) ListMessages(_ context.Context, threadID string, order llm.ListOrder, limit int) ([]llm.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("ListMessages"); err != nil {
		return nil, err
	}
	thread, ok := b.threads[threadID]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "thread %s not found", threadID)
	}
	out := append([]llm.Message(nil), thread...)
	if order == llm.OrderDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
