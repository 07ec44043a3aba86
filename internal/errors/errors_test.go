package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestErrorMatchesByCode(t *testing.T) {
	err := Wrap(CodeNotFound, stdErrors.New("missing"), "agent lookup failed")
	wrapped := fmt.Errorf("outer: %w", err)

	if !HasCode(wrapped, CodeNotFound) {
		t.Fatalf("expected NOT_FOUND in chain: %v", wrapped)
	}
	if HasCode(wrapped, CodeConflict) {
		t.Fatalf("unexpected CONFLICT match")
	}
	if CodeOf(wrapped) != CodeNotFound {
		t.Fatalf("unexpected code %s", CodeOf(wrapped))
	}
	if !stdErrors.Is(wrapped, New(CodeNotFound, "")) {
		t.Fatalf("errors.Is should match by code")
	}
}

func TestMessageOfStripsCode(t *testing.T) {
	err := New(CodeMessageCycle, "agent a already in chain")
	if got := MessageOf(err); got != "agent a already in chain" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := err.Error(); got != "[MESSAGE_CYCLE] agent a already in chain" {
		t.Fatalf("unexpected error string %q", got)
	}
	if got := MessageOf(stdErrors.New("plain")); got != "plain" {
		t.Fatalf("unexpected plain message %q", got)
	}
}

func TestDefaultsAndRegistry(t *testing.T) {
	if New(CodeTimeout, "").Message() != "operation timed out" {
		t.Fatalf("default message not applied")
	}
	if SeverityOf(New(CodeUnknownTool, "nope")) != SeverityCritical {
		t.Fatalf("unknown tool must be critical")
	}

	const custom Code = "CUSTOM"
	Register(custom, Attributes{Message: "custom", Severity: SeverityInfo})
	if SeverityOf(New(custom, "")) != SeverityInfo {
		t.Fatalf("registered severity not used")
	}
	if New(custom, "x", WithSeverity(SeverityCritical)).Severity() != SeverityCritical {
		t.Fatalf("severity override ignored")
	}
	meta := New(custom, "x", WithMetadata("tool", "get_balance")).Metadata()
	if meta["tool"] != "get_balance" {
		t.Fatalf("metadata missing: %v", meta)
	}
}
