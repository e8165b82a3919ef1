package graph

import "testing"

func TestBranchChannel(t *testing.T) {
	ch := BranchChannel("summarize")
	if ch != "branch:to:summarize" {
		t.Fatalf("got %q", ch)
	}
	target, ok := BranchTarget(ch)
	if !ok || target != "summarize" {
		t.Fatalf("BranchTarget(%q) = (%q, %v)", ch, target, ok)
	}
}

func TestIsBranchChannel(t *testing.T) {
	cases := map[string]bool{
		"branch:to:node_a": true,
		"__interrupt__":    false,
		"messages":         false,
	}
	for ch, want := range cases {
		if got := IsBranchChannel(ch); got != want {
			t.Errorf("IsBranchChannel(%q) = %v, want %v", ch, got, want)
		}
	}
}

func TestIsSystemChannel(t *testing.T) {
	if !IsSystemChannel(InterruptChannel) {
		t.Fatalf("expected %q to be a system channel", InterruptChannel)
	}
	if IsSystemChannel("messages") {
		t.Fatalf("expected %q not to be a system channel", "messages")
	}
}

func TestIsStateChannel(t *testing.T) {
	if !IsStateChannel("messages") {
		t.Fatalf("expected state channel")
	}
	if IsStateChannel(BranchChannel("node_a")) {
		t.Fatalf("branch channel should not be a state channel")
	}
	if IsStateChannel(InterruptChannel) {
		t.Fatalf("system channel should not be a state channel")
	}
}

func TestBranchTargetRejectsNonBranch(t *testing.T) {
	if _, ok := BranchTarget("messages"); ok {
		t.Fatalf("expected ok=false for non-branch channel")
	}
}
