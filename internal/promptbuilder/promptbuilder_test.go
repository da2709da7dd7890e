package promptbuilder

import (
	"strings"
	"testing"

	"aleutianrag/internal/ragtypes"
)

func TestOptimistStrictRequiresCitations(t *testing.T) {
	b := &Builder{}
	p := b.Optimist("what year?", "[Source 1] (doc): founded 1920", Strict, nil)
	if !strings.Contains(p, "MUST be cited") {
		t.Fatalf("expected strict citation instruction, got %s", p)
	}
	if strings.Contains(p, "Conversation History") {
		t.Fatalf("did not expect history block without history")
	}
}

func TestOptimistBalancedAllowsSynthesis(t *testing.T) {
	b := &Builder{}
	p := b.Optimist("what year?", "[Source 1] (doc): founded 1920", Balanced, nil)
	if !strings.Contains(p, "may synthesize across sources") {
		t.Fatalf("expected balanced synthesis instruction, got %s", p)
	}
	if !strings.Contains(p, "flag any conflicts") {
		t.Fatalf("expected conflict-flagging instruction, got %s", p)
	}
}

func TestOptimistHistoryBlockMarkedNonCitable(t *testing.T) {
	b := &Builder{}
	history := []ragtypes.ConversationTurn{{Question: "who?", Answer: "the founder"}}
	p := b.Optimist("what year?", "evidence", Strict, history)
	if !strings.Contains(p, "Conversation History (Memory)") {
		t.Fatalf("expected history block, got %s", p)
	}
	if !strings.Contains(p, "NOT citable") {
		t.Fatalf("expected non-citable disclaimer, got %s", p)
	}
}

func TestSkepticUsesBuiltinExamplesWhenUnset(t *testing.T) {
	b := &Builder{}
	p := b.Skeptic("q", "a", "evidence")
	if !strings.Contains(p, "Example 1 (verified)") {
		t.Fatalf("expected builtin few-shot examples, got %s", p)
	}
	if !strings.Contains(p, "is_verified") {
		t.Fatalf("expected JSON schema instructions")
	}
}

func TestSkepticUsesConfiguredExamples(t *testing.T) {
	b := &Builder{SkepticExamples: "custom few-shot block"}
	p := b.Skeptic("q", "a", "evidence")
	if !strings.Contains(p, "custom few-shot block") {
		t.Fatalf("expected configured examples to be used")
	}
	if strings.Contains(p, "Example 1 (verified)") {
		t.Fatalf("did not expect builtin examples when configured ones are set")
	}
}

func TestRefinerFallsBackToGenericInstructionWhenNoHallucinations(t *testing.T) {
	b := &Builder{}
	p := b.Refiner("q", "draft answer", "evidence", nil)
	if !strings.Contains(p, "more accurate") {
		t.Fatalf("expected generic fallback instruction, got %s", p)
	}
}

func TestRefinerListsHallucinationsWhenPresent(t *testing.T) {
	b := &Builder{}
	p := b.Refiner("q", "draft answer", "evidence", []string{"bogus claim"})
	if !strings.Contains(p, "bogus claim") {
		t.Fatalf("expected hallucination listed in prompt")
	}
}

func TestRefinerTruncatesLongDraft(t *testing.T) {
	b := &Builder{}
	draft := strings.Repeat("x", 5000)
	p := b.Refiner("q", draft, "evidence", nil)
	if strings.Contains(p, strings.Repeat("x", 4001)) {
		t.Fatalf("expected draft truncated at 4000 chars")
	}
}
