package convert

import (
	"testing"

	"chat-studio-core/internal/model"
)

func TestMatchResultsUnmatchedDropped(t *testing.T) {
	got := MatchResults(
		[]model.ToolRequest{{ID: "1", Name: "a"}},
		[]model.ToolResult{{ID: "2", Text: "r", IsError: false}},
	)
	if len(got) != 0 {
		t.Fatalf("expected no match for request 1, got %+v", got)
	}
	if status := ToolStatusOf(model.ToolRequest{ID: "1"}, got); status != model.ToolPending {
		t.Errorf("expected pending status, got %q", status)
	}
}

func TestMatchResults(t *testing.T) {
	requests := []model.ToolRequest{
		{ID: "a", Name: "search"},
		{ID: "b", Name: "clock"},
		{ID: "c", Name: "fetch"},
	}
	candidates := []model.ToolResult{
		{ID: "c", Text: "page", IsError: false},
		{ID: "a", Text: "secret stack trace", IsError: true},
		{ID: "a", Text: "duplicate", IsError: false},
	}

	got := MatchResults(requests, candidates)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(got), got)
	}
	if got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("expected request order a, c; got %s, %s", got[0].ID, got[1].ID)
	}
	if !got[0].IsError || got[0].Text != "" {
		t.Errorf("error result must keep status and drop text, got %+v", got[0])
	}
	if got[0].ToolName != "search" {
		t.Errorf("expected tool name filled from request, got %q", got[0].ToolName)
	}
	if got[1].Text != "page" {
		t.Errorf("expected success text kept, got %q", got[1].Text)
	}

	tests := []struct {
		id   string
		want model.ToolStatus
	}{
		{"a", model.ToolError},
		{"b", model.ToolPending},
		{"c", model.ToolSuccess},
	}
	for _, tt := range tests {
		if status := ToolStatusOf(model.ToolRequest{ID: tt.id}, got); status != tt.want {
			t.Errorf("ToolStatusOf(%s) = %q, want %q", tt.id, status, tt.want)
		}
	}
}

func TestMatchResultsDuplicateRequestIDs(t *testing.T) {
	got := MatchResults(
		[]model.ToolRequest{{ID: "x"}, {ID: "x"}},
		[]model.ToolResult{{ID: "x", Text: "once"}},
	)
	if len(got) != 1 {
		t.Errorf("expected result emitted once, got %d", len(got))
	}
}
