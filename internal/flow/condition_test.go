package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/SurveyPipe/internal/genai"
	"github.com/BTreeMap/SurveyPipe/internal/models"
)

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		output  string
		verdict bool
		ok      bool
	}{
		{"TRUE", true, true},
		{"FALSE", false, true},
		{"true.", true, true},
		{"The answer is FALSE.", false, true},
		{"Yes", true, true},
		{"no", false, true},
		{"TRUE or FALSE, hard to say", false, false},
		{"maybe", false, false},
		{"", false, false},
	}
	for _, c := range cases {
		verdict, ok := parseVerdict(c.output)
		if verdict != c.verdict || ok != c.ok {
			t.Errorf("parseVerdict(%q) = (%v, %v), want (%v, %v)", c.output, verdict, ok, c.verdict, c.ok)
		}
	}
}

func TestEvaluateAmbiguousDefaultsFalse(t *testing.T) {
	mock := &genai.MockClient{GenerateResults: []string{"I am not sure about that."}}
	ev := NewConditionEvaluator(mock)

	verdict, err := ev.Evaluate(context.Background(), "user wants a discount", nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if verdict {
		t.Error("ambiguous output should default to false")
	}
}

func TestEvaluateUpstreamFailure(t *testing.T) {
	mock := &genai.MockClient{GenerateFailures: 1}
	ev := NewConditionEvaluator(mock)

	if _, err := ev.Evaluate(context.Background(), "anything", nil); !errors.Is(err, genai.ErrMockUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestRecentTurnsWindow(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "u1"},
		{Role: models.RoleAssistant, Content: "a1"},
		{Role: models.RoleUser, Content: "u2"},
		{Role: models.RoleAssistant, Content: "a2"},
		{Role: models.RoleUser, Content: "u3"},
	}
	turns := RecentTurns(msgs)
	if len(turns) != 4 {
		t.Fatalf("expected window of 4, got %d", len(turns))
	}
	if turns[0].Content != "a1" || turns[3].Content != "u3" {
		t.Errorf("unexpected window contents: %+v", turns)
	}
	for _, m := range turns {
		if m.Role == models.RoleSystem {
			t.Error("system messages must be excluded from the window")
		}
	}
}
