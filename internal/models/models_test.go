package models

import (
	"errors"
	"testing"
	"time"
)

func validTemplate() SurveyTemplate {
	return SurveyTemplate{
		ID:             "tpl-1",
		Theme:          "customer satisfaction",
		SystemPrompt:   "You are a friendly interviewer.",
		MaxTurns:       3,
		WelcomeMessage: "Hi {{name}}, welcome!",
		EndMessage:     "Thanks for your time.",
		Steps: []SurveyStep{
			{ID: "a", Content: "Ask about their last purchase.", Type: StepTypeLinear},
			{ID: "b", Content: "Check interest in discounts.", Type: StepTypeConditional,
				Condition: "the user mentioned wanting a discount", TrueTarget: "c", FalseTarget: TerminateTarget},
			{ID: "c", Content: "Offer the discount code.", Type: StepTypeLinear},
		},
		Variables: []Variable{{Key: "name", Value: "Alex"}},
	}
}

func TestSurveyTemplateValidate(t *testing.T) {
	tmpl := validTemplate()
	if err := tmpl.Validate(); err != nil {
		t.Fatalf("expected valid template, got %v", err)
	}

	tmpl = validTemplate()
	tmpl.Theme = ""
	if err := tmpl.Validate(); !errors.Is(err, ErrEmptyTemplateTheme) {
		t.Errorf("expected ErrEmptyTemplateTheme, got %v", err)
	}

	tmpl = validTemplate()
	tmpl.MaxTurns = 0
	if err := tmpl.Validate(); !errors.Is(err, ErrInvalidMaxTurns) {
		t.Errorf("expected ErrInvalidMaxTurns, got %v", err)
	}

	tmpl = validTemplate()
	tmpl.Steps = nil
	if err := tmpl.Validate(); !errors.Is(err, ErrNoSteps) {
		t.Errorf("expected ErrNoSteps, got %v", err)
	}

	tmpl = validTemplate()
	tmpl.Steps[1].TrueTarget = "missing-step"
	if err := tmpl.Validate(); !errors.Is(err, ErrUnknownBranchTarget) {
		t.Errorf("expected ErrUnknownBranchTarget, got %v", err)
	}

	tmpl = validTemplate()
	tmpl.Steps[1].Condition = ""
	if err := tmpl.Validate(); !errors.Is(err, ErrMissingCondition) {
		t.Errorf("expected ErrMissingCondition, got %v", err)
	}

	tmpl = validTemplate()
	tmpl.Steps[0].ID = "b"
	if err := tmpl.Validate(); !errors.Is(err, ErrDuplicateStepID) {
		t.Errorf("expected ErrDuplicateStepID, got %v", err)
	}

	tmpl = validTemplate()
	tmpl.Variables = append(tmpl.Variables, Variable{Key: "name", Value: "Sam"})
	if err := tmpl.Validate(); !errors.Is(err, ErrDuplicateVariableKey) {
		t.Errorf("expected ErrDuplicateVariableKey, got %v", err)
	}
}

func TestStepLookups(t *testing.T) {
	tmpl := validTemplate()

	step, ok := tmpl.StepByID("b")
	if !ok || step.Type != StepTypeConditional {
		t.Fatalf("expected conditional step b, got %+v (ok=%v)", step, ok)
	}

	next, ok := tmpl.NextStep("a")
	if !ok || next.ID != "b" {
		t.Errorf("expected next step after a to be b, got %+v (ok=%v)", next, ok)
	}
	if _, ok := tmpl.NextStep("c"); ok {
		t.Errorf("expected no step after the last one")
	}
}

func TestHostValidate(t *testing.T) {
	h := Host{ID: "h1", Name: "Dana", Role: "A patient interviewer."}
	if err := h.Validate(); err != nil {
		t.Fatalf("expected valid host, got %v", err)
	}

	h.Name = ""
	if err := h.Validate(); !errors.Is(err, ErrEmptyHostName) {
		t.Errorf("expected ErrEmptyHostName, got %v", err)
	}

	h = Host{Name: "Dana"}
	if err := h.Validate(); !errors.Is(err, ErrEmptyHostRole) {
		t.Errorf("expected ErrEmptyHostRole, got %v", err)
	}
}

func TestToChatLog(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	state := ConversationState{
		ConversationID: "conv-1",
		TemplateID:     "tpl-1",
		Messages: []Message{
			{Role: RoleSystem, Content: "system prompt", Timestamp: ts},
			{Role: RoleAssistant, Content: "welcome", Timestamp: ts},
			{Role: RoleUser, Content: "hello", Timestamp: ts},
		},
	}

	log := state.ToChatLog(ts)
	if log.ConversationID != "conv-1" || log.TemplateID != "tpl-1" {
		t.Errorf("unexpected identifiers: %+v", log)
	}
	if log.Timestamp != "20250601123045" {
		t.Errorf("expected compact timestamp, got %q", log.Timestamp)
	}
	if log.MessageCount != 3 || len(log.Messages) != 3 {
		t.Fatalf("expected 3 archived messages, got %d", len(log.Messages))
	}
	wantTypes := []string{ChatLogTypeSystem, ChatLogTypeAI, ChatLogTypeHuman}
	for i, want := range wantTypes {
		if log.Messages[i].Type != want {
			t.Errorf("message %d: expected type %s, got %s", i, want, log.Messages[i].Type)
		}
	}
}
