package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/SurveyPipe/internal/genai"
	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/store"
)

func discountTemplate() models.SurveyTemplate {
	return models.SurveyTemplate{
		ID:             "tpl-discount",
		Theme:          "purchase follow-up",
		SystemPrompt:   "You are a friendly interviewer for {{company}}.",
		MaxTurns:       2,
		WelcomeMessage: "Welcome to the {{company}} survey!",
		EndMessage:     "Thanks, that is all from {{company}}.",
		Steps: []models.SurveyStep{
			{ID: "a", Content: "Ask about their last purchase.", Type: models.StepTypeLinear},
			{ID: "b", Content: "Probe interest in a discount.", Type: models.StepTypeConditional,
				Condition: "the user expressed interest in a discount", TrueTarget: "c", FalseTarget: models.TerminateTarget},
			{ID: "c", Content: "Offer the discount code.", Type: models.StepTypeLinear},
		},
		Variables: []models.Variable{{Key: "company", Value: "Acme"}},
	}
}

func newTestEngine(t *testing.T, mock *genai.MockClient, templates ...models.SurveyTemplate) (*Engine, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	for _, tmpl := range templates {
		if err := st.SaveSurveyTemplate(tmpl); err != nil {
			t.Fatalf("SaveSurveyTemplate failed: %v", err)
		}
	}
	return NewEngine(st, mock), st
}

func mustState(t *testing.T, st *store.InMemoryStore, conversationID string) *models.ConversationState {
	t.Helper()
	state, err := st.GetConversationState(conversationID)
	if err != nil || state == nil {
		t.Fatalf("expected persisted state for %s, got %v, %v", conversationID, state, err)
	}
	return state
}

func TestStartConversationEmitsWelcomeAndReply(t *testing.T) {
	mock := &genai.MockClient{StreamResults: []string{"Tell me about your last order."}}
	eng, st := newTestEngine(t, mock, discountTemplate())

	var sink BufferSink
	if err := eng.StartConversation(context.Background(), "conv-1", "tpl-discount", "hi", &sink); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	out := sink.String()
	if !strings.HasPrefix(out, "Welcome to the Acme survey!\n\n") {
		t.Errorf("expected resolved welcome first, got %q", out)
	}
	if !strings.Contains(out, "Tell me about your last order.") {
		t.Errorf("expected streamed reply, got %q", out)
	}

	state := mustState(t, st, "conv-1")
	if state.CurrentStepID != "a" || state.StepTurns != 1 || state.Terminal {
		t.Errorf("unexpected state after first turn: step=%s turns=%d terminal=%v", state.CurrentStepID, state.StepTurns, state.Terminal)
	}
	if state.FirstMessage {
		t.Error("first message flag should clear after the opening turn")
	}
	// system prompt snapshot is variable-resolved and includes the theme
	if !strings.Contains(state.Messages[0].Content, "Acme") || !strings.Contains(state.Messages[0].Content, "purchase follow-up") {
		t.Errorf("unexpected system message: %q", state.Messages[0].Content)
	}
}

func TestStartConversationTemplateNotFound(t *testing.T) {
	mock := &genai.MockClient{}
	eng, _ := newTestEngine(t, mock)

	err := eng.StartConversation(context.Background(), "conv-1", "missing", "hi", &BufferSink{})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestStartConversationTwiceRejected(t *testing.T) {
	mock := &genai.MockClient{StreamResults: []string{"reply"}}
	eng, _ := newTestEngine(t, mock, discountTemplate())

	if err := eng.StartConversation(context.Background(), "conv-1", "tpl-discount", "hi", &BufferSink{}); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	err := eng.StartConversation(context.Background(), "conv-1", "tpl-discount", "hi again", &BufferSink{})
	if !errors.Is(err, ErrConversationExists) {
		t.Fatalf("expected ErrConversationExists, got %v", err)
	}
}

// Full scenario: two turns on the linear step exhaust its budget and advance
// to the conditional step; an affirmative answer routes to step c.
func TestScenarioBudgetThenTrueBranch(t *testing.T) {
	mock := &genai.MockClient{
		StreamResults: []string{
			"What did you buy?",             // turn 1 reply on a
			"Anything else about it?",       // turn 2 reply on a
			"Would you like a discount?",    // opening question for b
			"Great, you want the discount!", // turn 3 reply on b
			"Here is your code: SAVE10.",    // opening question for c
		},
		GenerateResults: []string{
			"TRUE", // condition verdict on b
			"SUMMARY:\nDiscussed the order.\nFACTS:\nWants a discount", // compression entering c
		},
	}
	eng, st := newTestEngine(t, mock, discountTemplate())
	ctx := context.Background()

	if err := eng.StartConversation(ctx, "conv-1", "tpl-discount", "hello", &BufferSink{}); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	state := mustState(t, st, "conv-1")
	if state.CurrentStepID != "a" || state.StepTurns != 1 {
		t.Fatalf("after turn 1: step=%s turns=%d", state.CurrentStepID, state.StepTurns)
	}

	var sink2 BufferSink
	if err := eng.ContinueConversation(ctx, "conv-1", "I bought widgets", &sink2); err != nil {
		t.Fatalf("ContinueConversation turn 2 failed: %v", err)
	}
	state = mustState(t, st, "conv-1")
	if state.CurrentStepID != "b" || state.StepTurns != 0 {
		t.Fatalf("budget exhaustion should advance to b with reset counter: step=%s turns=%d", state.CurrentStepID, state.StepTurns)
	}
	if !strings.Contains(sink2.String(), "Would you like a discount?") {
		t.Errorf("expected the next step's opening question in the stream, got %q", sink2.String())
	}

	var sink3 BufferSink
	if err := eng.ContinueConversation(ctx, "conv-1", "yes, I want a discount", &sink3); err != nil {
		t.Fatalf("ContinueConversation turn 3 failed: %v", err)
	}
	state = mustState(t, st, "conv-1")
	if state.CurrentStepID != "c" || state.StepTurns != 0 || state.Terminal {
		t.Fatalf("true branch should route to c: step=%s turns=%d terminal=%v", state.CurrentStepID, state.StepTurns, state.Terminal)
	}
	if state.Facts != "Wants a discount" {
		t.Errorf("compression facts not stored: %q", state.Facts)
	}
}

func TestConditionalFalseBranchTerminates(t *testing.T) {
	mock := &genai.MockClient{
		StreamResults: []string{
			"What did you buy?",
			"Anything else?",
			"Would you like a discount?",
			"Understood, no discount.",
		},
		GenerateResults: []string{"FALSE"},
	}
	eng, st := newTestEngine(t, mock, discountTemplate())
	ctx := context.Background()

	if err := eng.StartConversation(ctx, "conv-1", "tpl-discount", "hello", &BufferSink{}); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	if err := eng.ContinueConversation(ctx, "conv-1", "widgets", &BufferSink{}); err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}

	var sink BufferSink
	if err := eng.ContinueConversation(ctx, "conv-1", "no thanks", &sink); err != nil {
		t.Fatalf("turn 3 failed: %v", err)
	}
	state := mustState(t, st, "conv-1")
	if !state.Terminal {
		t.Fatal("false branch targeting the end sentinel must terminate")
	}
	if !strings.Contains(sink.String(), "Thanks, that is all from Acme.") {
		t.Errorf("expected resolved end message in stream, got %q", sink.String())
	}

	// terminal conversations are archived
	log, err := st.GetChatLog("conv-1")
	if err != nil || log == nil {
		t.Fatalf("expected chat log after termination, got %v, %v", log, err)
	}
	if log.MessageCount != len(log.Messages) || log.MessageCount == 0 {
		t.Errorf("archive record malformed: %+v", log)
	}

	// further turns are rejected
	if err := eng.ContinueConversation(ctx, "conv-1", "hello?", &BufferSink{}); !errors.Is(err, ErrConversationEnded) {
		t.Errorf("expected ErrConversationEnded, got %v", err)
	}
}

// A conversation whose only step branches to the end sentinel on both sides
// terminates on the very first turn.
func TestBothBranchesEndImmediately(t *testing.T) {
	tmpl := models.SurveyTemplate{
		ID:             "tpl-gate",
		Theme:          "eligibility check",
		SystemPrompt:   "You screen participants.",
		MaxTurns:       3,
		WelcomeMessage: "Hello!",
		EndMessage:     "Done.",
		Steps: []models.SurveyStep{
			{ID: "gate", Content: "Determine eligibility.", Type: models.StepTypeConditional,
				Condition: "the user is eligible", TrueTarget: models.TerminateTarget, FalseTarget: models.TerminateTarget},
		},
	}
	mock := &genai.MockClient{
		StreamResults:   []string{"Noted, checking eligibility."},
		GenerateResults: []string{"TRUE"},
	}
	eng, st := newTestEngine(t, mock, tmpl)

	if err := eng.StartConversation(context.Background(), "conv-1", "tpl-gate", "hi", &BufferSink{}); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	state := mustState(t, st, "conv-1")
	if !state.Terminal {
		t.Fatal("expected terminal state after the single gated turn")
	}
}

func TestLinearEarlyAdvanceOnMarker(t *testing.T) {
	tmpl := discountTemplate()
	tmpl.MaxTurns = 5
	mock := &genai.MockClient{
		StreamResults: []string{
			"That covers it, thank you. [STEP_DONE]",
			"Would you like a discount?",
		},
	}
	eng, st := newTestEngine(t, mock, tmpl)

	var sink BufferSink
	if err := eng.StartConversation(context.Background(), "conv-1", "tpl-discount", "I bought widgets, nothing more to add", &sink); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	state := mustState(t, st, "conv-1")
	if state.CurrentStepID != "b" || state.StepTurns != 0 {
		t.Fatalf("marker should advance before the budget: step=%s turns=%d", state.CurrentStepID, state.StepTurns)
	}
	if strings.Contains(sink.String(), "[STEP_DONE]") {
		t.Errorf("marker must never reach the client: %q", sink.String())
	}
	for _, m := range state.Messages {
		if strings.Contains(m.Content, "[STEP_DONE]") {
			t.Errorf("marker must be stripped from stored history: %q", m.Content)
		}
	}
}

func TestRetryOnceCountsSingleTurn(t *testing.T) {
	mock := &genai.MockClient{
		StreamResults:  []string{"What did you buy?"},
		StreamFailures: 1,
	}
	eng, st := newTestEngine(t, mock, discountTemplate())

	if err := eng.StartConversation(context.Background(), "conv-1", "tpl-discount", "hello", &BufferSink{}); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	state := mustState(t, st, "conv-1")
	if state.StepTurns != 1 {
		t.Errorf("a retried turn counts once, got %d", state.StepTurns)
	}
	if mock.StreamCalls != 2 {
		t.Errorf("expected exactly one retry (2 calls), got %d", mock.StreamCalls)
	}
}

func TestFailedTurnLeavesStateUntouched(t *testing.T) {
	mock := &genai.MockClient{StreamResults: []string{"What did you buy?"}}
	eng, st := newTestEngine(t, mock, discountTemplate())
	ctx := context.Background()

	if err := eng.StartConversation(ctx, "conv-1", "tpl-discount", "hello", &BufferSink{}); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	before := mustState(t, st, "conv-1")

	mock.StreamFailures = 2
	if err := eng.ContinueConversation(ctx, "conv-1", "widgets", &BufferSink{}); err == nil {
		t.Fatal("expected error after retry exhaustion")
	}

	after := mustState(t, st, "conv-1")
	if after.StepTurns != before.StepTurns || len(after.Messages) != len(before.Messages) {
		t.Errorf("failed turn must not mutate persisted state: before turns=%d msgs=%d, after turns=%d msgs=%d",
			before.StepTurns, len(before.Messages), after.StepTurns, len(after.Messages))
	}
}

func TestConcurrentTurnRejected(t *testing.T) {
	mock := &genai.MockClient{StreamResults: []string{"reply"}}
	eng, _ := newTestEngine(t, mock, discountTemplate())
	ctx := context.Background()

	if err := eng.StartConversation(ctx, "conv-1", "tpl-discount", "hello", &BufferSink{}); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	unlock, err := eng.lockConversation("conv-1")
	if err != nil {
		t.Fatalf("failed to take the conversation lock: %v", err)
	}
	defer unlock()

	if err := eng.ContinueConversation(ctx, "conv-1", "more", &BufferSink{}); !errors.Is(err, ErrConversationBusy) {
		t.Fatalf("expected ErrConversationBusy, got %v", err)
	}

	// other conversations are unaffected
	if err := eng.StartConversation(ctx, "conv-2", "tpl-discount", "hello", &BufferSink{}); err != nil {
		t.Errorf("distinct conversation should proceed, got %v", err)
	}
}

func TestContinueUnknownConversation(t *testing.T) {
	mock := &genai.MockClient{}
	eng, _ := newTestEngine(t, mock, discountTemplate())

	err := eng.ContinueConversation(context.Background(), "ghost", "hello", &BufferSink{})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestMarkerFilterSplitAcrossFragments(t *testing.T) {
	var sink BufferSink
	f := &markerFilter{sink: &sink}

	f.WriteFragment("All done here. [STEP")
	f.WriteFragment("_DONE]")
	f.Flush()

	if got := sink.String(); got != "All done here. " {
		t.Errorf("expected marker removed across fragment boundary, got %q", got)
	}
}

func TestMarkerFilterPassesOrdinaryBrackets(t *testing.T) {
	var sink BufferSink
	f := &markerFilter{sink: &sink}

	f.WriteFragment("See [docs] for ")
	f.WriteFragment("details.")
	f.Flush()

	if got := sink.String(); got != "See [docs] for details." {
		t.Errorf("ordinary brackets must pass through, got %q", got)
	}
}
