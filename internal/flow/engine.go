package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/SurveyPipe/internal/genai"
	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/store"
)

// Engine errors surfaced to the API layer.
var (
	ErrTemplateNotFound     = errors.New("survey template not found")
	ErrConversationExists   = errors.New("conversation already started")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationEnded    = errors.New("conversation has already ended")
	ErrConversationBusy     = errors.New("a turn is already in progress for this conversation")
)

// stepDoneMarker is the token the model appends when a linear step's goal is
// satisfied before the turn budget runs out. It is stripped before relay.
const stepDoneMarker = "[STEP_DONE]"

// compressionThreshold is the minimum history length before a step boundary
// triggers summarization. Short histories are cheaper kept verbatim.
const compressionThreshold = 8

// keepRecentMessages is how many trailing messages survive compression.
const keepRecentMessages = 2

// Engine drives survey conversations turn by turn: it generates streamed
// replies for the current step, counts turns against the template budget,
// routes linear and conditional transitions, compresses history at step
// boundaries, and archives finished conversations.
type Engine struct {
	store      store.Store
	sessions   SessionManager
	client     genai.ClientInterface
	evaluator  *ConditionEvaluator
	compressor *MemoryCompressor

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an Engine with a store-backed session manager.
func NewEngine(s store.Store, client genai.ClientInterface) *Engine {
	return &Engine{
		store:      s,
		sessions:   NewStoreSessionManager(s),
		client:     client,
		evaluator:  NewConditionEvaluator(client),
		compressor: NewMemoryCompressor(client),
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockConversation acquires the per-conversation lock without blocking.
// At most one turn may be in flight per conversation; a concurrent turn is
// rejected with ErrConversationBusy. Distinct conversations proceed in
// parallel.
func (e *Engine) lockConversation(conversationID string) (func(), error) {
	e.mu.Lock()
	l, ok := e.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[conversationID] = l
	}
	e.mu.Unlock()

	if !l.TryLock() {
		return nil, ErrConversationBusy
	}
	return l.Unlock, nil
}

// StartConversation begins a new conversation from a template: it snapshots
// the template into the state, emits the welcome message, and processes the
// participant's first message as the opening turn of the first step.
func (e *Engine) StartConversation(ctx context.Context, conversationID, templateID, firstMessage string, sink StreamSink) error {
	slog.Debug("Engine.StartConversation: starting", "conversationID", conversationID, "templateID", templateID)

	unlock, err := e.lockConversation(conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := e.sessions.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrConversationExists, conversationID)
	}

	tmpl, err := e.store.GetSurveyTemplate(templateID)
	if err != nil {
		return fmt.Errorf("failed to load template %s: %w", templateID, err)
	}
	if tmpl == nil {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	if err := tmpl.Validate(); err != nil {
		return fmt.Errorf("invalid template %s: %w", templateID, err)
	}

	vars := tmpl.VariableMap()
	systemPrompt, err := e.composeSystemPrompt(tmpl, vars)
	if err != nil {
		return err
	}

	now := time.Now()
	state := &models.ConversationState{
		ConversationID: conversationID,
		TemplateID:     templateID,
		Template:       *tmpl,
		CurrentStepID:  tmpl.Steps[0].ID,
		FirstMessage:   true,
		CreatedAt:      now,
		UpdatedAt:      now,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: systemPrompt, Timestamp: now},
		},
	}

	welcome := ResolveVariables(tmpl.WelcomeMessage, vars)
	sink.WriteFragment(welcome + "\n\n")
	state.Messages = append(state.Messages, models.Message{Role: models.RoleAssistant, Content: welcome, Timestamp: now})

	return e.processTurn(ctx, state, firstMessage, sink)
}

// ContinueConversation processes a follow-up user turn for an existing
// conversation.
func (e *Engine) ContinueConversation(ctx context.Context, conversationID, userResponse string, sink StreamSink) error {
	slog.Debug("Engine.ContinueConversation: continuing", "conversationID", conversationID)

	unlock, err := e.lockConversation(conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := e.sessions.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	if state.Terminal {
		return fmt.Errorf("%w: %s", ErrConversationEnded, conversationID)
	}

	return e.processTurn(ctx, state, userResponse, sink)
}

// composeSystemPrompt builds the persistent system message from the
// template's system prompt, the bound host's role text, and any background
// knowledge, all variable-resolved.
func (e *Engine) composeSystemPrompt(tmpl *models.SurveyTemplate, vars map[string]string) (string, error) {
	parts := []string{ResolveVariables(tmpl.SystemPrompt, vars)}

	if tmpl.HostID != "" {
		host, err := e.store.GetHost(tmpl.HostID)
		if err != nil {
			return "", fmt.Errorf("failed to load host %s: %w", tmpl.HostID, err)
		}
		if host != nil {
			parts = append(parts, ResolveVariables(host.Role, vars))
		} else {
			slog.Warn("Engine.composeSystemPrompt: template references unknown host", "hostID", tmpl.HostID, "templateID", tmpl.ID)
		}
	}
	if tmpl.BackgroundKnowledge != "" {
		parts = append(parts, "BACKGROUND KNOWLEDGE:\n"+ResolveVariables(tmpl.BackgroundKnowledge, vars))
	}
	parts = append(parts, "SURVEY THEME: "+ResolveVariables(tmpl.Theme, vars))
	return strings.Join(parts, "\n\n"), nil
}

// processTurn runs one full turn against the current step. The turn commits
// atomically: state is saved only after every model call has succeeded, so a
// failed turn leaves the previously persisted state untouched.
func (e *Engine) processTurn(ctx context.Context, state *models.ConversationState, userMessage string, sink StreamSink) error {
	step, ok := state.Template.StepByID(state.CurrentStepID)
	if !ok {
		return fmt.Errorf("conversation %s references unknown step %s", state.ConversationID, state.CurrentStepID)
	}
	vars := state.Template.VariableMap()
	now := time.Now()

	state.Messages = append(state.Messages, models.Message{Role: models.RoleUser, Content: userMessage, Timestamp: now})

	rawReply, err := e.generateWithRetry(ctx, state.ConversationID, e.buildStepMessages(state, step, vars), sink)
	if err != nil {
		return err
	}
	reply, stepDone := stripStepDoneMarker(rawReply)
	state.Messages = append(state.Messages, models.Message{Role: models.RoleAssistant, Content: reply, Timestamp: time.Now()})
	state.StepTurns++
	state.FirstMessage = false

	if err := e.routeTransition(ctx, state, step, stepDone, vars, sink); err != nil {
		return err
	}

	if err := e.sessions.Save(ctx, state); err != nil {
		return err
	}
	if state.Terminal {
		// The turn is already committed; a failed archive is logged, not
		// surfaced, since the full history remains in the saved state.
		if err := e.sessions.Archive(ctx, state); err != nil {
			slog.Error("Engine.processTurn: archive failed", "error", err, "conversationID", state.ConversationID)
		}
	}
	slog.Info("Engine.processTurn: turn complete", "conversationID", state.ConversationID, "step", state.CurrentStepID, "stepTurns", state.StepTurns, "terminal", state.Terminal)
	return nil
}

// routeTransition applies the post-reply transition rules for the step the
// turn ran against.
func (e *Engine) routeTransition(ctx context.Context, state *models.ConversationState, step *models.SurveyStep, stepDone bool, vars map[string]string, sink StreamSink) error {
	switch step.Type {
	case models.StepTypeLinear:
		if !stepDone && state.StepTurns < state.Template.MaxTurns {
			return nil
		}
		next, ok := state.Template.NextStep(step.ID)
		if !ok {
			e.finish(state, vars, sink)
			return nil
		}
		return e.enterStep(ctx, state, next, vars, sink)

	case models.StepTypeConditional:
		verdict := e.evaluateWithRetry(ctx, state, step, vars)
		target := step.FalseTarget
		if verdict {
			target = step.TrueTarget
		}
		slog.Debug("Engine.routeTransition: condition routed", "conversationID", state.ConversationID, "step", step.ID, "verdict", verdict, "target", target)

		if target == models.TerminateTarget {
			e.finish(state, vars, sink)
			return nil
		}
		if target == step.ID {
			// Self-loop gate: stay on the step waiting for the condition,
			// bounded by the turn budget.
			if state.StepTurns >= state.Template.MaxTurns {
				e.finish(state, vars, sink)
			}
			return nil
		}
		next, ok := state.Template.StepByID(target)
		if !ok {
			return fmt.Errorf("conversation %s branch target %s does not exist", state.ConversationID, target)
		}
		return e.enterStep(ctx, state, next, vars, sink)
	}
	return fmt.Errorf("conversation %s step %s has unknown type %q", state.ConversationID, step.ID, step.Type)
}

// enterStep moves the conversation to the next step: history is compressed,
// the turn counter resets, and the step's opening question is generated and
// streamed in the same turn.
func (e *Engine) enterStep(ctx context.Context, state *models.ConversationState, next *models.SurveyStep, vars map[string]string, sink StreamSink) error {
	e.compressHistory(ctx, state)
	state.CurrentStepID = next.ID
	state.StepTurns = 0

	directive := fmt.Sprintf("The interview is moving to its next stage:\n%s\n\nAsk the opening question for this stage, connecting naturally to the conversation so far.", ResolveVariables(next.Content, vars))
	messages := append(toOpenAIMessages(state.Messages), openai.SystemMessage(directive))

	sink.WriteFragment("\n\n")
	opening, err := e.generateWithRetry(ctx, state.ConversationID, messages, sink)
	if err != nil {
		return err
	}
	opening, _ = stripStepDoneMarker(opening)
	state.Messages = append(state.Messages, models.Message{Role: models.RoleAssistant, Content: opening, Timestamp: time.Now()})
	slog.Debug("Engine.enterStep: entered step", "conversationID", state.ConversationID, "step", next.ID)
	return nil
}

// finish terminates the conversation with the template's end message.
func (e *Engine) finish(state *models.ConversationState, vars map[string]string, sink StreamSink) {
	end := ResolveVariables(state.Template.EndMessage, vars)
	sink.WriteFragment("\n\n" + end)
	state.Messages = append(state.Messages, models.Message{Role: models.RoleAssistant, Content: end, Timestamp: time.Now()})
	state.Terminal = true
	slog.Info("Engine.finish: conversation terminal", "conversationID", state.ConversationID)
}

// compressHistory summarizes the conversation at a step boundary. On failure
// the raw history is kept; losing answers is worse than spending tokens.
func (e *Engine) compressHistory(ctx context.Context, state *models.ConversationState) {
	if len(state.Messages) < compressionThreshold {
		return
	}
	summary, facts, err := e.compressor.Compress(ctx, state.Messages, state.Facts)
	if err != nil {
		slog.Warn("Engine.compressHistory: compression failed, keeping raw history", "error", err, "conversationID", state.ConversationID)
		return
	}

	var kept []models.Message
	for _, m := range state.Messages {
		if m.Role != models.RoleSystem {
			break
		}
		kept = append(kept, m)
	}
	kept = append(kept, models.Message{
		Role:      models.RoleSystem,
		Content:   "Conversation summary so far:\n" + summary,
		Timestamp: time.Now(),
	})
	if n := len(state.Messages); n > keepRecentMessages {
		kept = append(kept, state.Messages[n-keepRecentMessages:]...)
	}
	state.Messages = kept
	state.Facts = facts
	slog.Debug("Engine.compressHistory: history compressed", "conversationID", state.ConversationID, "keptMessages", len(kept))
}

// evaluateWithRetry evaluates the step condition, retrying once on upstream
// failure and defaulting to the false branch when both attempts fail.
func (e *Engine) evaluateWithRetry(ctx context.Context, state *models.ConversationState, step *models.SurveyStep, vars map[string]string) bool {
	condition := ResolveVariables(step.Condition, vars)
	recent := RecentTurns(state.Messages)

	verdict, err := e.evaluator.Evaluate(ctx, condition, recent)
	if err == nil {
		return verdict
	}
	slog.Warn("Engine.evaluateWithRetry: condition evaluation failed, retrying", "error", err, "conversationID", state.ConversationID, "step", step.ID)

	verdict, err = e.evaluator.Evaluate(ctx, condition, recent)
	if err != nil {
		slog.Error("Engine.evaluateWithRetry: condition evaluation failed after retry, taking false branch", "error", err, "conversationID", state.ConversationID, "step", step.ID)
		return false
	}
	return verdict
}

// generateWithRetry streams one model reply through the sink, retrying once
// on upstream failure. Fragments already relayed before a mid-stream failure
// are not recalled, so delivery is at-least-once; the committed reply is the
// text of the successful attempt.
func (e *Engine) generateWithRetry(ctx context.Context, conversationID string, messages []openai.ChatCompletionMessageParamUnion, sink StreamSink) (string, error) {
	filter := &markerFilter{sink: sink}
	reply, err := e.client.GenerateStream(ctx, messages, filter.WriteFragment)
	if err == nil {
		filter.Flush()
		return reply, nil
	}
	slog.Warn("Engine.generateWithRetry: model call failed, retrying", "error", err, "conversationID", conversationID)

	filter = &markerFilter{sink: sink}
	reply, err = e.client.GenerateStream(ctx, messages, filter.WriteFragment)
	if err != nil {
		slog.Error("Engine.generateWithRetry: model call failed after retry", "error", err, "conversationID", conversationID)
		return "", fmt.Errorf("model call failed after retry: %w", err)
	}
	filter.Flush()
	return reply, nil
}

// buildStepMessages assembles the model input for a reply turn: the stored
// history, known facts, and a directive describing the current step. The
// directive is transient and never persisted.
func (e *Engine) buildStepMessages(state *models.ConversationState, step *models.SurveyStep, vars map[string]string) []openai.ChatCompletionMessageParamUnion {
	messages := toOpenAIMessages(state.Messages)
	if state.Facts != "" {
		messages = append(messages, openai.SystemMessage("Facts the participant has already provided:\n"+state.Facts))
	}

	directive := "CURRENT INTERVIEW STAGE:\n" + ResolveVariables(step.Content, vars) +
		"\n\nGuide the conversation toward this stage's goal and respond to the participant's latest message."
	if step.Type == models.StepTypeLinear {
		directive += fmt.Sprintf(" When the goal is fully satisfied, append the marker %s at the very end of your reply.", stepDoneMarker)
	}
	return append(messages, openai.SystemMessage(directive))
}

// toOpenAIMessages converts stored history to chat completion params.
func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.SystemMessage(m.Content))
		}
	}
	return out
}

// stripStepDoneMarker removes every occurrence of the completion marker and
// reports whether one was present.
func stripStepDoneMarker(reply string) (string, bool) {
	if !strings.Contains(reply, stepDoneMarker) {
		return reply, false
	}
	return strings.TrimSpace(strings.ReplaceAll(reply, stepDoneMarker, "")), true
}

// markerFilter relays stream fragments while holding back any trailing text
// that could be the start of the completion marker, so the marker itself is
// never shown to the client.
type markerFilter struct {
	sink    StreamSink
	pending string
}

// WriteFragment forwards buffered text with complete markers removed and a
// possible marker prefix withheld until more text arrives.
func (f *markerFilter) WriteFragment(text string) {
	s := f.pending + text
	s = strings.ReplaceAll(s, stepDoneMarker, "")

	hold := 0
	maxHold := len(stepDoneMarker) - 1
	if maxHold > len(s) {
		maxHold = len(s)
	}
	for i := maxHold; i > 0; i-- {
		if strings.HasSuffix(s, stepDoneMarker[:i]) {
			hold = i
			break
		}
	}

	if emit := s[:len(s)-hold]; emit != "" {
		f.sink.WriteFragment(emit)
	}
	f.pending = s[len(s)-hold:]
}

// Flush emits any withheld text that turned out not to be a marker.
func (f *markerFilter) Flush() {
	if f.pending == "" {
		return
	}
	// A bare marker prefix at the end of the reply is dropped; the committed
	// reply text is stripped of markers the same way.
	if !strings.HasPrefix(stepDoneMarker, f.pending) {
		f.sink.WriteFragment(f.pending)
	}
	f.pending = ""
}
