// Package models defines the core data structures for SurveyPipe.
//
// It includes survey templates, hosts, chat-log archive records, and the
// shared API response envelope used across modules.
package models

import (
	"errors"
	"time"
)

// StepType defines how the step transition engine leaves a survey step.
type StepType string

const (
	// StepTypeLinear advances to the next step in template order.
	StepTypeLinear StepType = "linear"
	// StepTypeConditional branches on an LLM-evaluated condition.
	StepTypeConditional StepType = "conditional"
)

// TerminateTarget is the branch target sentinel that ends the conversation.
const TerminateTarget = "end"

// Validation constants for input validation
const (
	// MaxStepContentLength defines the maximum allowed length for step content
	MaxStepContentLength = 4096
	// MaxSystemPromptLength defines the maximum allowed length for template system prompts
	MaxSystemPromptLength = 8192
	// MaxHostNameLength defines the maximum allowed length for host names
	MaxHostNameLength = 200
)

// Error variables for better error handling and testability
var (
	ErrEmptyTemplateTheme   = errors.New("template theme cannot be empty")
	ErrEmptySystemPrompt    = errors.New("template system prompt cannot be empty")
	ErrSystemPromptTooLong  = errors.New("template system prompt exceeds maximum length")
	ErrEmptyWelcomeMessage  = errors.New("template welcome message cannot be empty")
	ErrEmptyEndMessage      = errors.New("template end message cannot be empty")
	ErrInvalidMaxTurns      = errors.New("template max turns must be positive")
	ErrNoSteps              = errors.New("template requires at least one step")
	ErrEmptyStepID          = errors.New("step id cannot be empty")
	ErrDuplicateStepID      = errors.New("step ids must be unique")
	ErrEmptyStepContent     = errors.New("step content cannot be empty")
	ErrStepContentTooLong   = errors.New("step content exceeds maximum length")
	ErrInvalidStepType      = errors.New("invalid step type")
	ErrMissingCondition     = errors.New("condition is required for conditional steps")
	ErrMissingBranchTarget  = errors.New("conditional steps require true and false targets")
	ErrUnknownBranchTarget  = errors.New("branch target does not reference a known step")
	ErrDuplicateVariableKey = errors.New("variable keys must be unique")
	ErrEmptyVariableKey     = errors.New("variable key cannot be empty")
	ErrEmptyHostName        = errors.New("host name cannot be empty")
	ErrHostNameTooLong      = errors.New("host name exceeds maximum length")
	ErrEmptyHostRole        = errors.New("host role cannot be empty")
)

// IsValidStepType checks if the given step type is supported.
func IsValidStepType(st StepType) bool {
	switch st {
	case StepTypeLinear, StepTypeConditional:
		return true
	default:
		return false
	}
}

// Variable is a named substitution value applied to template text via {{key}}.
type Variable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SurveyStep represents one scripted stage of a survey conversation.
// Linear steps advance in template order; conditional steps carry a
// natural-language condition and route to TrueTarget or FalseTarget,
// either of which may be another step id or the sentinel "end".
type SurveyStep struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Type        StepType `json:"type"`
	Condition   string   `json:"condition,omitempty"`
	TrueTarget  string   `json:"true_target,omitempty"`
	FalseTarget string   `json:"false_target,omitempty"`
}

// SurveyTemplate describes a scripted multi-step survey interview.
type SurveyTemplate struct {
	ID                  string       `json:"id"`
	Theme               string       `json:"theme"`
	SystemPrompt        string       `json:"system_prompt"`
	BackgroundKnowledge string       `json:"background_knowledge,omitempty"`
	MaxTurns            int          `json:"max_turns"`
	WelcomeMessage      string       `json:"welcome_message"`
	EndMessage          string       `json:"end_message"`
	HostID              string       `json:"host_id,omitempty"`
	Steps               []SurveyStep `json:"steps"`
	Variables           []Variable   `json:"variables,omitempty"`
}

// Validate performs comprehensive validation on a SurveyTemplate structure.
func (t *SurveyTemplate) Validate() error {
	if t.Theme == "" {
		return ErrEmptyTemplateTheme
	}
	if t.SystemPrompt == "" {
		return ErrEmptySystemPrompt
	}
	if len(t.SystemPrompt) > MaxSystemPromptLength {
		return ErrSystemPromptTooLong
	}
	if t.WelcomeMessage == "" {
		return ErrEmptyWelcomeMessage
	}
	if t.EndMessage == "" {
		return ErrEmptyEndMessage
	}
	if t.MaxTurns <= 0 {
		return ErrInvalidMaxTurns
	}
	if len(t.Steps) == 0 {
		return ErrNoSteps
	}

	seen := make(map[string]bool, len(t.Steps))
	for _, step := range t.Steps {
		if step.ID == "" {
			return ErrEmptyStepID
		}
		if seen[step.ID] {
			return ErrDuplicateStepID
		}
		seen[step.ID] = true
		if step.Content == "" {
			return ErrEmptyStepContent
		}
		if len(step.Content) > MaxStepContentLength {
			return ErrStepContentTooLong
		}
		if !IsValidStepType(step.Type) {
			return ErrInvalidStepType
		}
	}

	// Branch targets can only be checked once all step ids are known.
	for _, step := range t.Steps {
		if step.Type != StepTypeConditional {
			continue
		}
		if step.Condition == "" {
			return ErrMissingCondition
		}
		if step.TrueTarget == "" || step.FalseTarget == "" {
			return ErrMissingBranchTarget
		}
		for _, target := range []string{step.TrueTarget, step.FalseTarget} {
			if target != TerminateTarget && !seen[target] {
				return ErrUnknownBranchTarget
			}
		}
	}

	varKeys := make(map[string]bool, len(t.Variables))
	for _, v := range t.Variables {
		if v.Key == "" {
			return ErrEmptyVariableKey
		}
		if varKeys[v.Key] {
			return ErrDuplicateVariableKey
		}
		varKeys[v.Key] = true
	}

	return nil
}

// StepByID returns the step with the given id, or false when absent.
func (t *SurveyTemplate) StepByID(id string) (*SurveyStep, bool) {
	for i := range t.Steps {
		if t.Steps[i].ID == id {
			return &t.Steps[i], true
		}
	}
	return nil, false
}

// NextStep returns the step following the given id in template order,
// or false when the id names the last step (or is unknown).
func (t *SurveyTemplate) NextStep(afterID string) (*SurveyStep, bool) {
	for i := range t.Steps {
		if t.Steps[i].ID == afterID && i+1 < len(t.Steps) {
			return &t.Steps[i+1], true
		}
	}
	return nil, false
}

// VariableMap returns the template variables as a lookup map.
func (t *SurveyTemplate) VariableMap() map[string]string {
	m := make(map[string]string, len(t.Variables))
	for _, v := range t.Variables {
		m[v.Key] = v.Value
	}
	return m
}

// Host represents an interviewer persona whose role text is appended to the
// system prompt of templates that bind it.
type Host struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Validate performs validation on a Host structure.
func (h *Host) Validate() error {
	if h.Name == "" {
		return ErrEmptyHostName
	}
	if len(h.Name) > MaxHostNameLength {
		return ErrHostNameTooLong
	}
	if h.Role == "" {
		return ErrEmptyHostRole
	}
	return nil
}

// Chat-log message type labels used in archive records.
const (
	ChatLogTypeHuman  = "HumanMessage"
	ChatLogTypeAI     = "AIMessage"
	ChatLogTypeSystem = "SystemMessage"
)

// ChatLogTimestampLayout is the compact yyyymmddhhmmss layout used for the
// archive record's timestamp field.
const ChatLogTimestampLayout = "20060102150405"

// ChatLogMessage is one archived message inside a ChatLog record.
type ChatLogMessage struct {
	Type             string                 `json:"type"`
	Content          string                 `json:"content"`
	Timestamp        string                 `json:"timestamp"`
	AdditionalKwargs map[string]interface{} `json:"additional_kwargs,omitempty"`
}

// ChatLog is the durable archive record written when a conversation ends.
type ChatLog struct {
	ConversationID string           `json:"conversation_id"`
	TemplateID     string           `json:"template_id"`
	Timestamp      string           `json:"timestamp"`
	CreatedAt      time.Time        `json:"created_at"`
	MessageCount   int              `json:"message_count"`
	Messages       []ChatLogMessage `json:"messages,omitempty"`
}

// Chat request payloads

// ChatStreamRequest starts a conversation (first turn only).
type ChatStreamRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	TemplateID     string `json:"template_id"`
}

// Validate checks that all required fields are present.
func (r *ChatStreamRequest) Validate() error {
	if r.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if r.Message == "" {
		return errors.New("message is required")
	}
	if r.TemplateID == "" {
		return errors.New("template_id is required")
	}
	return nil
}

// ChatContinueRequest carries a follow-up user turn.
type ChatContinueRequest struct {
	ConversationID string `json:"conversation_id"`
	UserResponse   string `json:"user_response"`
	TemplateID     string `json:"template_id,omitempty"`
}

// Validate checks that all required fields are present.
func (r *ChatContinueRequest) Validate() error {
	if r.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if r.UserResponse == "" {
		return errors.New("user_response is required")
	}
	return nil
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
