// Package models defines state structures for SurveyPipe conversations.
package models

import "time"

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	// RoleUser marks a message written by the survey participant.
	RoleUser MessageRole = "user"
	// RoleAssistant marks a message produced by the LLM interviewer.
	RoleAssistant MessageRole = "assistant"
	// RoleSystem marks instructions and summaries injected by the engine.
	RoleSystem MessageRole = "system"
)

// Message is one entry of a conversation's message history.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConversationState is the persistent record of one survey conversation.
// The template is snapshotted when the conversation starts, so later edits
// to the stored template never affect conversations already in flight.
type ConversationState struct {
	ConversationID string         `json:"conversation_id"`
	TemplateID     string         `json:"template_id"`
	Template       SurveyTemplate `json:"template"`
	CurrentStepID  string         `json:"current_step_id"`
	StepTurns      int            `json:"step_turns"`
	Messages       []Message      `json:"messages"`
	Facts          string         `json:"facts,omitempty"`
	FirstMessage   bool           `json:"first_message"`
	Terminal       bool           `json:"terminal"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ToChatLog converts a finished conversation into its archive record.
func (s *ConversationState) ToChatLog(now time.Time) ChatLog {
	msgs := make([]ChatLogMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		logType := ChatLogTypeSystem
		switch m.Role {
		case RoleUser:
			logType = ChatLogTypeHuman
		case RoleAssistant:
			logType = ChatLogTypeAI
		}
		msgs = append(msgs, ChatLogMessage{
			Type:      logType,
			Content:   m.Content,
			Timestamp: m.Timestamp.Format(ChatLogTimestampLayout),
		})
	}
	return ChatLog{
		ConversationID: s.ConversationID,
		TemplateID:     s.TemplateID,
		Timestamp:      now.Format(ChatLogTimestampLayout),
		CreatedAt:      now,
		MessageCount:   len(msgs),
		Messages:       msgs,
	}
}
