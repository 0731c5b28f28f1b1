package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/store"
)

// SessionManager persists conversation state between turns and archives
// finished conversations.
type SessionManager interface {
	Load(ctx context.Context, conversationID string) (*models.ConversationState, error)
	Save(ctx context.Context, state *models.ConversationState) error
	Archive(ctx context.Context, state *models.ConversationState) error
}

// StoreSessionManager is a Store-backed SessionManager.
type StoreSessionManager struct {
	store store.Store
}

var _ SessionManager = (*StoreSessionManager)(nil)

// NewStoreSessionManager creates a session manager backed by the given store.
func NewStoreSessionManager(s store.Store) *StoreSessionManager {
	return &StoreSessionManager{store: s}
}

// Load retrieves the state of a conversation, or (nil, nil) when it has not
// started.
func (m *StoreSessionManager) Load(ctx context.Context, conversationID string) (*models.ConversationState, error) {
	state, err := m.store.GetConversationState(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	return state, nil
}

// Save persists the state of a conversation, stamping UpdatedAt.
func (m *StoreSessionManager) Save(ctx context.Context, state *models.ConversationState) error {
	state.UpdatedAt = time.Now()
	if err := m.store.SaveConversationState(*state); err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", state.ConversationID, err)
	}
	slog.Debug("StoreSessionManager.Save: state persisted", "conversationID", state.ConversationID, "step", state.CurrentStepID, "stepTurns", state.StepTurns, "terminal", state.Terminal)
	return nil
}

// Archive writes the durable chat-log record for a finished conversation.
func (m *StoreSessionManager) Archive(ctx context.Context, state *models.ConversationState) error {
	log := state.ToChatLog(time.Now())
	if err := m.store.SaveChatLog(log); err != nil {
		return fmt.Errorf("failed to archive conversation %s: %w", state.ConversationID, err)
	}
	slog.Info("StoreSessionManager.Archive: conversation archived", "conversationID", state.ConversationID, "messageCount", log.MessageCount)
	return nil
}
