// Package store provides storage backends for SurveyPipe.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backends for persistent deployments.
package store

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// Store defines persistence operations for survey templates, hosts,
// conversation state, and archived chat logs. Lookup methods return
// (nil, nil) when the record does not exist.
type Store interface {
	SaveSurveyTemplate(t models.SurveyTemplate) error
	GetSurveyTemplate(id string) (*models.SurveyTemplate, error)
	ListSurveyTemplates() ([]models.SurveyTemplate, error)
	DeleteSurveyTemplate(id string) error

	SaveHost(h models.Host) error
	GetHost(id string) (*models.Host, error)
	ListHosts() ([]models.Host, error)
	DeleteHost(id string) error

	SaveConversationState(state models.ConversationState) error
	GetConversationState(conversationID string) (*models.ConversationState, error)

	SaveChatLog(log models.ChatLog) error
	GetChatLog(conversationID string) (*models.ChatLog, error)
	ListChatLogs() ([]models.ChatLog, error)

	Close() error
}

// InMemoryStore is a map-backed Store for tests and development.
type InMemoryStore struct {
	mu        sync.RWMutex
	templates map[string]models.SurveyTemplate
	hosts     map[string]models.Host
	states    map[string]models.ConversationState
	chatLogs  map[string]models.ChatLog
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		templates: make(map[string]models.SurveyTemplate),
		hosts:     make(map[string]models.Host),
		states:    make(map[string]models.ConversationState),
		chatLogs:  make(map[string]models.ChatLog),
	}
}

// SaveSurveyTemplate stores or replaces a survey template.
func (s *InMemoryStore) SaveSurveyTemplate(t models.SurveyTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
	return nil
}

// GetSurveyTemplate retrieves a survey template by id.
func (s *InMemoryStore) GetSurveyTemplate(id string) (*models.SurveyTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// ListSurveyTemplates returns all stored templates sorted by id.
func (s *InMemoryStore) ListSurveyTemplates() ([]models.SurveyTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SurveyTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteSurveyTemplate removes a survey template.
func (s *InMemoryStore) DeleteSurveyTemplate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.templates, id)
	return nil
}

// SaveHost stores or replaces a host.
func (s *InMemoryStore) SaveHost(h models.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[h.ID] = h
	return nil
}

// GetHost retrieves a host by id.
func (s *InMemoryStore) GetHost(id string) (*models.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hosts[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// ListHosts returns all stored hosts sorted by id.
func (s *InMemoryStore) ListHosts() ([]models.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteHost removes a host.
func (s *InMemoryStore) DeleteHost(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hosts, id)
	return nil
}

// SaveConversationState stores or replaces a conversation state.
func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ConversationID] = state
	slog.Debug("InMemoryStore SaveConversationState succeeded", "conversationID", state.ConversationID, "step", state.CurrentStepID)
	return nil
}

// GetConversationState retrieves the state of a conversation.
func (s *InMemoryStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[conversationID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// SaveChatLog stores or replaces an archived chat log.
func (s *InMemoryStore) SaveChatLog(log models.ChatLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatLogs[log.ConversationID] = log
	return nil
}

// GetChatLog retrieves an archived chat log by conversation id.
func (s *InMemoryStore) GetChatLog(conversationID string) (*models.ChatLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.chatLogs[conversationID]
	if !ok {
		return nil, nil
	}
	return &log, nil
}

// ListChatLogs returns archive summaries (without messages) sorted by
// creation time, newest first.
func (s *InMemoryStore) ListChatLogs() ([]models.ChatLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatLog, 0, len(s.chatLogs))
	for _, log := range s.chatLogs {
		summary := log
		summary.Messages = nil
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
