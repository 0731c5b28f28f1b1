// Package store provides storage backends for SurveyPipe.
//
// This file implements a SQLite-backed store for templates, hosts,
// conversation state, and chat logs.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveSurveyTemplate stores or replaces a survey template.
func (s *SQLiteStore) SaveSurveyTemplate(t models.SurveyTemplate) error {
	data, err := json.Marshal(t)
	if err != nil {
		slog.Error("SQLiteStore SaveSurveyTemplate marshal failed", "error", err, "templateID", t.ID)
		return fmt.Errorf("failed to marshal template %s: %w", t.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO survey_templates (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		t.ID, string(data), time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveSurveyTemplate failed", "error", err, "templateID", t.ID)
		return fmt.Errorf("failed to save template %s: %w", t.ID, err)
	}
	slog.Debug("SQLiteStore SaveSurveyTemplate succeeded", "templateID", t.ID)
	return nil
}

// GetSurveyTemplate retrieves a survey template by id.
func (s *SQLiteStore) GetSurveyTemplate(id string) (*models.SurveyTemplate, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM survey_templates WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSurveyTemplate failed", "error", err, "templateID", id)
		return nil, fmt.Errorf("failed to query template %s: %w", id, err)
	}
	var t models.SurveyTemplate
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		slog.Error("SQLiteStore GetSurveyTemplate unmarshal failed", "error", err, "templateID", id)
		return nil, fmt.Errorf("failed to decode template %s: %w", id, err)
	}
	return &t, nil
}

// ListSurveyTemplates returns all stored templates.
func (s *SQLiteStore) ListSurveyTemplates() ([]models.SurveyTemplate, error) {
	rows, err := s.db.Query(`SELECT data FROM survey_templates ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListSurveyTemplates query failed", "error", err)
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []models.SurveyTemplate
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		var t models.SurveyTemplate
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("failed to decode template row: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate template rows: %w", err)
	}
	slog.Debug("SQLiteStore ListSurveyTemplates succeeded", "count", len(templates))
	return templates, nil
}

// DeleteSurveyTemplate removes a survey template.
func (s *SQLiteStore) DeleteSurveyTemplate(id string) error {
	_, err := s.db.Exec(`DELETE FROM survey_templates WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteSurveyTemplate failed", "error", err, "templateID", id)
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	return nil
}

// SaveHost stores or replaces a host.
func (s *SQLiteStore) SaveHost(h models.Host) error {
	_, err := s.db.Exec(`INSERT INTO hosts (id, name, role) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role`,
		h.ID, h.Name, h.Role)
	if err != nil {
		slog.Error("SQLiteStore SaveHost failed", "error", err, "hostID", h.ID)
		return fmt.Errorf("failed to save host %s: %w", h.ID, err)
	}
	slog.Debug("SQLiteStore SaveHost succeeded", "hostID", h.ID)
	return nil
}

// GetHost retrieves a host by id.
func (s *SQLiteStore) GetHost(id string) (*models.Host, error) {
	var h models.Host
	err := s.db.QueryRow(`SELECT id, name, role FROM hosts WHERE id = ?`, id).Scan(&h.ID, &h.Name, &h.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetHost failed", "error", err, "hostID", id)
		return nil, fmt.Errorf("failed to query host %s: %w", id, err)
	}
	return &h, nil
}

// ListHosts returns all stored hosts.
func (s *SQLiteStore) ListHosts() ([]models.Host, error) {
	rows, err := s.db.Query(`SELECT id, name, role FROM hosts ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListHosts query failed", "error", err)
		return nil, fmt.Errorf("failed to query hosts: %w", err)
	}
	defer rows.Close()

	var hosts []models.Host
	for rows.Next() {
		var h models.Host
		if err := rows.Scan(&h.ID, &h.Name, &h.Role); err != nil {
			return nil, fmt.Errorf("failed to scan host row: %w", err)
		}
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate host rows: %w", err)
	}
	return hosts, nil
}

// DeleteHost removes a host.
func (s *SQLiteStore) DeleteHost(id string) error {
	_, err := s.db.Exec(`DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteHost failed", "error", err, "hostID", id)
		return fmt.Errorf("failed to delete host %s: %w", id, err)
	}
	return nil
}

// SaveConversationState stores or updates the state of a conversation.
func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState marshal failed", "error", err, "conversationID", state.ConversationID)
		return fmt.Errorf("failed to marshal conversation state %s: %w", state.ConversationID, err)
	}
	_, err = s.db.Exec(`INSERT INTO conversation_states (conversation_id, template_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		state.ConversationID, state.TemplateID, string(data), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "conversationID", state.ConversationID)
		return fmt.Errorf("failed to save conversation state %s: %w", state.ConversationID, err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "conversationID", state.ConversationID, "step", state.CurrentStepID)
	return nil
}

// GetConversationState retrieves the state of a conversation.
func (s *SQLiteStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM conversation_states WHERE conversation_id = ?`, conversationID).Scan(&data)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationState not found", "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query conversation state %s: %w", conversationID, err)
	}
	var state models.ConversationState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		slog.Error("SQLiteStore GetConversationState unmarshal failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to decode conversation state %s: %w", conversationID, err)
	}
	return &state, nil
}

// SaveChatLog stores or replaces an archived chat log.
func (s *SQLiteStore) SaveChatLog(log models.ChatLog) error {
	messages, err := json.Marshal(log.Messages)
	if err != nil {
		slog.Error("SQLiteStore SaveChatLog marshal failed", "error", err, "conversationID", log.ConversationID)
		return fmt.Errorf("failed to marshal chat log %s: %w", log.ConversationID, err)
	}
	_, err = s.db.Exec(`INSERT INTO chat_logs (conversation_id, template_id, timestamp, created_at, message_count, messages)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET template_id = excluded.template_id,
			timestamp = excluded.timestamp, created_at = excluded.created_at,
			message_count = excluded.message_count, messages = excluded.messages`,
		log.ConversationID, log.TemplateID, log.Timestamp, log.CreatedAt, log.MessageCount, string(messages))
	if err != nil {
		slog.Error("SQLiteStore SaveChatLog failed", "error", err, "conversationID", log.ConversationID)
		return fmt.Errorf("failed to save chat log %s: %w", log.ConversationID, err)
	}
	slog.Debug("SQLiteStore SaveChatLog succeeded", "conversationID", log.ConversationID, "messageCount", log.MessageCount)
	return nil
}

// GetChatLog retrieves an archived chat log by conversation id.
func (s *SQLiteStore) GetChatLog(conversationID string) (*models.ChatLog, error) {
	var log models.ChatLog
	var messages string
	err := s.db.QueryRow(`SELECT conversation_id, template_id, timestamp, created_at, message_count, messages
		FROM chat_logs WHERE conversation_id = ?`, conversationID).
		Scan(&log.ConversationID, &log.TemplateID, &log.Timestamp, &log.CreatedAt, &log.MessageCount, &messages)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetChatLog failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query chat log %s: %w", conversationID, err)
	}
	if err := json.Unmarshal([]byte(messages), &log.Messages); err != nil {
		slog.Error("SQLiteStore GetChatLog unmarshal failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to decode chat log %s: %w", conversationID, err)
	}
	return &log, nil
}

// ListChatLogs returns archive summaries (without messages), newest first.
func (s *SQLiteStore) ListChatLogs() ([]models.ChatLog, error) {
	rows, err := s.db.Query(`SELECT conversation_id, template_id, timestamp, created_at, message_count
		FROM chat_logs ORDER BY created_at DESC`)
	if err != nil {
		slog.Error("SQLiteStore ListChatLogs query failed", "error", err)
		return nil, fmt.Errorf("failed to query chat logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ChatLog
	for rows.Next() {
		var log models.ChatLog
		if err := rows.Scan(&log.ConversationID, &log.TemplateID, &log.Timestamp, &log.CreatedAt, &log.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan chat log row: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat log rows: %w", err)
	}
	return logs, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
