// Package store provides storage backends for SurveyPipe.
//
// This file implements a PostgreSQL-backed store for templates, hosts,
// conversation state, and chat logs.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveSurveyTemplate stores or replaces a survey template.
func (s *PostgresStore) SaveSurveyTemplate(t models.SurveyTemplate) error {
	data, err := json.Marshal(t)
	if err != nil {
		slog.Error("PostgresStore SaveSurveyTemplate marshal failed", "error", err, "templateID", t.ID)
		return fmt.Errorf("failed to marshal template %s: %w", t.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO survey_templates (id, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		t.ID, data, time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveSurveyTemplate failed", "error", err, "templateID", t.ID)
		return fmt.Errorf("failed to save template %s: %w", t.ID, err)
	}
	slog.Debug("PostgresStore SaveSurveyTemplate succeeded", "templateID", t.ID)
	return nil
}

// GetSurveyTemplate retrieves a survey template by id.
func (s *PostgresStore) GetSurveyTemplate(id string) (*models.SurveyTemplate, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM survey_templates WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSurveyTemplate failed", "error", err, "templateID", id)
		return nil, fmt.Errorf("failed to query template %s: %w", id, err)
	}
	var t models.SurveyTemplate
	if err := json.Unmarshal(data, &t); err != nil {
		slog.Error("PostgresStore GetSurveyTemplate unmarshal failed", "error", err, "templateID", id)
		return nil, fmt.Errorf("failed to decode template %s: %w", id, err)
	}
	return &t, nil
}

// ListSurveyTemplates returns all stored templates.
func (s *PostgresStore) ListSurveyTemplates() ([]models.SurveyTemplate, error) {
	rows, err := s.db.Query(`SELECT data FROM survey_templates ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListSurveyTemplates query failed", "error", err)
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []models.SurveyTemplate
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		var t models.SurveyTemplate
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to decode template row: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate template rows: %w", err)
	}
	slog.Debug("PostgresStore ListSurveyTemplates succeeded", "count", len(templates))
	return templates, nil
}

// DeleteSurveyTemplate removes a survey template.
func (s *PostgresStore) DeleteSurveyTemplate(id string) error {
	_, err := s.db.Exec(`DELETE FROM survey_templates WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteSurveyTemplate failed", "error", err, "templateID", id)
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	return nil
}

// SaveHost stores or replaces a host.
func (s *PostgresStore) SaveHost(h models.Host) error {
	_, err := s.db.Exec(`INSERT INTO hosts (id, name, role) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role`,
		h.ID, h.Name, h.Role)
	if err != nil {
		slog.Error("PostgresStore SaveHost failed", "error", err, "hostID", h.ID)
		return fmt.Errorf("failed to save host %s: %w", h.ID, err)
	}
	slog.Debug("PostgresStore SaveHost succeeded", "hostID", h.ID)
	return nil
}

// GetHost retrieves a host by id.
func (s *PostgresStore) GetHost(id string) (*models.Host, error) {
	var h models.Host
	err := s.db.QueryRow(`SELECT id, name, role FROM hosts WHERE id = $1`, id).Scan(&h.ID, &h.Name, &h.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetHost failed", "error", err, "hostID", id)
		return nil, fmt.Errorf("failed to query host %s: %w", id, err)
	}
	return &h, nil
}

// ListHosts returns all stored hosts.
func (s *PostgresStore) ListHosts() ([]models.Host, error) {
	rows, err := s.db.Query(`SELECT id, name, role FROM hosts ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListHosts query failed", "error", err)
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
func (s *PostgresStore) DeleteHost(id string) error {
	_, err := s.db.Exec(`DELETE FROM hosts WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteHost failed", "error", err, "hostID", id)
		return fmt.Errorf("failed to delete host %s: %w", id, err)
	}
	return nil
}

// SaveConversationState stores or updates the state of a conversation.
func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState marshal failed", "error", err, "conversationID", state.ConversationID)
		return fmt.Errorf("failed to marshal conversation state %s: %w", state.ConversationID, err)
	}
	_, err = s.db.Exec(`INSERT INTO conversation_states (conversation_id, template_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		state.ConversationID, state.TemplateID, data, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "conversationID", state.ConversationID)
		return fmt.Errorf("failed to save conversation state %s: %w", state.ConversationID, err)
	}
	slog.Debug("PostgresStore SaveConversationState succeeded", "conversationID", state.ConversationID, "step", state.CurrentStepID)
	return nil
}

// GetConversationState retrieves the state of a conversation.
func (s *PostgresStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM conversation_states WHERE conversation_id = $1`, conversationID).Scan(&data)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversationState not found", "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query conversation state %s: %w", conversationID, err)
	}
	var state models.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Error("PostgresStore GetConversationState unmarshal failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to decode conversation state %s: %w", conversationID, err)
	}
	return &state, nil
}

// SaveChatLog stores or replaces an archived chat log.
func (s *PostgresStore) SaveChatLog(log models.ChatLog) error {
	messages, err := json.Marshal(log.Messages)
	if err != nil {
		slog.Error("PostgresStore SaveChatLog marshal failed", "error", err, "conversationID", log.ConversationID)
		return fmt.Errorf("failed to marshal chat log %s: %w", log.ConversationID, err)
	}
	_, err = s.db.Exec(`INSERT INTO chat_logs (conversation_id, template_id, timestamp, created_at, message_count, messages)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id) DO UPDATE SET template_id = EXCLUDED.template_id,
			timestamp = EXCLUDED.timestamp, created_at = EXCLUDED.created_at,
			message_count = EXCLUDED.message_count, messages = EXCLUDED.messages`,
		log.ConversationID, log.TemplateID, log.Timestamp, log.CreatedAt, log.MessageCount, messages)
	if err != nil {
		slog.Error("PostgresStore SaveChatLog failed", "error", err, "conversationID", log.ConversationID)
		return fmt.Errorf("failed to save chat log %s: %w", log.ConversationID, err)
	}
	slog.Debug("PostgresStore SaveChatLog succeeded", "conversationID", log.ConversationID, "messageCount", log.MessageCount)
	return nil
}

// GetChatLog retrieves an archived chat log by conversation id.
func (s *PostgresStore) GetChatLog(conversationID string) (*models.ChatLog, error) {
	var log models.ChatLog
	var messages []byte
	err := s.db.QueryRow(`SELECT conversation_id, template_id, timestamp, created_at, message_count, messages
		FROM chat_logs WHERE conversation_id = $1`, conversationID).
		Scan(&log.ConversationID, &log.TemplateID, &log.Timestamp, &log.CreatedAt, &log.MessageCount, &messages)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetChatLog failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query chat log %s: %w", conversationID, err)
	}
	if err := json.Unmarshal(messages, &log.Messages); err != nil {
		slog.Error("PostgresStore GetChatLog unmarshal failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to decode chat log %s: %w", conversationID, err)
	}
	return &log, nil
}

// ListChatLogs returns archive summaries (without messages), newest first.
func (s *PostgresStore) ListChatLogs() ([]models.ChatLog, error) {
	rows, err := s.db.Query(`SELECT conversation_id, template_id, timestamp, created_at, message_count
		FROM chat_logs ORDER BY created_at DESC`)
	if err != nil {
		slog.Error("PostgresStore ListChatLogs query failed", "error", err)
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
