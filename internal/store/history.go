package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/tmc/langchaingo/llms"
)

// DefaultMaxMessages bounds the stored messages per chat.
const DefaultMaxMessages = 20

// HistoryStore keeps a bounded message history per chat in sqlite.
type HistoryStore struct {
	DB          *sql.DB
	MaxMessages int
}

func NewHistoryStore(dbPath string, maxMessages int) (*HistoryStore, error) {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; gateways call in from several goroutines.
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id, id);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &HistoryStore{DB: db, MaxMessages: maxMessages}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

func (h *HistoryStore) AddMessage(chatID string, role Role, content string) error {
	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	if _, err := h.DB.Exec(query, chatID, string(role), content); err != nil {
		return err
	}
	return h.trim(chatID)
}

// AddExchange records a task and the summary that answered it.
func (h *HistoryStore) AddExchange(chatID, task, summary string) error {
	tx, err := h.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	if _, err := tx.Exec(query, chatID, string(RoleHuman), task); err != nil {
		return err
	}
	if _, err := tx.Exec(query, chatID, string(RoleAI), summary); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return h.trim(chatID)
}

// trim drops the oldest messages of a chat beyond MaxMessages.
func (h *HistoryStore) trim(chatID string) error {
	query := `DELETE FROM messages WHERE chat_id = ? AND id NOT IN (
		SELECT id FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?)`
	_, err := h.DB.Exec(query, chatID, chatID, h.MaxMessages)
	return err
}

// Recent returns up to limit messages of a chat, oldest first.
func (h *HistoryStore) Recent(chatID string, limit int) ([]Message, error) {
	query := `SELECT id, role, content, timestamp FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.Query(query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m  Message
			ts sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.ChatID = chatID
		m.Timestamp = parseTimestamp(ts.String)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Clear removes every message of a chat.
func (h *HistoryStore) Clear(chatID string) error {
	_, err := h.DB.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID)
	return err
}

// GetHistory returns the last messages of a chat as model messages.
func (h *HistoryStore) GetHistory(chatID string, limit int) ([]llms.MessageContent, error) {
	msgs, err := h.Recent(chatID, limit)
	if err != nil {
		return nil, err
	}

	history := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		var msgRole llms.ChatMessageType
		switch m.Role {
		case RoleAI:
			msgRole = llms.ChatMessageTypeAI
		case RoleSystem:
			msgRole = llms.ChatMessageTypeSystem
		default:
			msgRole = llms.ChatMessageTypeHuman
		}
		history = append(history, llms.MessageContent{
			Role:  msgRole,
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}
	return history, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
