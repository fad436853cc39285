package gateway

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/rahul/taskpilot/internal/agent"
)

// Messenger defines the interface for chat gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start listens for messages until ctx is cancelled.
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

const thinkingFailed = "I'm having trouble thinking right now..."

// respond asks the brain for a reply. Errors are logged and turned into a
// short apology so the chat always gets an answer.
func respond(ctx context.Context, brain agent.Brain, logger *slog.Logger, chatID, text string) string {
	reply, err := brain.Think(ctx, chatID, text)
	if err != nil {
		logger.Error("brain failed", "chat_id", chatID, "error", err)
		return thinkingFailed
	}
	if strings.TrimSpace(reply) == "" {
		return "Done."
	}
	return reply
}

// splitMessage cuts text into chunks of at most limit bytes, preferring line
// breaks and never splitting a rune.
func splitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(text)
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
