package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rahul/taskpilot/internal/agent"
)

// telegramLimit is the maximum message length Telegram accepts.
const telegramLimit = 4096

type TelegramGateway struct {
	Bot    *tgbotapi.BotAPI
	Brain  agent.Brain
	Logger *slog.Logger
}

func NewTelegramGateway(token string, brain agent.Brain, logger *slog.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("gateway", "telegram")
	logger.Info("authorized", "account", bot.Self.UserName)

	return &TelegramGateway{
		Bot:    bot,
		Brain:  brain,
		Logger: logger,
	}, nil
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			tg.Bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			tg.handle(ctx, update.Message)
		}
	}
}

func (tg *TelegramGateway) handle(ctx context.Context, m *tgbotapi.Message) {
	user := ""
	if m.From != nil {
		user = m.From.UserName
	}
	tg.Logger.Info("message received", "chat_id", m.Chat.ID, "user", user, "text", m.Text)

	if _, err := tg.Bot.Request(tgbotapi.NewChatAction(m.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		tg.Logger.Debug("typing action failed", "error", err)
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	if err := tg.Send(chatID, respond(ctx, tg.Brain, tg.Logger, chatID, m.Text)); err != nil {
		tg.Logger.Error("send failed", "chat_id", chatID, "error", err)
	}
}

// Send delivers text as Markdown, resending a chunk as plain text when
// Telegram rejects its formatting.
func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	for _, chunk := range splitMessage(text, telegramLimit) {
		msg := tgbotapi.NewMessage(id, chunk)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := tg.Bot.Send(msg); err != nil {
			msg.ParseMode = ""
			if _, err := tg.Bot.Send(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}

var _ Messenger = (*TelegramGateway)(nil)
