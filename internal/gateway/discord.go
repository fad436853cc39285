package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/rahul/taskpilot/internal/agent"
)

// discordLimit is the maximum message length Discord accepts.
const discordLimit = 2000

// DiscordGateway answers messages in guild channels and DMs.
type DiscordGateway struct {
	session *discordgo.Session
	brain   agent.Brain
	logger  *slog.Logger
	// guildID restricts the bot to one guild when set.
	guildID string
	// prefix, when set, is required at the start of guild messages.
	prefix string
	ctx    context.Context
}

func NewDiscordGateway(token, guildID, prefix string, brain agent.Brain, logger *slog.Logger) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &DiscordGateway{
		session: session,
		brain:   brain,
		logger:  logger.With("gateway", "discord"),
		guildID: guildID,
		prefix:  prefix,
		ctx:     context.Background(),
	}
	session.AddHandler(d.handleReady)
	session.AddHandler(d.handleMessage)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	return d, nil
}

// Start opens the connection and blocks until ctx is cancelled.
func (d *DiscordGateway) Start(ctx context.Context) error {
	d.ctx = ctx
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	<-ctx.Done()
	return d.Stop()
}

func (d *DiscordGateway) Stop() error {
	return d.session.Close()
}

func (d *DiscordGateway) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.logger.Info("connected", "user", r.User.Username)
}

func (d *DiscordGateway) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	text, ok := d.accept(m.GuildID, m.Content)
	if !ok {
		return
	}
	d.logger.Info("message received", "channel_id", m.ChannelID, "user", m.Author.Username, "text", text)

	if err := s.ChannelTyping(m.ChannelID); err != nil {
		d.logger.Debug("typing indicator failed", "error", err)
	}
	if err := d.Send(m.ChannelID, respond(d.ctx, d.brain, d.logger, m.ChannelID, text)); err != nil {
		d.logger.Error("send failed", "channel_id", m.ChannelID, "error", err)
	}
}

// accept filters messages by guild and prefix and returns the task text.
// Direct messages have no guild and never need the prefix.
func (d *DiscordGateway) accept(guildID, content string) (string, bool) {
	if d.guildID != "" && guildID != "" && guildID != d.guildID {
		return "", false
	}
	text := strings.TrimSpace(content)
	if guildID != "" && d.prefix != "" {
		rest, found := strings.CutPrefix(text, d.prefix)
		if !found {
			return "", false
		}
		text = strings.TrimSpace(rest)
	}
	return text, text != ""
}

func (d *DiscordGateway) Send(chatID string, text string) error {
	for _, chunk := range splitMessage(text, discordLimit) {
		if _, err := d.session.ChannelMessageSend(chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

var _ Messenger = (*DiscordGateway)(nil)
