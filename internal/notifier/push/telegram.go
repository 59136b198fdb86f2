package push

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
)

// MessageSender is the subset of telego.Bot the provider uses.
type MessageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// TelegramProvider delivers pushes as Telegram bot messages. Push tokens are
// numeric chat ids or @channel usernames.
type TelegramProvider struct {
	bot MessageSender
}

// NewTelegramProvider creates a provider from a bot token.
func NewTelegramProvider(botToken string) (*TelegramProvider, error) {
	bot, err := telego.NewBot(botToken, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramProvider{bot: bot}, nil
}

// NewTelegramProviderWithSender creates a provider around an existing sender.
func NewTelegramProviderWithSender(bot MessageSender) *TelegramProvider {
	return &TelegramProvider{bot: bot}
}

// Name returns the provider name.
func (p *TelegramProvider) Name() string {
	return "telegram"
}

// Push sends text to the chat identified by token.
func (p *TelegramProvider) Push(ctx context.Context, token, text string) error {
	chat, err := ParseChatID(token)
	if err != nil {
		return err
	}
	if _, err := p.bot.SendMessage(ctx, &telego.SendMessageParams{ChatID: chat, Text: text}); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// ParseChatID converts a push token into a Telegram chat id.
func ParseChatID(token string) (telego.ChatID, error) {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "@") && len(token) > 1 {
		return telego.ChatID{Username: token}, nil
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("invalid telegram chat id %q", token)
	}
	return telego.ChatID{ID: id}, nil
}
