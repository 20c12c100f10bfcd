package notify

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v3"

	"github.com/unishark/portalwatch/internal/watch"
)

// TelegramSender is the slice of the telebot API the channel uses.
type TelegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramChannel delivers MarkdownV2 payloads to a chat via the Bot API.
type TelegramChannel struct {
	bot TelegramSender
}

// NewTelegramChannel creates a Telegram channel backed by the given bot.
func NewTelegramChannel(bot TelegramSender) *TelegramChannel {
	return &TelegramChannel{bot: bot}
}

// Name implements watch.Channel.
func (c *TelegramChannel) Name() string { return "telegram" }

// Deliver sends the payload text to the chat identified by destination.
func (c *TelegramChannel) Deliver(_ context.Context, destination string, payload watch.Payload) error {
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", destination, err)
	}
	_, err = c.bot.Send(tele.ChatID(chatID), payload.Text, &tele.SendOptions{
		ParseMode: tele.ModeMarkdownV2,
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
