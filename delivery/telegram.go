package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botSender is satisfied by *tgbotapi.BotAPI.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// APIError is a failure reported by the Telegram Bot API.
type APIError struct {
	Code       int
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram %d: %s (retry after %ds)", e.Code, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("telegram %d: %s", e.Code, e.Message)
}

// IsBlocked checks if the chat refuses messages from the bot.
func IsBlocked(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == 403
}

// TelegramProvider sends messages through the Telegram Bot API in Markdown mode.
type TelegramProvider struct {
	bot    botSender
	logger *slog.Logger
}

// NewTelegramProvider creates a provider backed by bot, usually a *tgbotapi.BotAPI.
func NewTelegramProvider(bot botSender, logger *slog.Logger) *TelegramProvider {
	return &TelegramProvider{
		bot:    bot,
		logger: logger,
	}
}

// Send sends text to chatID once. Callers decide whether a failure matters.
func (p *TelegramProvider) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	p.logger.Info("Telegram API request starting",
		"method", "sendMessage",
		"chat_id", chatID,
		"length", len(text))

	startTime := time.Now()
	_, err := p.bot.Send(msg)
	duration := time.Since(startTime)
	if err != nil {
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			err = &APIError{Code: tgErr.Code, Message: tgErr.Message, RetryAfter: tgErr.RetryAfter}
		}
		p.logger.Warn("Telegram API request failed",
			"chat_id", chatID,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return fmt.Errorf("send to %d: %w", chatID, err)
	}

	p.logger.Info("Telegram API request completed",
		"method", "sendMessage",
		"chat_id", chatID,
		"duration_ms", duration.Milliseconds(),
		"status", "success")
	return nil
}
