package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"outage-notifier/delivery"
	"outage-notifier/pkg/outage"
	"outage-notifier/poll"
	"outage-notifier/schedule"
	"outage-notifier/storage"
)

// ensureUser makes sure a user record exists; if not, creates it with defaults.
func (r *Router) ensureUser(ctx context.Context, chatID int64) (*outage.User, error) {
	u, err := r.store.Load(ctx, chatID)
	if err == nil {
		return u, nil
	}
	if !storage.IsNotFound(err) {
		return nil, err
	}

	u = &outage.User{
		ID:          chatID,
		CreatedAt:   time.Now().UTC(),
		DailyHour:   r.defaults.DailyHour,
		DailyMinute: r.defaults.DailyMinute,
		LeadMinutes: r.defaults.RemindMinutes,
	}
	if err := r.store.Save(ctx, u); err != nil {
		return nil, err
	}
	r.logger.Info("User created", "user_id", chatID)
	return u, nil
}

// --- Generic helpers ---

func (r *Router) send(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := r.api.Send(msg); err != nil {
		r.logger.Warn("Failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (r *Router) editText(chatID int64, messageID int, text string, markup tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if _, err := r.api.Send(edit); err != nil {
		r.logger.Warn("Failed to edit message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func (r *Router) answerCallback(id, text string) {
	if _, err := r.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		r.logger.Debug("Failed to answer callback", "callback_id", id, "error", err)
	}
}

// --- Core commands ---

func (r *Router) handleStart(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.logger.Error("Failed to initialise user", "chat_id", chatID, "error", err)
		r.send(chatID, internalErrText, nil)
		return
	}
	if u.Subqueue == "" {
		r.send(chatID, startText, subqueueKeyboard())
		return
	}
	r.send(chatID, fmt.Sprintf(knownSubqueueFmt, u.Subqueue), mainKeyboard())
}

func (r *Router) handleToday(ctx context.Context, chatID int64) {
	u, err := r.store.Load(ctx, chatID)
	if err != nil && !storage.IsNotFound(err) {
		r.logger.Error("Failed to load user", "chat_id", chatID, "error", err)
		r.send(chatID, internalErrText, nil)
		return
	}
	if u == nil || u.Subqueue == "" {
		r.send(chatID, chooseFirstText, nil)
		return
	}
	if u.Paused {
		r.send(chatID, inactiveText, nil)
		return
	}
	if !r.limiter.allow(chatID) {
		r.logger.Warn("On-demand summary rate limited", "chat_id", chatID)
		r.send(chatID, rateLimitedText, nil)
		return
	}

	err = r.summarizer.SendToday(ctx, u)
	switch {
	case err == nil:
	case schedule.IsFetchError(err):
		r.logger.Warn("On-demand fetch failed", "chat_id", chatID, "error", err)
		r.send(chatID, fetchFailedText, nil)
	case errors.Is(err, poll.ErrInactive):
		r.send(chatID, inactiveText, nil)
	default:
		r.logger.Error("On-demand summary failed", "chat_id", chatID, "error", err)
		r.send(chatID, internalErrText, nil)
	}
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.logger.Error("Failed to initialise user", "chat_id", chatID, "error", err)
		r.send(chatID, internalErrText, nil)
		return
	}
	r.send(chatID, delivery.FormatStatus(u, len(r.reminders.Pending(chatID))), mainKeyboard())
}

func (r *Router) handlePause(ctx context.Context, chatID int64) {
	if _, err := r.ensureUser(ctx, chatID); err != nil {
		r.logger.Error("Failed to initialise user", "chat_id", chatID, "error", err)
		r.send(chatID, internalErrText, nil)
		return
	}
	if _, err := r.store.SetPaused(ctx, chatID, true); err != nil {
		r.logger.Error("Pause failed", "chat_id", chatID, "error", err)
		r.send(chatID, internalErrText, nil)
		return
	}
	if err := r.reminders.Cancel(chatID); err != nil {
		r.logger.Warn("Failed to cancel reminders", "chat_id", chatID, "error", err)
	}
	r.send(chatID, pausedText, nil)
}

func (r *Router) handleResume(ctx context.Context, chatID int64) {
	if _, err := r.ensureUser(ctx, chatID); err != nil {
		r.logger.Error("Failed to initialise user", "chat_id", chatID, "error", err)
		r.send(chatID, internalErrText, nil)
		return
	}
	u, err := r.store.SetPaused(ctx, chatID, false)
	if err != nil {
		r.logger.Error("Resume failed", "chat_id", chatID, "error", err)
		r.send(chatID, internalErrText, nil)
		return
	}
	if u.Subqueue == "" {
		r.send(chatID, startText, subqueueKeyboard())
		return
	}
	r.send(chatID, fmt.Sprintf(resumedFmt, outage.Clock{Hour: u.DailyHour, Minute: u.DailyMinute}), mainKeyboard())
}

func (r *Router) handleSetSubqueue(ctx context.Context, chatID int64, messageID int, subqueue string) {
	if !outage.ValidSubqueue(subqueue) {
		r.logger.Warn("Invalid subqueue in callback", "chat_id", chatID, "subqueue", subqueue)
		return
	}
	if _, err := r.ensureUser(ctx, chatID); err != nil {
		r.logger.Error("Failed to initialise user", "chat_id", chatID, "error", err)
		r.send(chatID, internalErrText, nil)
		return
	}
	if _, err := r.store.SetSubqueue(ctx, chatID, subqueue); err != nil {
		r.logger.Error("Failed to save subqueue", "chat_id", chatID, "subqueue", subqueue, "error", err)
		r.send(chatID, internalErrText, nil)
		return
	}
	// Reminders planned for the previous subqueue no longer apply.
	if err := r.reminders.Cancel(chatID); err != nil {
		r.logger.Warn("Failed to cancel reminders", "chat_id", chatID, "error", err)
	}
	r.logger.Info("Subqueue selected", "chat_id", chatID, "subqueue", subqueue)
	r.editText(chatID, messageID, fmt.Sprintf(savedFmt, subqueue), mainKeyboard())
}
