// Package bot routes Telegram commands and button presses to the subscriber store and daily cycle.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"outage-notifier/pkg/outage"
	"outage-notifier/planner"
)

// API is the part of *tgbotapi.BotAPI the router uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Store interface for user persistence.
type Store interface {
	Load(ctx context.Context, id int64) (*outage.User, error)
	Save(ctx context.Context, u *outage.User) error
	SetPaused(ctx context.Context, id int64, paused bool) (*outage.User, error)
	SetSubqueue(ctx context.Context, id int64, subqueue string) (*outage.User, error)
}

// Summarizer sends today's schedule on demand.
type Summarizer interface {
	SendToday(ctx context.Context, user *outage.User) error
}

// Reminders gives access to a user's planned reminders.
type Reminders interface {
	Cancel(userID int64) error
	Pending(userID int64) []planner.Job
}

// Defaults are applied to users created by /start.
type Defaults struct {
	DailyHour     int
	DailyMinute   int
	RemindMinutes int
}

// Router wires Telegram updates to handlers.
type Router struct {
	api        API
	store      Store
	summarizer Summarizer
	reminders  Reminders
	limiter    *rateLimiter
	logger     *slog.Logger
	defaults   Defaults
	wg         sync.WaitGroup
}

// NewRouter creates a new Telegram router. todayLimit caps on-demand summaries per chat per hour.
func NewRouter(api API, store Store, summarizer Summarizer, reminders Reminders, defaults Defaults, todayLimit int, logger *slog.Logger) *Router {
	return &Router{
		api:        api,
		store:      store,
		summarizer: summarizer,
		reminders:  reminders,
		limiter:    newRateLimiter(todayLimit, time.Hour),
		logger:     logger,
		defaults:   defaults,
	}
}

// Run long-polls for updates until ctx is done, handling each update in its own goroutine.
func (r *Router) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := r.api.GetUpdatesChan(u)
	r.logger.Info("Telegram update loop started")

	defer func() {
		r.api.StopReceivingUpdates()
		r.wg.Wait()
		r.logger.Info("Telegram update loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.HandleUpdate(ctx, upd)
			}()
		}
	}
}

// HandleUpdate routes a single update to the appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	// Text messages
	if upd.Message != nil {
		msg := upd.Message
		chatID := msg.Chat.ID

		switch command(msg.Text) {
		case "/start":
			r.handleStart(ctx, chatID)
		case "/today", "/сьогодні", "/сегодня":
			r.handleToday(ctx, chatID)
		case "/status":
			r.handleStatus(ctx, chatID)
		case "/pause":
			r.handlePause(ctx, chatID)
		case "/resume":
			r.handleResume(ctx, chatID)
		default:
			// Free-form text is ignored
		}
		return
	}

	// Callback queries (inline buttons)
	if cb := upd.CallbackQuery; cb != nil {
		if cb.Message == nil {
			r.answerCallback(cb.ID, "")
			return
		}
		chatID := cb.Message.Chat.ID
		messageID := cb.Message.MessageID

		switch {
		case strings.HasPrefix(cb.Data, cbSubqueuePrefix):
			r.handleSetSubqueue(ctx, chatID, messageID, strings.TrimPrefix(cb.Data, cbSubqueuePrefix))
			r.answerCallback(cb.ID, "")
		case cb.Data == cbToday:
			r.handleToday(ctx, chatID)
			r.answerCallback(cb.ID, okText)
		case cb.Data == cbChange:
			r.editText(chatID, messageID, changeText, subqueueKeyboard())
			r.answerCallback(cb.ID, "")
		default:
			// Unknown callback, ignore silently
			r.answerCallback(cb.ID, "")
		}
	}
}

// command returns the lower-cased leading command of text without a @botname suffix.
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}
