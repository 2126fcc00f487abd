package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"outage-notifier/pkg/outage"
)

// UI texts in Ukrainian
const (
	startText = "Обери *підчергу* (1.1–6.2).\n" +
		"Після цього натисни 'Сьогодні' — я покажу дані з сайту Рівнеобленерго."
	knownSubqueueFmt = "Твоя підчерга: *%s*."
	savedFmt         = "✅ Підчерга збережена: *%s*\n\nНатисни 'Сьогодні', щоб перевірити."
	changeText       = "Обери іншу підчергу:"
	chooseFirstText  = "Спочатку вибери підчергу командою /start"
	pausedText       = "⏸ Сповіщення призупинено. Нагадування скасовано."
	resumedFmt       = "▶️ Сповіщення відновлено. Графік надійде о %s."
	inactiveText     = "⏸ Сповіщення призупинені. Натисни /resume, щоб відновити."
	rateLimitedText  = "Забагато запитів. Спробуй трохи пізніше."
	fetchFailedText  = "⚠️ Не вдалося отримати графік з сайту. Спробуй пізніше."
	internalErrText  = "Щось пішло не так. Спробуй пізніше."
	okText           = "Ок"
)

// Callback payloads
const (
	cbToday          = "today"
	cbChange         = "change"
	cbSubqueuePrefix = "q:"
)

// subqueueKeyboard lists every subqueue, four per row.
func subqueueKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, sq := range outage.Subqueues {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(sq, cbSubqueuePrefix+sq))
		if len(row) == 4 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func mainKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📅 Сьогодні", cbToday),
			tgbotapi.NewInlineKeyboardButtonData("⚙️ Змінити підчергу", cbChange),
		),
	)
}
