package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	cmdRun       = "run"
	cbRunConfirm = "run_confirm"
	cbRunCancel  = "run_cancel"
)

// handleRun asks for confirmation before deleting anything.
func (b *Bot) handleRun(ctx context.Context, chatID int64, args string) {
	tenant, name, err := ParseTenantFilterArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /run <tenant> <filter>")
		return
	}
	f, ok := b.findFilter(ctx, chatID, tenant, name)
	if !ok {
		return
	}

	token := b.addPending(pendingRun{Tenant: tenant, FilterID: f.ID, Name: f.Name, ChatID: chatID})

	what := "conversations"
	if f.DeleteSegmentsOnly {
		what = "message segments"
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete the %s matched by \"%s\" on %s? This cannot be undone.", what, f.Name, tenant))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, delete", cbRunConfirm+":"+token),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", cbRunCancel+":"+token),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send run confirmation", zap.Error(err))
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", zap.Error(err))
	}

	action, token, ok := strings.Cut(cb.Data, ":")
	if !ok || token == "" {
		return
	}

	b.log.Info("callback",
		zap.String("action", action),
		zap.String("token", token),
		zap.Int64("chat_id", chatID),
	)

	switch action {
	case cbRunConfirm:
		p, ok := b.takePending(token)
		if !ok || p.ChatID != chatID {
			b.reply(chatID, "This confirmation has expired. Send /run again.")
			return
		}
		b.runConfirmed(ctx, p)
	case cbRunCancel:
		if p, ok := b.takePending(token); ok {
			b.reply(chatID, fmt.Sprintf("Cleanup of \"%s\" cancelled.", p.Name))
		}
	}
}
