package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"sweepbot/internal/cleanup"
	"sweepbot/internal/config"
	"sweepbot/internal/registry"
	"sweepbot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Cleaner runs simulations and cleanups on behalf of bot commands.
type Cleaner interface {
	Simulate(ctx context.Context, tenant, filterID string) cleanup.SimulateResult
	Run(ctx context.Context, tenant, filterID string, dryRun bool, progress cleanup.Progress) cleanup.RunResult
}

// pendingTTL is how long a /run confirmation stays valid.
const pendingTTL = 10 * time.Minute

// pendingRun is a cleanup waiting for the user to confirm it.
type pendingRun struct {
	Tenant   string
	FilterID string
	Name     string
	ChatID   int64
	Created  time.Time
}

// Bot is the Telegram admin bot. It also delivers run summaries.
type Bot struct {
	api      telegramAPI
	registry *registry.Registry
	cleaner  Cleaner
	stats    storage.StatsStore
	cfg      *config.Config
	log      *zap.Logger

	now func() time.Time

	mu      sync.Mutex
	seq     int
	pending map[string]pendingRun
}

// New creates a Bot with the given Telegram token.
func New(token string, reg *registry.Registry, cleaner Cleaner, stats storage.StatsStore, cfg *config.Config, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, reg, cleaner, stats, cfg, log), nil
}

func newBot(api telegramAPI, reg *registry.Registry, cleaner Cleaner, stats storage.StatsStore, cfg *config.Config, log *zap.Logger) *Bot {
	return &Bot{
		api:      api,
		registry: reg,
		cleaner:  cleaner,
		stats:    stats,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		pending:  make(map[string]pendingRun),
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", zap.String("cmd", cmd), zap.String("args", args), zap.Int64("chat_id", chatID))

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "filters":
		b.handleFilters(ctx, chatID, args)
	case "info":
		b.handleInfo(ctx, chatID, args)
	case "groups":
		b.handleGroups(ctx, chatID, args)
	case "simulate":
		b.handleSimulate(ctx, chatID, args)
	case "dryrun":
		b.handleDryRun(ctx, chatID, args)
	case cmdRun:
		b.handleRun(ctx, chatID, args)
	case "pause":
		b.handleSetActive(ctx, chatID, args, false)
	case "resume":
		b.handleSetActive(ctx, chatID, args, true)
	case "stats":
		b.handleStats(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

// addPending stores a run awaiting confirmation and returns its token.
// Confirmations older than pendingTTL are dropped on the way.
func (b *Bot) addPending(p pendingRun) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for token, old := range b.pending {
		if now.Sub(old.Created) > pendingTTL {
			delete(b.pending, token)
		}
	}

	b.seq++
	token := strconv.Itoa(b.seq)
	p.Created = now
	b.pending[token] = p
	return token
}

func (b *Bot) takePending(token string) (pendingRun, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[token]
	delete(b.pending, token)
	if ok && b.now().Sub(p.Created) > pendingTTL {
		return pendingRun{}, false
	}
	return p, ok
}
