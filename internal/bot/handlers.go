package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sweepbot/internal/model"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to SweepBot!

I clean up conversations on your chat platform according to your filters.

Quick start:
1. /filters <tenant> — see the filters of a website
2. /simulate <tenant> <filter> — preview what a filter selects
3. /run <tenant> <filter> — delete the selected conversations

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Filters:
/filters <tenant> — list filters
/info <tenant> <filter> — filter details
/groups <tenant> — list filter groups
/pause <tenant> <filter> — disable a filter
/resume <tenant> <filter> — enable a filter

Cleanup:
/simulate <tenant> <filter> — show what would be deleted
/dryrun <tenant> <filter> — run without deleting anything
/run <tenant> <filter> — delete matching conversations (asks to confirm)
/stats <tenant> — cleanup statistics

<filter> is a filter name or id.`)
}

// findFilter resolves a filter by name or id and replies when it is missing.
func (b *Bot) findFilter(ctx context.Context, chatID int64, tenant, nameOrID string) (model.Filter, bool) {
	f, ok, err := b.registry.Find(ctx, tenant, nameOrID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return model.Filter{}, false
	}
	if !ok {
		b.reply(chatID, fmt.Sprintf("Filter \"%s\" not found for %s.", nameOrID, tenant))
		return model.Filter{}, false
	}
	return f, true
}

func (b *Bot) handleFilters(ctx context.Context, chatID int64, args string) {
	tenant, err := ParseTenantArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /filters <tenant>")
		return
	}

	filters, err := b.registry.List(ctx, tenant)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatFilterList(tenant, filters))
}

func (b *Bot) handleInfo(ctx context.Context, chatID int64, args string) {
	tenant, name, err := ParseTenantFilterArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /info <tenant> <filter>")
		return
	}
	f, ok := b.findFilter(ctx, chatID, tenant, name)
	if !ok {
		return
	}
	b.reply(chatID, FormatFilterInfo(f))
}

func (b *Bot) handleGroups(ctx context.Context, chatID int64, args string) {
	tenant, err := ParseTenantArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /groups <tenant>")
		return
	}

	groups, err := b.registry.ListGroups(ctx, tenant)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatGroupList(tenant, groups))
}

func (b *Bot) handleSimulate(ctx context.Context, chatID int64, args string) {
	tenant, name, err := ParseTenantFilterArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /simulate <tenant> <filter>")
		return
	}
	f, ok := b.findFilter(ctx, chatID, tenant, name)
	if !ok {
		return
	}

	res := b.cleaner.Simulate(ctx, tenant, f.ID)
	b.reply(chatID, FormatSimulate(tenant, f.Name, res))
}

func (b *Bot) handleDryRun(ctx context.Context, chatID int64, args string) {
	tenant, name, err := ParseTenantFilterArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /dryrun <tenant> <filter>")
		return
	}
	f, ok := b.findFilter(ctx, chatID, tenant, name)
	if !ok {
		return
	}

	res := b.cleaner.Run(ctx, tenant, f.ID, true, nil)
	b.reply(chatID, FormatRunSummary(tenant, f.Name, res))
}

func (b *Bot) handleSetActive(ctx context.Context, chatID int64, args string, active bool) {
	tenant, name, err := ParseTenantFilterArgs(args)
	if err != nil {
		if active {
			b.reply(chatID, "Usage: /resume <tenant> <filter>")
		} else {
			b.reply(chatID, "Usage: /pause <tenant> <filter>")
		}
		return
	}
	f, ok := b.findFilter(ctx, chatID, tenant, name)
	if !ok {
		return
	}

	if _, err := b.registry.SetActive(ctx, tenant, f.ID, active); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if active {
		b.reply(chatID, fmt.Sprintf("Filter \"%s\" resumed.", f.Name))
	} else {
		b.reply(chatID, fmt.Sprintf("Filter \"%s\" paused.", f.Name))
	}
}

func (b *Bot) handleStats(ctx context.Context, chatID int64, args string) {
	tenant, err := ParseTenantArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /stats <tenant>")
		return
	}

	s, err := b.stats.GetStats(ctx, tenant)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStats(tenant, s))
}

// runConfirmed executes a cleanup the user has confirmed.
func (b *Bot) runConfirmed(ctx context.Context, p pendingRun) {
	b.log.Info("cleanup requested",
		zap.String("tenant", p.Tenant),
		zap.String("filter_id", p.FilterID),
		zap.Int64("chat_id", p.ChatID),
	)
	b.reply(p.ChatID, fmt.Sprintf("Running \"%s\"...", p.Name))

	res := b.cleaner.Run(ctx, p.Tenant, p.FilterID, false, func(current, total int, percent float64) {
		b.log.Debug("cleanup progress",
			zap.String("filter_id", p.FilterID),
			zap.Int("current", current),
			zap.Int("total", total),
			zap.Float64("percent", percent),
		)
	})
	b.reply(p.ChatID, FormatRunSummary(p.Tenant, p.Name, res))
}
