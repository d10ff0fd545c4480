// Package cleanup runs filters against a tenant's conversations, either as a
// preview or by deleting what they select.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sweepbot/internal/executor"
	"sweepbot/internal/filter"
	"sweepbot/internal/metrics"
	"sweepbot/internal/model"
	"sweepbot/internal/registry"
	"sweepbot/internal/source"
	"sweepbot/internal/storage"
)

// OperatingMode selects whether mutating calls reach the chat platform.
type OperatingMode string

// Supported operating modes.
const (
	ModeLive OperatingMode = "live"
	// ModeDebug reads from the platform but only logs deletions.
	ModeDebug OperatingMode = "debug"
)

// MaxPageSize caps the page size requested from the source.
const MaxPageSize = 100

const (
	kindRun      = "run"
	kindSimulate = "simulate"
)

// Options tunes the orchestrator.
type Options struct {
	Mode        OperatingMode
	PageSize    int
	PageDelay   time.Duration
	DeleteDelay time.Duration
	// Status restricts the conversations listed from the source.
	Status string
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		Mode:        ModeLive,
		PageSize:    50,
		PageDelay:   300 * time.Millisecond,
		DeleteDelay: 100 * time.Millisecond,
	}
}

// Progress is called after each processed conversation of a run.
type Progress func(current, total int, percent float64)

// Preview is the lightweight view of a conversation returned by simulations.
type Preview struct {
	SessionID string `json:"sessionId"`
	Preview   string `json:"preview"`
}

// Failure describes one failed deletion.
type Failure struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error"`
}

// SimulateResult is the outcome of Simulate.
type SimulateResult struct {
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Count         int       `json:"count"`
	Conversations []Preview `json:"conversations"`

	Err error `json:"-"`
}

// RunResult is the outcome of Run. Dry runs fill Count and Conversations
// and never delete anything.
type RunResult struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	FilterID   string `json:"filterId,omitempty"`
	FilterName string `json:"filterName,omitempty"`
	DryRun     bool   `json:"dryRun,omitempty"`

	Total           int       `json:"total"`
	Deleted         int       `json:"deleted"`
	Errors          int       `json:"errors"`
	SegmentsDeleted int       `json:"segmentsDeleted,omitempty"`
	Failures        []Failure `json:"failures,omitempty"`

	Count         int       `json:"count,omitempty"`
	Conversations []Preview `json:"conversations,omitempty"`

	Err error `json:"-"`
}

// Orchestrator drives simulations and cleanup runs.
type Orchestrator struct {
	registry *registry.Registry
	source   source.Source
	exec     *executor.Executor
	stats    storage.StatsStore
	log      *zap.Logger
	opts     Options

	now   func() time.Time
	pause func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator. stats may be nil.
func New(reg *registry.Registry, src source.Source, exec *executor.Executor, stats storage.StatsStore, log *zap.Logger, opts Options) *Orchestrator {
	if opts.Mode == "" {
		opts.Mode = ModeLive
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultOptions().PageSize
	}
	opts.PageSize = min(opts.PageSize, MaxPageSize)
	return &Orchestrator{
		registry: reg,
		source:   src,
		exec:     exec,
		stats:    stats,
		log:      log,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		pause:    executor.Sleep,
	}
}

// Mode returns the operating mode.
func (o *Orchestrator) Mode() OperatingMode {
	return o.opts.Mode
}

// Simulate reports which conversations filterID selects without changing
// anything. filterID may also be a filter name.
func (o *Orchestrator) Simulate(ctx context.Context, tenant, filterID string) SimulateResult {
	start := time.Now()
	previews, _, err := o.preview(ctx, tenant, filterID)
	o.finish(ctx, tenant, kindSimulate, start, err, model.StatsDelta{Simulations: 1})
	if err != nil {
		return SimulateResult{Success: false, Error: err.Error(), Err: err}
	}
	return SimulateResult{Success: true, Count: len(previews), Conversations: previews}
}

// Run deletes the conversations, or segments of them, selected by filterID.
// With dryRun it behaves like Simulate. progress may be nil.
func (o *Orchestrator) Run(ctx context.Context, tenant, filterID string, dryRun bool, progress Progress) RunResult {
	start := time.Now()
	log := o.log.With(zap.String("tenant", tenant), zap.String("filter", filterID))

	if dryRun {
		previews, f, err := o.preview(ctx, tenant, filterID)
		o.finish(ctx, tenant, kindSimulate, start, err, model.StatsDelta{Simulations: 1})
		if err != nil {
			return failed(err)
		}
		return RunResult{
			Success:       true,
			FilterID:      f.ID,
			FilterName:    f.Name,
			DryRun:        true,
			Total:         len(previews),
			Count:         len(previews),
			Conversations: previews,
		}
	}

	f, matched, err := o.collect(ctx, tenant, filterID)
	if err != nil {
		o.finish(ctx, tenant, kindRun, start, err, model.StatsDelta{Runs: 1, Errors: 1})
		return failed(err)
	}

	res := RunResult{Success: true, FilterID: f.ID, FilterName: f.Name, Total: len(matched)}
	log.Info("cleanup started",
		zap.Int("matched", len(matched)),
		zap.Bool("segments_only", f.DeleteSegmentsOnly),
		zap.String("mode", string(o.opts.Mode)),
	)

	switch {
	case f.DeleteSegmentsOnly && len(f.IncludeSegments) == 0:
		log.Warn("segment filter has no include patterns, nothing to delete")
	case f.DeleteSegmentsOnly:
		err = o.deleteSegments(ctx, tenant, f, matched, &res, progress)
	default:
		err = o.deleteConversations(ctx, tenant, matched, &res, progress)
	}
	if err != nil {
		// Cancelled mid-loop; keep the tally of what was attempted.
		res.Success = false
		res.Error = err.Error()
		res.Err = err
	}

	metrics.AddItems(res.Deleted, res.Errors)
	delta := model.StatsDelta{Runs: 1, Errors: int64(res.Errors), SegmentsDeleted: int64(res.SegmentsDeleted)}
	if !f.DeleteSegmentsOnly {
		delta.ConversationsDeleted = int64(res.Deleted)
	}
	o.finish(ctx, tenant, kindRun, start, err, delta)

	log.Info("cleanup finished",
		zap.Int("total", res.Total),
		zap.Int("deleted", res.Deleted),
		zap.Int("errors", res.Errors),
	)
	return res
}

// RunAll runs every active filter of a tenant in list order.
func (o *Orchestrator) RunAll(ctx context.Context, tenant string) ([]RunResult, error) {
	filters, err := o.registry.List(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var results []RunResult
	for _, f := range filters {
		if !f.Active {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, o.Run(ctx, tenant, f.ID, false, nil))
	}
	return results, nil
}

func failed(err error) RunResult {
	return RunResult{Success: false, Error: err.Error(), Err: err}
}

func (o *Orchestrator) preview(ctx context.Context, tenant, filterID string) ([]Preview, *model.Filter, error) {
	f, matched, err := o.collect(ctx, tenant, filterID)
	if err != nil {
		return nil, nil, err
	}
	previews := make([]Preview, 0, len(matched))
	for _, c := range matched {
		previews = append(previews, Preview{SessionID: c.SessionID, Preview: c.Preview})
	}
	return previews, f, nil
}

// collect resolves the filter and returns the conversations it selects, in
// source order.
func (o *Orchestrator) collect(ctx context.Context, tenant, filterID string) (*model.Filter, []model.Conversation, error) {
	f, ok, err := o.registry.Find(ctx, tenant, filterID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, &model.NotFoundError{Kind: "filter", ID: filterID}
	}
	snap, err := o.registry.Snapshot(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}
	if err := filter.CheckCycles(&f, snap); err != nil {
		return nil, nil, err
	}

	all, err := o.listAll(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}
	metrics.AddScanned(len(all))

	engine := filter.NewEngine(snap, o.now())
	var matched []model.Conversation
	for _, c := range all {
		ok, err := engine.Match(c, &f)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			matched = append(matched, c)
		}
	}
	return &f, matched, nil
}

// listAll pages through the source until it returns an empty page.
func (o *Orchestrator) listAll(ctx context.Context, tenant string) ([]model.Conversation, error) {
	var all []model.Conversation
	for page := 1; ; page++ {
		if page > 1 {
			if err := o.pause(ctx, o.opts.PageDelay); err != nil {
				return nil, err
			}
		}
		items, err := executor.Call(ctx, o.exec, "list conversations", func(ctx context.Context) ([]model.Conversation, error) {
			return o.source.ListPage(ctx, tenant, page, o.opts.PageSize, o.opts.Status)
		})
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}
		if len(items) == 0 {
			return all, nil
		}
		all = append(all, items...)
	}
}

func (o *Orchestrator) deleteConversations(ctx context.Context, tenant string, convs []model.Conversation, res *RunResult, progress Progress) error {
	for i, c := range convs {
		if i > 0 {
			if err := o.pause(ctx, o.opts.DeleteDelay); err != nil {
				return err
			}
		}
		err := o.mutate(ctx, "delete conversation", func(ctx context.Context) error {
			return o.source.DeleteConversation(ctx, tenant, c.SessionID)
		})
		if err != nil {
			o.log.Warn("delete conversation failed",
				zap.String("tenant", tenant),
				zap.String("session_id", c.SessionID),
				zap.Error(err),
			)
			res.Errors++
			res.Failures = append(res.Failures, Failure{SessionID: c.SessionID, Error: err.Error()})
		} else {
			res.Deleted++
		}
		report(progress, i+1, len(convs))
	}
	return nil
}

func (o *Orchestrator) deleteSegments(ctx context.Context, tenant string, f *model.Filter, convs []model.Conversation, res *RunResult, progress Progress) error {
	for i, c := range convs {
		if i > 0 {
			if err := o.pause(ctx, o.opts.DeleteDelay); err != nil {
				return err
			}
		}

		detail, err := executor.Call(ctx, o.exec, "get conversation", func(ctx context.Context) (model.Conversation, error) {
			return o.source.GetDetail(ctx, tenant, c.SessionID)
		})
		if err != nil {
			o.log.Warn("get conversation failed",
				zap.String("tenant", tenant),
				zap.String("session_id", c.SessionID),
				zap.Error(err),
			)
			res.Errors++
			res.Failures = append(res.Failures, Failure{SessionID: c.SessionID, Error: err.Error()})
			report(progress, i+1, len(convs))
			continue
		}

		removed := 0
		for j, id := range filter.SegmentsToDelete(detail, f) {
			if j > 0 {
				if err := o.pause(ctx, o.opts.DeleteDelay); err != nil {
					return err
				}
			}
			err := o.mutate(ctx, "delete message", func(ctx context.Context) error {
				return o.source.DeleteMessage(ctx, tenant, c.SessionID, id)
			})
			if err != nil {
				o.log.Warn("delete segment failed",
					zap.String("tenant", tenant),
					zap.String("session_id", c.SessionID),
					zap.String("message_id", id),
					zap.Error(err),
				)
				res.Errors++
				res.Failures = append(res.Failures, Failure{SessionID: c.SessionID, MessageID: id, Error: err.Error()})
				continue
			}
			removed++
		}
		res.SegmentsDeleted += removed
		if removed > 0 {
			res.Deleted++
		}
		report(progress, i+1, len(convs))
	}
	return nil
}

// mutate sends a mutating call through the executor, or only logs it in
// debug mode.
func (o *Orchestrator) mutate(ctx context.Context, op string, call func(ctx context.Context) error) error {
	if o.opts.Mode == ModeDebug {
		o.log.Debug("debug mode, call skipped", zap.String("op", op))
		return nil
	}
	return o.exec.Do(ctx, op, call)
}

func (o *Orchestrator) finish(ctx context.Context, tenant, kind string, start time.Time, err error, delta model.StatsDelta) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		if kind == kindSimulate {
			delta.Errors++
		}
	}
	metrics.ObserveCleanup(kind, time.Since(start), outcome)

	if o.stats == nil {
		return
	}
	delta.At = o.now()
	// Record even when ctx was cancelled mid-run.
	if err := o.stats.RecordStats(context.WithoutCancel(ctx), tenant, delta); err != nil {
		o.log.Error("record stats", zap.String("tenant", tenant), zap.Error(err))
	}
}

func report(progress Progress, current, total int) {
	if progress == nil || total == 0 {
		return
	}
	progress(current, total, float64(current)*100/float64(total))
}
