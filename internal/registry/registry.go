// Package registry manages the filters and groups of every tenant.
package registry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sweepbot/internal/model"
	"sweepbot/internal/storage"
)

// MaxFilters is the number of filters a tenant may own.
const MaxFilters = 30

// Values applied to unset fields when a filter is created.
const (
	DefaultMaxDays        = 30
	DefaultInactivityDays = 14
)

var palette = []string{
	"#4f46e5", "#0ea5e9", "#16a34a", "#ca8a04",
	"#ea580c", "#dc2626", "#db2777", "#7c3aed",
}

// Registry is the CRUD layer over the per-tenant filter documents. Every
// mutation loads the whole document, modifies it and saves it back.
type Registry struct {
	repo storage.Repository
	log  *zap.Logger

	now   func() time.Time
	newID func() string
	pick  func(n int) int
}

// New creates a Registry backed by repo.
func New(repo storage.Repository, log *zap.Logger) *Registry {
	return &Registry{
		repo:  repo,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		pick:  rand.IntN,
	}
}

// List returns all filters of a tenant in creation order.
func (r *Registry) List(ctx context.Context, tenant string) ([]model.Filter, error) {
	data, err := r.repo.Load(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", tenant, err)
	}
	return data.Filters, nil
}

// Find looks a filter up by id, then by case-insensitive name.
func (r *Registry) Find(ctx context.Context, tenant, nameOrID string) (model.Filter, bool, error) {
	data, err := r.repo.Load(ctx, tenant)
	if err != nil {
		return model.Filter{}, false, fmt.Errorf("load tenant %s: %w", tenant, err)
	}
	if i := indexByID(data.Filters, nameOrID); i >= 0 {
		return data.Filters[i], true, nil
	}
	if i := indexByName(data.Filters, nameOrID); i >= 0 {
		return data.Filters[i], true, nil
	}
	return model.Filter{}, false, nil
}

// Snapshot returns a read-only view of a tenant's filters that resolves
// subfilter references.
func (r *Registry) Snapshot(ctx context.Context, tenant string) (Snapshot, error) {
	data, err := r.repo.Load(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", tenant, err)
	}
	snap := make(Snapshot, len(data.Filters))
	for i := range data.Filters {
		f := data.Filters[i]
		snap[f.ID] = &f
	}
	return snap, nil
}

// Snapshot maps filter ids to filters.
type Snapshot map[string]*model.Filter

// Resolve implements filter.Resolver.
func (s Snapshot) Resolve(id string) (*model.Filter, bool) {
	f, ok := s[id]
	return f, ok
}

// Create validates in, applies defaults and stores a new filter.
func (r *Registry) Create(ctx context.Context, tenant string, in FilterPatch) (model.Filter, error) {
	data, err := r.repo.Load(ctx, tenant)
	if err != nil {
		return model.Filter{}, fmt.Errorf("load tenant %s: %w", tenant, err)
	}

	name := ""
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if err := checkNewName(data.Filters, name, ""); err != nil {
		return model.Filter{}, err
	}
	if len(data.Filters) >= MaxFilters {
		return model.Filter{}, limitError()
	}

	now := r.now()
	f := model.Filter{
		ID:    r.newID(),
		Color: palette[r.pick(len(palette))],
		Criteria: model.Criteria{
			MaxDays:        DefaultMaxDays,
			InactivityDays: DefaultInactivityDays,
			KeywordMatch:   model.KeywordAny,
			DomainMatch:    model.DomainInclude,
			OperatorMatch:  model.OperatorAny,
		},
		CombinationOperation: model.CombineAnd,
		Active:               true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := in.apply(&f); err != nil {
		return model.Filter{}, err
	}
	f.Name = name
	if err := validate(&f, data); err != nil {
		return model.Filter{}, err
	}

	data.Filters = append(data.Filters, f)
	if err := r.save(ctx, tenant, data); err != nil {
		return model.Filter{}, err
	}
	r.log.Info("filter created", zap.String("tenant", tenant), zap.String("id", f.ID), zap.String("name", f.Name))
	return f, nil
}

// Update merges patch into an existing filter.
func (r *Registry) Update(ctx context.Context, tenant, id string, patch FilterPatch) (model.Filter, error) {
	data, err := r.repo.Load(ctx, tenant)
	if err != nil {
		return model.Filter{}, fmt.Errorf("load tenant %s: %w", tenant, err)
	}
	i := indexByID(data.Filters, id)
	if i < 0 {
		return model.Filter{}, &model.NotFoundError{Kind: "filter", ID: id}
	}

	f := data.Filters[i]
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if err := checkNewName(data.Filters, name, id); err != nil {
			return model.Filter{}, err
		}
		f.Name = name
	}
	patch.Name = nil
	if err := patch.apply(&f); err != nil {
		return model.Filter{}, err
	}
	if err := validate(&f, data); err != nil {
		return model.Filter{}, err
	}
	f.UpdatedAt = r.now()

	data.Filters[i] = f
	if err := r.save(ctx, tenant, data); err != nil {
		return model.Filter{}, err
	}
	r.log.Info("filter updated", zap.String("tenant", tenant), zap.String("id", id))
	return f, nil
}

// SetActive enables or disables a filter.
func (r *Registry) SetActive(ctx context.Context, tenant, id string, active bool) (model.Filter, error) {
	return r.Update(ctx, tenant, id, FilterPatch{Active: &active})
}

// Delete removes a filter and strips references to it from combination
// filters of the same tenant.
func (r *Registry) Delete(ctx context.Context, tenant, id string) error {
	data, err := r.repo.Load(ctx, tenant)
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", tenant, err)
	}
	i := indexByID(data.Filters, id)
	if i < 0 {
		return &model.NotFoundError{Kind: "filter", ID: id}
	}

	data.Filters = slices.Delete(data.Filters, i, i+1)
	for j := range data.Filters {
		subs := data.Filters[j].SubFilters
		kept := slices.DeleteFunc(slices.Clone(subs), func(s model.SubFilter) bool {
			return s.FilterID == id
		})
		if len(kept) != len(subs) {
			data.Filters[j].SubFilters = kept
			data.Filters[j].UpdatedAt = r.now()
		}
	}

	if err := r.save(ctx, tenant, data); err != nil {
		return err
	}
	r.log.Info("filter deleted", zap.String("tenant", tenant), zap.String("id", id))
	return nil
}

// Clone copies a filter under a new name. Subfilter references are kept as
// they are.
func (r *Registry) Clone(ctx context.Context, tenant, id, newName string) (model.Filter, error) {
	data, err := r.repo.Load(ctx, tenant)
	if err != nil {
		return model.Filter{}, fmt.Errorf("load tenant %s: %w", tenant, err)
	}
	i := indexByID(data.Filters, id)
	if i < 0 {
		return model.Filter{}, &model.NotFoundError{Kind: "filter", ID: id}
	}
	name := strings.TrimSpace(newName)
	if err := checkNewName(data.Filters, name, ""); err != nil {
		return model.Filter{}, err
	}
	if len(data.Filters) >= MaxFilters {
		return model.Filter{}, limitError()
	}

	now := r.now()
	c := deepCopy(data.Filters[i])
	c.ID = r.newID()
	c.Name = name
	c.CreatedAt = now
	c.UpdatedAt = now

	data.Filters = append(data.Filters, c)
	if err := r.save(ctx, tenant, data); err != nil {
		return model.Filter{}, err
	}
	r.log.Info("filter cloned", zap.String("tenant", tenant), zap.String("from", id), zap.String("id", c.ID))
	return c, nil
}

// ListGroups returns the groups of a tenant.
func (r *Registry) ListGroups(ctx context.Context, tenant string) ([]model.Group, error) {
	data, err := r.repo.Load(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", tenant, err)
	}
	return data.Groups, nil
}

// CreateGroup adds a group. An empty color picks one from the palette.
func (r *Registry) CreateGroup(ctx context.Context, tenant, name, color string) (model.Group, error) {
	data, err := r.repo.Load(ctx, tenant)
	if err != nil {
		return model.Group{}, fmt.Errorf("load tenant %s: %w", tenant, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Group{}, &model.ValidationError{Field: "name", Msg: "must not be blank"}
	}
	for _, g := range data.Groups {
		if strings.EqualFold(g.Name, name) {
			return model.Group{}, &model.ValidationError{Field: "name", Msg: "duplicate name"}
		}
	}
	if color == "" {
		color = palette[r.pick(len(palette))]
	}

	g := model.Group{ID: r.newID(), Name: name, Color: color, CreatedAt: r.now()}
	data.Groups = append(data.Groups, g)
	if err := r.save(ctx, tenant, data); err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// DeleteGroup removes a group and clears it on the filters that used it.
func (r *Registry) DeleteGroup(ctx context.Context, tenant, id string) error {
	data, err := r.repo.Load(ctx, tenant)
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", tenant, err)
	}
	i := slices.IndexFunc(data.Groups, func(g model.Group) bool { return g.ID == id })
	if i < 0 {
		return &model.NotFoundError{Kind: "group", ID: id}
	}

	data.Groups = slices.Delete(data.Groups, i, i+1)
	for j := range data.Filters {
		if data.Filters[j].Group == id {
			data.Filters[j].Group = ""
			data.Filters[j].UpdatedAt = r.now()
		}
	}
	return r.save(ctx, tenant, data)
}

// Tenants lists every tenant with stored filters.
func (r *Registry) Tenants(ctx context.Context) ([]string, error) {
	return r.repo.Tenants(ctx)
}

// AutoRun is a filter whose scheduled time has come.
type AutoRun struct {
	Tenant string
	Filter model.Filter
}

// DueAutoRuns returns the active auto-run filters whose time of day is at or
// before now. Callers keep track of which ones already ran today.
func (r *Registry) DueAutoRuns(ctx context.Context, now time.Time) ([]AutoRun, error) {
	tenants, err := r.repo.Tenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	clock := now.Format(clockLayout)

	var due []AutoRun
	for _, tenant := range tenants {
		data, err := r.repo.Load(ctx, tenant)
		if err != nil {
			r.log.Error("load tenant for auto-run", zap.String("tenant", tenant), zap.Error(err))
			continue
		}
		for _, f := range data.Filters {
			// Normalized "15:04" strings order like the times they hold.
			if f.Active && f.AutoRun && f.AutoRunTime != "" && f.AutoRunTime <= clock {
				due = append(due, AutoRun{Tenant: tenant, Filter: f})
			}
		}
	}
	return due, nil
}

func (r *Registry) save(ctx context.Context, tenant string, data model.TenantData) error {
	if err := r.repo.Save(ctx, tenant, data); err != nil {
		return fmt.Errorf("save tenant %s: %w", tenant, err)
	}
	return nil
}

func indexByID(filters []model.Filter, id string) int {
	return slices.IndexFunc(filters, func(f model.Filter) bool { return f.ID == id })
}

func indexByName(filters []model.Filter, name string) int {
	name = strings.TrimSpace(name)
	return slices.IndexFunc(filters, func(f model.Filter) bool { return strings.EqualFold(f.Name, name) })
}

// checkNewName rejects blank names and names already used by a filter other
// than self.
func checkNewName(filters []model.Filter, name, self string) error {
	if name == "" {
		return &model.ValidationError{Field: "name", Msg: "must not be blank"}
	}
	if i := indexByName(filters, name); i >= 0 && filters[i].ID != self {
		return &model.ValidationError{Field: "name", Msg: "duplicate name"}
	}
	return nil
}

func limitError() error {
	return &model.ValidationError{Msg: fmt.Sprintf("filter limit of %d reached", MaxFilters)}
}

func deepCopy(f model.Filter) model.Filter {
	f.Criteria = copyCriteria(f.Criteria)
	if f.SubFilters != nil {
		subs := make([]model.SubFilter, len(f.SubFilters))
		for i, s := range f.SubFilters {
			subs[i] = model.SubFilter{FilterID: s.FilterID}
			if s.Criteria != nil {
				c := copyCriteria(*s.Criteria)
				subs[i].Criteria = &c
			}
		}
		f.SubFilters = subs
	}
	return f
}

func copyCriteria(c model.Criteria) model.Criteria {
	c.Platforms = slices.Clone(c.Platforms)
	c.IncludeSegments = slices.Clone(c.IncludeSegments)
	c.ExcludeSegments = slices.Clone(c.ExcludeSegments)
	c.Keywords = slices.Clone(c.Keywords)
	c.EmailDomains = slices.Clone(c.EmailDomains)
	c.IncludeTags = slices.Clone(c.IncludeTags)
	c.ExcludeTags = slices.Clone(c.ExcludeTags)
	c.Operators = slices.Clone(c.Operators)
	return c
}
