// Package storage defines the persistence interfaces and their implementations.
package storage

import (
	"context"

	"sweepbot/internal/model"
)

// Repository loads and saves the filter document of a tenant. Save replaces
// the whole document; concurrent writers race and the last write wins.
type Repository interface {
	// Load returns the tenant document, or an empty one for unknown tenants.
	Load(ctx context.Context, tenant string) (model.TenantData, error)
	Save(ctx context.Context, tenant string, data model.TenantData) error
	// Tenants lists every tenant that has a stored document.
	Tenants(ctx context.Context) ([]string, error)
}

// StatsStore persists aggregate cleanup statistics per tenant.
type StatsStore interface {
	RecordStats(ctx context.Context, tenant string, delta model.StatsDelta) error
	GetStats(ctx context.Context, tenant string) (model.Stats, error)
}

// Storage is implemented by every backend.
type Storage interface {
	Repository
	StatsStore
	Close() error
}
