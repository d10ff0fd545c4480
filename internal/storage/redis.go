package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"sweepbot/internal/model"
)

const (
	tenantsKey = "sweepbot:tenants"

	fieldRuns          = "runs"
	fieldSimulations   = "simulations"
	fieldConversations = "conversations_deleted"
	fieldSegments      = "segments_deleted"
	fieldErrors        = "errors"
	fieldLastRunAt     = "last_run_at"
)

// Redis implements Storage on top of a Redis server. Tenant documents are
// stored as JSON strings and statistics as hashes.
type Redis struct {
	rdb *redis.Client
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

func tenantKey(tenant string) string {
	return "sweepbot:tenant:" + tenant
}

func statsKey(tenant string) string {
	return "sweepbot:stats:" + tenant
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Load returns the filter document of a tenant.
func (r *Redis) Load(ctx context.Context, tenant string) (model.TenantData, error) {
	raw, err := r.rdb.Get(ctx, tenantKey(tenant)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.TenantData{}, nil
	}
	if err != nil {
		return model.TenantData{}, fmt.Errorf("get tenant: %w", err)
	}

	var data model.TenantData
	if err := json.Unmarshal(raw, &data); err != nil {
		return model.TenantData{}, fmt.Errorf("decode tenant %s: %w", tenant, err)
	}
	return data, nil
}

// Save replaces the filter document of a tenant.
func (r *Redis) Save(ctx context.Context, tenant string, data model.TenantData) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode tenant %s: %w", tenant, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tenantKey(tenant), doc, 0)
		pipe.SAdd(ctx, tenantsKey, tenant)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}
	return nil
}

// Tenants lists the tenants with a stored document, sorted.
func (r *Redis) Tenants(ctx context.Context) ([]string, error) {
	tenants, err := r.rdb.SMembers(ctx, tenantsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// RecordStats adds delta to the tenant's counters.
func (r *Redis) RecordStats(ctx context.Context, tenant string, delta model.StatsDelta) error {
	key := statsKey(tenant)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, fieldRuns, delta.Runs)
		pipe.HIncrBy(ctx, key, fieldSimulations, delta.Simulations)
		pipe.HIncrBy(ctx, key, fieldConversations, delta.ConversationsDeleted)
		pipe.HIncrBy(ctx, key, fieldSegments, delta.SegmentsDeleted)
		pipe.HIncrBy(ctx, key, fieldErrors, delta.Errors)
		if delta.Runs > 0 {
			pipe.HSet(ctx, key, fieldLastRunAt, delta.At.UTC().Format(time.RFC3339))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record stats: %w", err)
	}
	return nil
}

// GetStats returns the tenant's counters; unknown tenants have zero stats.
func (r *Redis) GetStats(ctx context.Context, tenant string) (model.Stats, error) {
	var raw struct {
		Runs                 int64  `redis:"runs"`
		Simulations          int64  `redis:"simulations"`
		ConversationsDeleted int64  `redis:"conversations_deleted"`
		SegmentsDeleted      int64  `redis:"segments_deleted"`
		Errors               int64  `redis:"errors"`
		LastRunAt            string `redis:"last_run_at"`
	}
	if err := r.rdb.HGetAll(ctx, statsKey(tenant)).Scan(&raw); err != nil {
		return model.Stats{}, fmt.Errorf("get stats: %w", err)
	}

	st := model.Stats{
		Runs:                 raw.Runs,
		Simulations:          raw.Simulations,
		ConversationsDeleted: raw.ConversationsDeleted,
		SegmentsDeleted:      raw.SegmentsDeleted,
		Errors:               raw.Errors,
	}
	if raw.LastRunAt != "" {
		t, err := time.Parse(time.RFC3339, raw.LastRunAt)
		if err == nil {
			st.LastRunAt = &t
		}
	}
	return st, nil
}
