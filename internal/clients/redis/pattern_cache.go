package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/services"
	"github.com/coilworks/hvac-backend/internal/types"
)

const defaultCacheTTL = 5 * time.Minute

// PatternCache is the redis-backed candidate cache. It satisfies
// services.PatternCache and additionally owns the connection.
type PatternCache interface {
	services.PatternCache
	Close() error
}

type patternCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewPatternCache connects to REDIS_ADDR and returns a TTL-evicted
// candidate cache. PATTERN_CACHE_TTL overrides the default expiry
// (Go duration syntax, e.g. "10m").
func NewPatternCache(log *logger.Logger) (PatternCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	ttl := defaultCacheTTL
	if raw := strings.TrimSpace(os.Getenv("PATTERN_CACHE_TTL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("bad PATTERN_CACHE_TTL %q: %w", raw, err)
		}
		ttl = parsed
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &patternCache{
		log: log.With("service", "RedisPatternCache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func cacheKey(companyID uuid.UUID, equipmentModel string) string {
	model := strings.ToLower(strings.TrimSpace(equipmentModel))
	if model == "" {
		model = "_all"
	}
	return fmt.Sprintf("patterns:%s:%s", companyID, model)
}

func companyKeyPattern(companyID uuid.UUID) string {
	return fmt.Sprintf("patterns:%s:*", companyID)
}

func (pc *patternCache) GetCandidates(ctx context.Context, companyID uuid.UUID, equipmentModel string) ([]*types.Pattern, bool) {
	if pc == nil || pc.rdb == nil {
		return nil, false
	}
	raw, err := pc.rdb.Get(ctx, cacheKey(companyID, equipmentModel)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			pc.log.Warn("Pattern cache read failed", "company_id", companyID, "error", err)
		}
		return nil, false
	}
	var patterns []*types.Pattern
	if err := json.Unmarshal(raw, &patterns); err != nil {
		pc.log.Warn("Bad pattern cache payload, dropping entry", "company_id", companyID, "error", err)
		_ = pc.rdb.Del(ctx, cacheKey(companyID, equipmentModel)).Err()
		return nil, false
	}
	return patterns, true
}

func (pc *patternCache) SetCandidates(ctx context.Context, companyID uuid.UUID, equipmentModel string, patterns []*types.Pattern) {
	if pc == nil || pc.rdb == nil {
		return
	}
	raw, err := json.Marshal(patterns)
	if err != nil {
		pc.log.Warn("Could not encode patterns for cache", "company_id", companyID, "error", err)
		return
	}
	if err := pc.rdb.Set(ctx, cacheKey(companyID, equipmentModel), raw, pc.ttl).Err(); err != nil {
		pc.log.Warn("Pattern cache write failed", "company_id", companyID, "error", err)
	}
}

// InvalidateCompany drops every cached candidate list for a tenant.
// SCAN instead of KEYS so a big keyspace never blocks the server.
func (pc *patternCache) InvalidateCompany(ctx context.Context, companyID uuid.UUID) {
	if pc == nil || pc.rdb == nil {
		return
	}
	iter := pc.rdb.Scan(ctx, 0, companyKeyPattern(companyID), 100).Iterator()
	for iter.Next(ctx) {
		if err := pc.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			pc.log.Warn("Pattern cache invalidation failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		pc.log.Warn("Pattern cache scan failed", "company_id", companyID, "error", err)
	}
}

func (pc *patternCache) Close() error {
	if pc == nil || pc.rdb == nil {
		return nil
	}
	return pc.rdb.Close()
}
