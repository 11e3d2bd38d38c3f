package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/coilworks/hvac-backend/internal/types"
)

// PatternCache is a tenant-scoped, bounded cache of candidate-pattern
// query results. Entries expire by TTL and every write for a company
// invalidates that company's entries, so callers only ever see slightly
// stale rankings, never phantom duplicates. A nil PatternCache is valid
// and means no caching.
type PatternCache interface {
	GetCandidates(ctx context.Context, companyID uuid.UUID, equipmentModel string) ([]*types.Pattern, bool)
	SetCandidates(ctx context.Context, companyID uuid.UUID, equipmentModel string, patterns []*types.Pattern)
	InvalidateCompany(ctx context.Context, companyID uuid.UUID)
}
