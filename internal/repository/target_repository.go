package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

// TargetRepository persists targeting configurations, their rules and the
// resolved-audience cache.
type TargetRepository struct {
	db Execer
}

// NewTargetRepository constructs the repository.
func NewTargetRepository(db Execer) *TargetRepository {
	return &TargetRepository{db: db}
}

// Upsert writes the single targeting configuration of an announcement.
func (r *TargetRepository) Upsert(ctx context.Context, target *models.Target) error {
	if target.ID == "" {
		target.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if target.CreatedAt.IsZero() {
		target.CreatedAt = now
	}
	target.UpdatedAt = now
	query := `INSERT INTO announcement_targets (id, announcement_id, type, params, created_at, updated_at)
VALUES (:id, :announcement_id, :type, :params, :created_at, :updated_at)
ON CONFLICT (announcement_id) DO UPDATE SET type = EXCLUDED.type, params = EXCLUDED.params, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, target); err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}
	return nil
}

// GetByAnnouncement returns the targeting configuration of an announcement.
func (r *TargetRepository) GetByAnnouncement(ctx context.Context, announcementID string) (*models.Target, error) {
	const query = `SELECT id, announcement_id, type, params, created_at, updated_at
FROM announcement_targets WHERE announcement_id = $1`
	var target models.Target
	if err := r.db.GetContext(ctx, &target, query, announcementID); err != nil {
		return nil, err
	}
	return &target, nil
}

// ReplaceRules swaps the ordered rule set of a custom target.
func (r *TargetRepository) ReplaceRules(ctx context.Context, targetID string, rules []models.TargetingRule) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM targeting_rules WHERE target_id = $1", targetID); err != nil {
		return fmt.Errorf("clear targeting rules: %w", err)
	}
	for i := range rules {
		rule := &rules[i]
		rule.TargetID = targetID
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = time.Now().UTC()
		}
		query := `INSERT INTO targeting_rules (id, target_id, field, operator, value, exclude, priority, created_at)
VALUES (:id, :target_id, :field, :operator, :value, :exclude, :priority, :created_at)`
		if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
			return fmt.Errorf("insert targeting rule: %w", err)
		}
	}
	return nil
}

// ListRules returns the rules of a target in ascending priority order.
func (r *TargetRepository) ListRules(ctx context.Context, targetID string) ([]models.TargetingRule, error) {
	var rules []models.TargetingRule
	const query = `SELECT id, target_id, field, operator, value, exclude, priority, created_at
FROM targeting_rules WHERE target_id = $1 ORDER BY priority ASC, created_at ASC`
	if err := r.db.SelectContext(ctx, &rules, query, targetID); err != nil {
		return nil, fmt.Errorf("list targeting rules: %w", err)
	}
	return rules, nil
}

// UpsertAudienceCache stores the resolved recipient list for an announcement.
func (r *TargetRepository) UpsertAudienceCache(ctx context.Context, cache *models.TargetAudienceCache) error {
	if cache.ID == "" {
		cache.ID = uuid.NewString()
	}
	if cache.ComputedAt.IsZero() {
		cache.ComputedAt = time.Now().UTC()
	}
	query := `INSERT INTO target_audience_caches (id, announcement_id, recipient_ids, breakdown, stale, computed_at, expires_at)
VALUES (:id, :announcement_id, :recipient_ids, :breakdown, :stale, :computed_at, :expires_at)
ON CONFLICT (announcement_id) DO UPDATE SET recipient_ids = EXCLUDED.recipient_ids, breakdown = EXCLUDED.breakdown,
stale = EXCLUDED.stale, computed_at = EXCLUDED.computed_at, expires_at = EXCLUDED.expires_at`
	if _, err := r.db.NamedExecContext(ctx, query, cache); err != nil {
		return fmt.Errorf("upsert audience cache: %w", err)
	}
	return nil
}

// GetAudienceCache returns the cached audience for an announcement.
func (r *TargetRepository) GetAudienceCache(ctx context.Context, announcementID string) (*models.TargetAudienceCache, error) {
	const query = `SELECT id, announcement_id, recipient_ids, breakdown, stale, computed_at, expires_at
FROM target_audience_caches WHERE announcement_id = $1`
	var cache models.TargetAudienceCache
	if err := r.db.GetContext(ctx, &cache, query, announcementID); err != nil {
		return nil, err
	}
	return &cache, nil
}

// MarkAudienceCacheStale flags a cached audience for recomputation.
func (r *TargetRepository) MarkAudienceCacheStale(ctx context.Context, announcementID string) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE target_audience_caches SET stale = TRUE WHERE announcement_id = $1", announcementID); err != nil {
		return fmt.Errorf("mark audience cache stale: %w", err)
	}
	return nil
}
