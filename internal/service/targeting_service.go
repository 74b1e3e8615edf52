package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-announce-api/internal/dto"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

type targetingTargetRepo interface {
	Upsert(ctx context.Context, target *models.Target) error
	GetByAnnouncement(ctx context.Context, announcementID string) (*models.Target, error)
	ReplaceRules(ctx context.Context, targetID string, rules []models.TargetingRule) error
	ListRules(ctx context.Context, targetID string) ([]models.TargetingRule, error)
	UpsertAudienceCache(ctx context.Context, cache *models.TargetAudienceCache) error
	GetAudienceCache(ctx context.Context, announcementID string) (*models.TargetAudienceCache, error)
	MarkAudienceCacheStale(ctx context.Context, announcementID string) error
}

type targetingStudentRepo interface {
	ListCandidates(ctx context.Context, hostelID string) ([]models.TargetCandidate, error)
	ListByRooms(ctx context.Context, hostelID string, roomIDs []string) ([]models.TargetCandidate, error)
	ListByFloors(ctx context.Context, hostelID string, floors []int) ([]models.TargetCandidate, error)
	ListByIDs(ctx context.Context, hostelID string, studentIDs []string) ([]models.TargetCandidate, error)
}

type targetingAnnouncementReader interface {
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
}

type targetingDeliveryReader interface {
	CountRecentByRecipients(ctx context.Context, recipientIDs []string, since time.Time) (map[string]int, error)
}

// targetableFields are the candidate attributes custom rules may reference.
var targetableFields = []string{
	"status", "year_of_study", "department", "gender",
	"room_number", "floor", "block", "room_type",
}

// TargetingServiceConfig tunes audience caching and the over-messaging guard.
type TargetingServiceConfig struct {
	AudienceCacheTTL  time.Duration
	OverMessageWindow time.Duration
	OverMessageMax    int
}

// TargetingService resolves announcement audiences.
type TargetingService struct {
	targets       targetingTargetRepo
	students      targetingStudentRepo
	announcements targetingAnnouncementReader
	deliveries    targetingDeliveryReader
	validator     *validator.Validate
	logger        *zap.Logger
	cfg           TargetingServiceConfig
}

// NewTargetingService constructs a TargetingService.
func NewTargetingService(targets targetingTargetRepo, students targetingStudentRepo, announcements targetingAnnouncementReader, deliveries targetingDeliveryReader, validate *validator.Validate, logger *zap.Logger, cfg TargetingServiceConfig) *TargetingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AudienceCacheTTL <= 0 {
		cfg.AudienceCacheTTL = 24 * time.Hour
	}
	if cfg.OverMessageWindow <= 0 {
		cfg.OverMessageWindow = 24 * time.Hour
	}
	if cfg.OverMessageMax <= 0 {
		cfg.OverMessageMax = 5
	}
	return &TargetingService{
		targets:       targets,
		students:      students,
		announcements: announcements,
		deliveries:    deliveries,
		validator:     validate,
		logger:        logger,
		cfg:           cfg,
	}
}

// SetTarget writes the targeting configuration of an announcement and marks
// any cached audience stale.
func (s *TargetingService) SetTarget(ctx context.Context, announcementID string, req dto.TargetRequest) (*models.Target, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid target payload")
	}
	targetType := models.TargetType(req.Type)
	params := models.TargetParams{}
	switch targetType {
	case models.TargetTypeAll:
	case models.TargetTypeRooms:
		if len(req.RoomIDs) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "room target requires room_ids")
		}
		params.RoomIDs = req.RoomIDs
	case models.TargetTypeFloors:
		if len(req.Floors) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "floor target requires floors")
		}
		params.Floors = req.Floors
	case models.TargetTypeStudents:
		if len(req.StudentIDs) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student target requires student_ids")
		}
		params.StudentIDs = req.StudentIDs
	case models.TargetTypeCustom:
		if len(req.Rules) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "custom target requires at least one rule")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported target type")
	}

	rules := make([]models.TargetingRule, 0, len(req.Rules))
	for _, r := range req.Rules {
		if err := validateRuleField(r.Field); err != nil {
			return nil, err
		}
		rules = append(rules, models.TargetingRule{
			Field:    strings.ToLower(strings.TrimSpace(r.Field)),
			Operator: models.RuleOperator(r.Operator),
			Value:    []byte(r.Value),
			Exclude:  r.Exclude,
			Priority: r.Priority,
		})
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode target params")
	}
	target := &models.Target{
		AnnouncementID: announcementID,
		Type:           targetType,
		Params:         raw,
	}
	if err := s.targets.Upsert(ctx, target); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save target")
	}
	if targetType == models.TargetTypeCustom {
		if err := s.targets.ReplaceRules(ctx, target.ID, rules); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save targeting rules")
		}
	}
	if err := s.targets.MarkAudienceCacheStale(ctx, announcementID); err != nil {
		s.logger.Warn("failed to mark audience cache stale", zap.String("announcement_id", announcementID), zap.Error(err))
	}
	return target, nil
}

// GetTarget returns the targeting configuration of an announcement.
func (s *TargetingService) GetTarget(ctx context.Context, announcementID string) (*models.Target, error) {
	target, err := s.targets.GetByAnnouncement(ctx, announcementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "target not configured")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target")
	}
	return target, nil
}

// Resolve expands the target of an announcement into the concrete candidate
// list. Custom rules are applied in ascending priority; a candidate must match
// every include rule and no exclude rule.
func (s *TargetingService) Resolve(ctx context.Context, announcement *models.Announcement) ([]models.TargetCandidate, error) {
	target, err := s.GetTarget(ctx, announcement.ID)
	if err != nil {
		return nil, err
	}
	var params models.TargetParams
	if len(target.Params) > 0 {
		if err := json.Unmarshal(target.Params, &params); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode target params")
		}
	}

	switch target.Type {
	case models.TargetTypeAll:
		candidates, err := s.students.ListCandidates(ctx, announcement.HostelID)
		return candidates, wrapResolve(err)
	case models.TargetTypeRooms:
		candidates, err := s.students.ListByRooms(ctx, announcement.HostelID, params.RoomIDs)
		return candidates, wrapResolve(err)
	case models.TargetTypeFloors:
		candidates, err := s.students.ListByFloors(ctx, announcement.HostelID, params.Floors)
		return candidates, wrapResolve(err)
	case models.TargetTypeStudents:
		candidates, err := s.students.ListByIDs(ctx, announcement.HostelID, params.StudentIDs)
		return candidates, wrapResolve(err)
	case models.TargetTypeCustom:
		rules, err := s.targets.ListRules(ctx, target.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load targeting rules")
		}
		candidates, err := s.students.ListCandidates(ctx, announcement.HostelID)
		if err != nil {
			return nil, wrapResolve(err)
		}
		return applyRules(candidates, rules)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported target type")
	}
}

// CalculateTargetReach resolves the audience, summarises it and refreshes the
// persisted audience cache.
func (s *TargetingService) CalculateTargetReach(ctx context.Context, announcementID string) (*dto.ReachResponse, error) {
	announcement, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	candidates, err := s.Resolve(ctx, announcement)
	if err != nil {
		return nil, err
	}
	breakdown := summarize(candidates)
	if err := s.storeAudience(ctx, announcementID, candidates, breakdown); err != nil {
		return nil, err
	}
	return &dto.ReachResponse{
		AnnouncementID: announcementID,
		Breakdown:      breakdown,
		Cached:         false,
	}, nil
}

// GetCachedAudience returns the cached recipient list, recomputing when the
// cache is missing, stale or expired. The second return reports a cache hit.
func (s *TargetingService) GetCachedAudience(ctx context.Context, announcementID string) ([]string, bool, error) {
	cache, err := s.targets.GetAudienceCache(ctx, announcementID)
	if err == nil && !cache.Stale && cache.ExpiresAt.After(time.Now().UTC()) {
		var ids []string
		if err := json.Unmarshal(cache.RecipientIDs, &ids); err == nil {
			return ids, true, nil
		}
		s.logger.Warn("corrupt audience cache, recomputing", zap.String("announcement_id", announcementID))
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audience cache")
	}

	announcement, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	candidates, err := s.Resolve(ctx, announcement)
	if err != nil {
		return nil, false, err
	}
	if err := s.storeAudience(ctx, announcementID, candidates, summarize(candidates)); err != nil {
		return nil, false, err
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.StudentID)
	}
	return ids, false, nil
}

// PreventOverMessaging partitions recipients into eligible and filtered based
// on how many distinct announcements reached them inside the sliding window.
// Urgent announcements bypass the guard.
func (s *TargetingService) PreventOverMessaging(ctx context.Context, priority models.AnnouncementPriority, recipientIDs []string) (*models.OverMessagingResult, error) {
	result := &models.OverMessagingResult{
		Eligible:    recipientIDs,
		FilteredOut: []string{},
		WindowHours: int(s.cfg.OverMessageWindow.Hours()),
		MaxMessages: s.cfg.OverMessageMax,
	}
	if len(recipientIDs) == 0 || priority == models.AnnouncementPriorityUrgent {
		return result, nil
	}
	since := time.Now().UTC().Add(-s.cfg.OverMessageWindow)
	counts, err := s.deliveries.CountRecentByRecipients(ctx, recipientIDs, since)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count recent deliveries")
	}
	eligible := make([]string, 0, len(recipientIDs))
	filtered := make([]string, 0)
	for _, id := range recipientIDs {
		if counts[id] >= s.cfg.OverMessageMax {
			filtered = append(filtered, id)
			continue
		}
		eligible = append(eligible, id)
	}
	if len(filtered) > 0 {
		s.logger.Info("over-messaging guard filtered recipients",
			zap.Int("filtered", len(filtered)), zap.Int("eligible", len(eligible)))
	}
	result.Eligible = eligible
	result.FilteredOut = filtered
	return result, nil
}

func (s *TargetingService) storeAudience(ctx context.Context, announcementID string, candidates []models.TargetCandidate, breakdown models.ReachBreakdown) error {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.StudentID)
	}
	rawIDs, err := json.Marshal(ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode audience")
	}
	rawBreakdown, err := json.Marshal(breakdown)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode audience breakdown")
	}
	now := time.Now().UTC()
	cache := &models.TargetAudienceCache{
		AnnouncementID: announcementID,
		RecipientIDs:   rawIDs,
		Breakdown:      rawBreakdown,
		Stale:          false,
		ComputedAt:     now,
		ExpiresAt:      now.Add(s.cfg.AudienceCacheTTL),
	}
	if err := s.targets.UpsertAudienceCache(ctx, cache); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save audience cache")
	}
	return nil
}

func summarize(candidates []models.TargetCandidate) models.ReachBreakdown {
	breakdown := models.ReachBreakdown{
		Total:    len(candidates),
		ByRoom:   make(map[string]int),
		ByFloor:  make(map[string]int),
		ByStatus: make(map[string]int),
	}
	for _, c := range candidates {
		breakdown.ByStatus[string(c.Status)]++
		if c.RoomNumber != nil {
			breakdown.ByRoom[*c.RoomNumber]++
		}
		if c.Floor != nil {
			breakdown.ByFloor[fmt.Sprintf("%d", *c.Floor)]++
		}
	}
	return breakdown
}

func wrapResolve(err error) error {
	if err == nil {
		return nil
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve audience")
}

func validateRuleField(field string) error {
	normalized := strings.ToLower(strings.TrimSpace(field))
	for _, known := range targetableFields {
		if normalized == known {
			return nil
		}
	}
	return appErrors.WithSuggestions(
		appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown targeting field %q", field)),
		"supported fields: "+strings.Join(targetableFields, ", "))
}

// applyRules filters candidates through the ordered rule set. Include rules
// are ANDed; any matching exclude rule removes the candidate.
func applyRules(candidates []models.TargetCandidate, rules []models.TargetingRule) ([]models.TargetCandidate, error) {
	selected := make([]models.TargetCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		keep := true
		for _, rule := range rules {
			match, err := evaluateRule(candidate, rule)
			if err != nil {
				return nil, err
			}
			if rule.Exclude && match {
				keep = false
				break
			}
			if !rule.Exclude && !match {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, candidate)
		}
	}
	return selected, nil
}

func evaluateRule(candidate models.TargetCandidate, rule models.TargetingRule) (bool, error) {
	value, present, err := candidateField(candidate, rule.Field)
	if err != nil {
		return false, err
	}
	if !present {
		return false, nil
	}
	switch rule.Operator {
	case models.RuleOperatorEquals:
		var operand interface{}
		if err := json.Unmarshal(rule.Value, &operand); err != nil {
			return false, invalidRuleValue(rule)
		}
		return compareEqual(value, operand), nil
	case models.RuleOperatorIn:
		var operands []interface{}
		if err := json.Unmarshal(rule.Value, &operands); err != nil {
			return false, invalidRuleValue(rule)
		}
		for _, operand := range operands {
			if compareEqual(value, operand) {
				return true, nil
			}
		}
		return false, nil
	case models.RuleOperatorContains:
		text, ok := value.(string)
		if !ok {
			return false, nil
		}
		var operand string
		if err := json.Unmarshal(rule.Value, &operand); err != nil {
			return false, invalidRuleValue(rule)
		}
		return strings.Contains(strings.ToLower(text), strings.ToLower(operand)), nil
	case models.RuleOperatorGreaterThan, models.RuleOperatorLessThan:
		number, ok := value.(float64)
		if !ok {
			return false, nil
		}
		var operand float64
		if err := json.Unmarshal(rule.Value, &operand); err != nil {
			return false, invalidRuleValue(rule)
		}
		if rule.Operator == models.RuleOperatorGreaterThan {
			return number > operand, nil
		}
		return number < operand, nil
	case models.RuleOperatorBetween:
		number, ok := value.(float64)
		if !ok {
			return false, nil
		}
		var bounds []float64
		if err := json.Unmarshal(rule.Value, &bounds); err != nil || len(bounds) != 2 {
			return false, invalidRuleValue(rule)
		}
		return number >= bounds[0] && number <= bounds[1], nil
	default:
		return false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported rule operator %q", rule.Operator))
	}
}

// candidateField projects a rule field from the candidate. String fields come
// back as string, numeric fields as float64. present is false when the
// candidate has no room assignment for a room-scoped field.
func candidateField(candidate models.TargetCandidate, field string) (interface{}, bool, error) {
	switch strings.ToLower(field) {
	case "status":
		return string(candidate.Status), true, nil
	case "year_of_study":
		return float64(candidate.YearOfStudy), true, nil
	case "department":
		return candidate.Department, true, nil
	case "gender":
		return candidate.Gender, true, nil
	case "room_number":
		if candidate.RoomNumber == nil {
			return nil, false, nil
		}
		return *candidate.RoomNumber, true, nil
	case "floor":
		if candidate.Floor == nil {
			return nil, false, nil
		}
		return float64(*candidate.Floor), true, nil
	case "block":
		if candidate.Block == nil {
			return nil, false, nil
		}
		return *candidate.Block, true, nil
	case "room_type":
		if candidate.RoomType == nil {
			return nil, false, nil
		}
		return string(*candidate.RoomType), true, nil
	default:
		return nil, false, validateRuleField(field)
	}
}

func compareEqual(value, operand interface{}) bool {
	switch v := value.(type) {
	case string:
		text, ok := operand.(string)
		return ok && strings.EqualFold(v, text)
	case float64:
		number, ok := operand.(float64)
		return ok && v == number
	default:
		return false
	}
}

func invalidRuleValue(rule models.TargetingRule) error {
	return appErrors.Clone(appErrors.ErrValidation,
		fmt.Sprintf("invalid value for %s rule on field %q", rule.Operator, rule.Field))
}
