package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-announce-api/internal/dto"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

type targetRepoStub struct {
	targets map[string]models.Target
	rules   map[string][]models.TargetingRule
	caches  map[string]models.TargetAudienceCache
	stale   []string
}

func (t *targetRepoStub) Upsert(ctx context.Context, target *models.Target) error {
	if t.targets == nil {
		t.targets = make(map[string]models.Target)
	}
	target.ID = "tgt-" + target.AnnouncementID
	t.targets[target.AnnouncementID] = *target
	return nil
}

func (t *targetRepoStub) GetByAnnouncement(ctx context.Context, announcementID string) (*models.Target, error) {
	if target, ok := t.targets[announcementID]; ok {
		return &target, nil
	}
	return nil, sql.ErrNoRows
}

func (t *targetRepoStub) ReplaceRules(ctx context.Context, targetID string, rules []models.TargetingRule) error {
	if t.rules == nil {
		t.rules = make(map[string][]models.TargetingRule)
	}
	t.rules[targetID] = rules
	return nil
}

func (t *targetRepoStub) ListRules(ctx context.Context, targetID string) ([]models.TargetingRule, error) {
	return t.rules[targetID], nil
}

func (t *targetRepoStub) UpsertAudienceCache(ctx context.Context, cache *models.TargetAudienceCache) error {
	if t.caches == nil {
		t.caches = make(map[string]models.TargetAudienceCache)
	}
	t.caches[cache.AnnouncementID] = *cache
	return nil
}

func (t *targetRepoStub) GetAudienceCache(ctx context.Context, announcementID string) (*models.TargetAudienceCache, error) {
	if cache, ok := t.caches[announcementID]; ok {
		return &cache, nil
	}
	return nil, sql.ErrNoRows
}

func (t *targetRepoStub) MarkAudienceCacheStale(ctx context.Context, announcementID string) error {
	t.stale = append(t.stale, announcementID)
	return nil
}

type studentRepoStub struct {
	candidates []models.TargetCandidate
}

func (s *studentRepoStub) ListCandidates(ctx context.Context, hostelID string) ([]models.TargetCandidate, error) {
	return s.candidates, nil
}

func (s *studentRepoStub) ListByRooms(ctx context.Context, hostelID string, roomIDs []string) ([]models.TargetCandidate, error) {
	result := []models.TargetCandidate{}
	for _, candidate := range s.candidates {
		for _, roomID := range roomIDs {
			if candidate.RoomID != nil && *candidate.RoomID == roomID {
				result = append(result, candidate)
			}
		}
	}
	return result, nil
}

func (s *studentRepoStub) ListByFloors(ctx context.Context, hostelID string, floors []int) ([]models.TargetCandidate, error) {
	result := []models.TargetCandidate{}
	for _, candidate := range s.candidates {
		for _, floor := range floors {
			if candidate.Floor != nil && *candidate.Floor == floor {
				result = append(result, candidate)
			}
		}
	}
	return result, nil
}

func (s *studentRepoStub) ListByIDs(ctx context.Context, hostelID string, studentIDs []string) ([]models.TargetCandidate, error) {
	result := []models.TargetCandidate{}
	for _, candidate := range s.candidates {
		for _, id := range studentIDs {
			if candidate.StudentID == id {
				result = append(result, candidate)
			}
		}
	}
	return result, nil
}

type targetingAnnouncementStub struct {
	announcements map[string]models.Announcement
}

func (a *targetingAnnouncementStub) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	if announcement, ok := a.announcements[id]; ok {
		return &announcement, nil
	}
	return nil, sql.ErrNoRows
}

type recentDeliveryStub struct {
	counts map[string]int
}

func (r *recentDeliveryStub) CountRecentByRecipients(ctx context.Context, recipientIDs []string, since time.Time) (map[string]int, error) {
	return r.counts, nil
}

func candidate(id string, year int, floor int, department string) models.TargetCandidate {
	f := floor
	return models.TargetCandidate{
		StudentID:   id,
		Status:      models.StudentStatusActive,
		YearOfStudy: year,
		Floor:       &f,
		Department:  department,
	}
}

func newTargetingFixture(candidates []models.TargetCandidate, counts map[string]int) (*TargetingService, *targetRepoStub) {
	targets := &targetRepoStub{}
	service := NewTargetingService(
		targets,
		&studentRepoStub{candidates: candidates},
		&targetingAnnouncementStub{announcements: map[string]models.Announcement{
			"a1": {ID: "a1", HostelID: "h1"},
		}},
		&recentDeliveryStub{counts: counts},
		validator.New(), nil,
		TargetingServiceConfig{OverMessageMax: 3, OverMessageWindow: 24 * time.Hour},
	)
	return service, targets
}

func TestSetTargetRejectsUnknownRuleField(t *testing.T) {
	service, _ := newTargetingFixture(nil, nil)
	_, err := service.SetTarget(context.Background(), "a1", dto.TargetRequest{
		Type: "CUSTOM",
		Rules: []dto.TargetingRuleRequest{
			{Field: "shoe_size", Operator: "EQUALS", Value: json.RawMessage(`42`)},
		},
	})
	require.Error(t, err)
	apiErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, apiErr.Code)
	require.NotEmpty(t, apiErr.Suggestions)
	assert.Contains(t, apiErr.Suggestions[0], "year_of_study")
}

func TestSetTargetRequiresTypePayload(t *testing.T) {
	service, _ := newTargetingFixture(nil, nil)
	_, err := service.SetTarget(context.Background(), "a1", dto.TargetRequest{Type: "ROOMS"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSetTargetMarksAudienceCacheStale(t *testing.T) {
	service, targets := newTargetingFixture(nil, nil)
	_, err := service.SetTarget(context.Background(), "a1", dto.TargetRequest{Type: "ALL"})
	require.NoError(t, err)
	assert.Contains(t, targets.stale, "a1")
}

func TestResolveCustomAppliesIncludeAndExcludeRules(t *testing.T) {
	candidates := []models.TargetCandidate{
		candidate("s1", 1, 2, "physics"),
		candidate("s2", 3, 2, "physics"),
		candidate("s3", 3, 4, "physics"),
		candidate("s4", 4, 2, "chemistry"),
	}
	service, _ := newTargetingFixture(candidates, nil)
	_, err := service.SetTarget(context.Background(), "a1", dto.TargetRequest{
		Type: "CUSTOM",
		Rules: []dto.TargetingRuleRequest{
			{Field: "year_of_study", Operator: "GREATER_THAN", Value: json.RawMessage(`2`)},
			{Field: "floor", Operator: "EQUALS", Value: json.RawMessage(`4`), Exclude: true},
		},
	})
	require.NoError(t, err)

	resolved, err := service.Resolve(context.Background(), &models.Announcement{ID: "a1", HostelID: "h1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(resolved))
	for _, c := range resolved {
		ids = append(ids, c.StudentID)
	}
	assert.ElementsMatch(t, []string{"s2", "s4"}, ids)
}

func TestEvaluateRuleOperators(t *testing.T) {
	c := candidate("s1", 3, 2, "Computer Science")

	match, err := evaluateRule(c, models.TargetingRule{Field: "department", Operator: models.RuleOperatorContains, Value: []byte(`"computer"`)})
	require.NoError(t, err)
	assert.True(t, match)

	match, err = evaluateRule(c, models.TargetingRule{Field: "year_of_study", Operator: models.RuleOperatorBetween, Value: []byte(`[2, 4]`)})
	require.NoError(t, err)
	assert.True(t, match)

	match, err = evaluateRule(c, models.TargetingRule{Field: "year_of_study", Operator: models.RuleOperatorIn, Value: []byte(`[1, 2]`)})
	require.NoError(t, err)
	assert.False(t, match)

	match, err = evaluateRule(c, models.TargetingRule{Field: "status", Operator: models.RuleOperatorEquals, Value: []byte(`"active"`)})
	require.NoError(t, err)
	assert.True(t, match, "string comparison is case-insensitive")
}

func TestEvaluateRuleMissingRoomFieldNeverMatches(t *testing.T) {
	c := models.TargetCandidate{StudentID: "s1", Status: models.StudentStatusActive}
	match, err := evaluateRule(c, models.TargetingRule{Field: "floor", Operator: models.RuleOperatorEquals, Value: []byte(`2`)})
	require.NoError(t, err)
	assert.False(t, match)
}

func TestEvaluateRuleInvalidOperandValue(t *testing.T) {
	c := candidate("s1", 3, 2, "physics")
	_, err := evaluateRule(c, models.TargetingRule{Field: "year_of_study", Operator: models.RuleOperatorBetween, Value: []byte(`[1]`)})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPreventOverMessagingPartitionsRecipients(t *testing.T) {
	service, _ := newTargetingFixture(nil, map[string]int{"s1": 5, "s2": 1})
	result, err := service.PreventOverMessaging(context.Background(), models.AnnouncementPriorityNormal, []string{"s1", "s2", "s3"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s2", "s3"}, result.Eligible)
	assert.ElementsMatch(t, []string{"s1"}, result.FilteredOut)
	assert.Equal(t, 3, result.MaxMessages)
}

func TestPreventOverMessagingUrgentBypassesGuard(t *testing.T) {
	service, _ := newTargetingFixture(nil, map[string]int{"s1": 50})
	result, err := service.PreventOverMessaging(context.Background(), models.AnnouncementPriorityUrgent, []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, result.Eligible)
	assert.Empty(t, result.FilteredOut)
}

func TestCalculateTargetReachStoresAudienceCache(t *testing.T) {
	floor2 := 2
	room := "201"
	candidates := []models.TargetCandidate{
		{StudentID: "s1", Status: models.StudentStatusActive, Floor: &floor2, RoomNumber: &room},
		{StudentID: "s2", Status: models.StudentStatusInactive},
	}
	service, targets := newTargetingFixture(candidates, nil)
	_, err := service.SetTarget(context.Background(), "a1", dto.TargetRequest{Type: "ALL"})
	require.NoError(t, err)

	reach, err := service.CalculateTargetReach(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, reach.Breakdown.Total)
	assert.Equal(t, 1, reach.Breakdown.ByStatus["ACTIVE"])
	assert.Equal(t, 1, reach.Breakdown.ByFloor["2"])

	cache, ok := targets.caches["a1"]
	require.True(t, ok)
	var ids []string
	require.NoError(t, json.Unmarshal(cache.RecipientIDs, &ids))
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)
	assert.False(t, cache.Stale)
}

func TestGetCachedAudienceReportsHit(t *testing.T) {
	service, targets := newTargetingFixture([]models.TargetCandidate{{StudentID: "s1"}}, nil)
	_, err := service.SetTarget(context.Background(), "a1", dto.TargetRequest{Type: "ALL"})
	require.NoError(t, err)

	ids, hit, err := service.GetCachedAudience(context.Background(), "a1")
	require.NoError(t, err)
	assert.False(t, hit, "first resolution computes the audience")
	assert.Equal(t, []string{"s1"}, ids)
	require.Contains(t, targets.caches, "a1")

	ids, hit, err = service.GetCachedAudience(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"s1"}, ids)
}
