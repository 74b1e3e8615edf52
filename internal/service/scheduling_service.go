package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-announce-api/internal/dto"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

type schedulingScheduleRepo interface {
	Create(ctx context.Context, schedule *models.Schedule) error
	GetByAnnouncement(ctx context.Context, announcementID string) (*models.Schedule, error)
	Update(ctx context.Context, schedule *models.Schedule) error
	Cancel(ctx context.Context, id string) error
	MarkSLABreaches(ctx context.Context, now time.Time) ([]string, error)
}

type schedulingQueueRepo interface {
	Upsert(ctx context.Context, entry *models.PublishQueueEntry) error
	Cancel(ctx context.Context, announcementID string) error
	GetByAnnouncement(ctx context.Context, announcementID string) (*models.PublishQueueEntry, error)
}

type schedulingAnnouncementRepo interface {
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	TransitionStatus(ctx context.Context, id string, from []models.AnnouncementStatus, to models.AnnouncementStatus) error
}

type schedulingRecurringRepo interface {
	Create(ctx context.Context, template *models.RecurringAnnouncement) error
	GetByID(ctx context.Context, id string) (*models.RecurringAnnouncement, error)
	ListByHostel(ctx context.Context, hostelID string) ([]models.RecurringAnnouncement, error)
	Deactivate(ctx context.Context, id string) error
}

// SchedulingServiceConfig tunes SLA deadlines.
type SchedulingServiceConfig struct {
	SLALead time.Duration
}

// SchedulingService manages publish schedules, the publish queue and
// recurring templates.
type SchedulingService struct {
	schedules     schedulingScheduleRepo
	queue         schedulingQueueRepo
	announcements schedulingAnnouncementRepo
	recurring     schedulingRecurringRepo
	validator     *validator.Validate
	logger        *zap.Logger
	cfg           SchedulingServiceConfig
	now           func() time.Time
}

// NewSchedulingService constructs a SchedulingService.
func NewSchedulingService(schedules schedulingScheduleRepo, queue schedulingQueueRepo, announcements schedulingAnnouncementRepo, recurring schedulingRecurringRepo, validate *validator.Validate, logger *zap.Logger, cfg SchedulingServiceConfig) *SchedulingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SLALead <= 0 {
		cfg.SLALead = time.Hour
	}
	return &SchedulingService{
		schedules:     schedules,
		queue:         queue,
		announcements: announcements,
		recurring:     recurring,
		validator:     validate,
		logger:        logger,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateSchedule schedules a draft announcement for future publication and
// enqueues it. The draft transitions to SCHEDULED.
func (s *SchedulingService) CreateSchedule(ctx context.Context, announcementID string, req dto.ScheduleRequest) (*models.Schedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	announcement, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	if announcement.Status != models.AnnouncementStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "only draft announcements can be scheduled")
	}

	schedule, err := s.buildSchedule(announcementID, req)
	if err != nil {
		return nil, err
	}
	if err := s.schedules.Create(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule")
	}
	if err := s.enqueue(ctx, announcement, schedule.PublishAt); err != nil {
		return nil, err
	}
	if err := s.announcements.TransitionStatus(ctx, announcementID,
		[]models.AnnouncementStatus{models.AnnouncementStatusDraft}, models.AnnouncementStatusScheduled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "announcement left draft state during scheduling")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark announcement scheduled")
	}
	s.logger.Info("announcement scheduled",
		zap.String("announcement_id", announcementID),
		zap.Time("publish_at", schedule.PublishAt),
		zap.String("pattern", string(schedule.Pattern)))
	return schedule, nil
}

// GetSchedule returns the active schedule of an announcement.
func (s *SchedulingService) GetSchedule(ctx context.Context, announcementID string) (*models.Schedule, error) {
	schedule, err := s.schedules.GetByAnnouncement(ctx, announcementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return schedule, nil
}

// CancelSchedule cancels a pending schedule, cancels the queue entry and
// returns the announcement to draft.
func (s *SchedulingService) CancelSchedule(ctx context.Context, announcementID string) error {
	schedule, err := s.GetSchedule(ctx, announcementID)
	if err != nil {
		return err
	}
	if err := s.schedules.Cancel(ctx, schedule.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrBusinessLogic, "schedule is no longer pending")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel schedule")
	}
	if err := s.queue.Cancel(ctx, announcementID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel queue entry")
	}
	if err := s.announcements.TransitionStatus(ctx, announcementID,
		[]models.AnnouncementStatus{models.AnnouncementStatusScheduled}, models.AnnouncementStatusDraft); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to return announcement to draft")
	}
	return nil
}

// ScanSLABreaches flags pending schedules past their deadline. Repeated scans
// never re-flag the same schedule.
func (s *SchedulingService) ScanSLABreaches(ctx context.Context) ([]string, error) {
	ids, err := s.schedules.MarkSLABreaches(ctx, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan schedule SLA breaches")
	}
	if len(ids) > 0 {
		s.logger.Warn("schedule SLA breaches detected", zap.Int("count", len(ids)))
	}
	return ids, nil
}

// CreateRecurringTemplate creates a recurring announcement template.
func (s *SchedulingService) CreateRecurringTemplate(ctx context.Context, hostelID, createdBy string, req dto.CreateRecurringAnnouncementRequest) (*models.RecurringAnnouncement, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid recurring template payload")
	}
	timezone, err := normalizeTimezone(req.Timezone)
	if err != nil {
		return nil, err
	}
	if req.EndDate == nil && req.MaxOccurrences == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recurring template requires end_date or max_occurrences")
	}
	if !req.FirstRunAt.After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "first_run_at must be in the future")
	}
	targetSpec, err := json.Marshal(req.Target)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode target spec")
	}
	template := &models.RecurringAnnouncement{
		HostelID:               hostelID,
		Title:                  req.Title,
		Content:                req.Content,
		Category:               models.AnnouncementCategory(req.Category),
		Priority:               models.AnnouncementPriority(req.Priority),
		Pattern:                models.RecurrencePattern(req.Pattern),
		Timezone:               timezone,
		NextRunAt:              req.FirstRunAt.UTC(),
		EndDate:                req.EndDate,
		MaxOccurrences:         req.MaxOccurrences,
		Active:                 true,
		RequiresAcknowledgment: req.RequiresAcknowledgment,
		TargetSpec:             targetSpec,
		CreatedBy:              createdBy,
	}
	if err := s.recurring.Create(ctx, template); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create recurring template")
	}
	return template, nil
}

// ListRecurringTemplates returns the recurring templates of a hostel.
func (s *SchedulingService) ListRecurringTemplates(ctx context.Context, hostelID string) ([]models.RecurringAnnouncement, error) {
	templates, err := s.recurring.ListByHostel(ctx, hostelID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list recurring templates")
	}
	return templates, nil
}

// DeactivateRecurringTemplate switches a template off.
func (s *SchedulingService) DeactivateRecurringTemplate(ctx context.Context, id string) error {
	if _, err := s.recurring.GetByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "recurring template not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recurring template")
	}
	if err := s.recurring.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate recurring template")
	}
	return nil
}

func (s *SchedulingService) buildSchedule(announcementID string, req dto.ScheduleRequest) (*models.Schedule, error) {
	timezone, err := normalizeTimezone(req.Timezone)
	if err != nil {
		return nil, err
	}
	publishAt := req.PublishAt.UTC()
	if !publishAt.After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "publish_at must be in the future")
	}
	pattern := models.RecurrencePattern(req.Pattern)
	if pattern == "" {
		pattern = models.RecurrenceNone
	}
	if pattern != models.RecurrenceNone && req.EndDate == nil && req.MaxOccurrences == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recurring schedule requires end_date or max_occurrences")
	}
	if req.EndDate != nil && req.EndDate.Before(publishAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not precede publish_at")
	}
	return &models.Schedule{
		AnnouncementID: announcementID,
		PublishAt:      publishAt,
		Timezone:       timezone,
		Pattern:        pattern,
		EndDate:        req.EndDate,
		MaxOccurrences: req.MaxOccurrences,
		SLADeadline:    publishAt.Add(-s.cfg.SLALead),
		Status:         models.ScheduleStatusPending,
	}, nil
}

func (s *SchedulingService) enqueue(ctx context.Context, announcement *models.Announcement, publishAt time.Time) error {
	entry := &models.PublishQueueEntry{
		AnnouncementID: announcement.ID,
		ScheduledFor:   publishAt.UTC(),
		Priority:       models.PriorityRank(announcement.Priority),
		Urgent:         isUrgent(announcement),
		Status:         models.QueueStatusPending,
	}
	if err := s.queue.Upsert(ctx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue publication")
	}
	return nil
}

func isUrgent(announcement *models.Announcement) bool {
	return announcement.Priority == models.AnnouncementPriorityUrgent ||
		announcement.Category == models.AnnouncementCategoryEmergency
}

func normalizeTimezone(name string) (string, error) {
	if name == "" {
		return "UTC", nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown timezone "+name)
	}
	return name, nil
}

// NextOccurrence advances a publish time by one recurrence step in the
// schedule's timezone. Monthly recurrence preserves the day of month and
// clamps to the last day of shorter months (Jan 31 advances to Feb 28/29).
func NextOccurrence(pattern models.RecurrencePattern, from time.Time, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := from.In(loc)
	switch pattern {
	case models.RecurrenceDaily:
		return local.AddDate(0, 0, 1).UTC(), nil
	case models.RecurrenceWeekly:
		return local.AddDate(0, 0, 7).UTC(), nil
	case models.RecurrenceBiweekly:
		return local.AddDate(0, 0, 14).UTC(), nil
	case models.RecurrenceMonthly:
		year, month, day := local.Date()
		hour, minute, second := local.Clock()
		firstOfNext := time.Date(year, month+1, 1, hour, minute, second, local.Nanosecond(), loc)
		last := daysInMonth(firstOfNext.Year(), firstOfNext.Month())
		if day > last {
			day = last
		}
		return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, hour, minute, second, local.Nanosecond(), loc).UTC(), nil
	default:
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "pattern does not recur")
	}
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
