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
	"github.com/noah-isme/hostel-announce-api/internal/repository"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

type uowRunner interface {
	Do(ctx context.Context, fn func(r *repository.Repositories) error) error
}

// AnnouncementServiceConfig tunes the orchestrator and its sweeps.
type AnnouncementServiceConfig struct {
	QueueLockTTL time.Duration
	MaxAttempts  int
	SweepLimit   int
	Services     ServiceSetConfig
}

// AnnouncementService owns announcement CRUD and the multi-step workflows
// that span targeting, scheduling, approval and delivery. Workflows run in a
// single unit of work; any inner failure rolls back every intermediate write
// and surfaces as one business-logic error.
type AnnouncementService struct {
	uow       uowRunner
	repos     *repository.Repositories
	services  *ServiceSet
	cache     *CacheService
	sender    ChannelSender
	validator *validator.Validate
	logger    *zap.Logger
	cfg       AnnouncementServiceConfig
	now       func() time.Time

	// onBatchCreated is invoked after a workflow commits delivery batches,
	// typically to enqueue dispatch jobs.
	onBatchCreated func(batchID string)
}

// NewAnnouncementService constructs the orchestrator.
func NewAnnouncementService(uow uowRunner, repos *repository.Repositories, cache *CacheService, sender ChannelSender, validate *validator.Validate, logger *zap.Logger, cfg AnnouncementServiceConfig) *AnnouncementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueLockTTL <= 0 {
		cfg.QueueLockTTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 50
	}
	return &AnnouncementService{
		uow:       uow,
		repos:     repos,
		services:  NewServiceSet(repos, cache, sender, validate, logger, cfg.Services),
		cache:     cache,
		sender:    sender,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnBatchCreated registers the post-commit hook for freshly created delivery
// batches.
func (s *AnnouncementService) OnBatchCreated(fn func(batchID string)) {
	s.onBatchCreated = fn
}

// Services exposes the default (non-transactional) service set for handlers.
func (s *AnnouncementService) Services() *ServiceSet {
	return s.services
}

// Create inserts a new draft announcement.
func (s *AnnouncementService) Create(ctx context.Context, hostelID string, actor *models.JWTClaims, req dto.CreateAnnouncementRequest) (*models.Announcement, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid announcement payload")
	}
	announcement := &models.Announcement{
		HostelID:               hostelID,
		Title:                  req.Title,
		Content:                req.Content,
		Category:               models.AnnouncementCategory(req.Category),
		Priority:               models.AnnouncementPriority(req.Priority),
		Status:                 models.AnnouncementStatusDraft,
		RequiresAcknowledgment: req.RequiresAcknowledgment,
		NotifyPush:             req.NotifyPush,
		NotifyEmail:            req.NotifyEmail,
		NotifySMS:              req.NotifySMS,
		ExpiresAt:              req.ExpiresAt,
		CreatedBy:              actor.UserID,
	}
	if err := s.repos.Announcements.Create(ctx, announcement); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create announcement")
	}
	s.audit(ctx, actor, models.AuditActionAnnouncementCreate, announcement.ID, nil, announcement)
	return announcement, nil
}

// Get returns one announcement.
func (s *AnnouncementService) Get(ctx context.Context, id string) (*models.Announcement, error) {
	announcement, err := s.repos.Announcements.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	return announcement, nil
}

// List returns announcements of a hostel matching the query.
func (s *AnnouncementService) List(ctx context.Context, hostelID string, query dto.ListAnnouncementsQuery) (*dto.AnnouncementListResponse, error) {
	filter := models.AnnouncementFilter{
		HostelID:  hostelID,
		Category:  models.AnnouncementCategory(query.Category),
		CreatedBy: query.CreatedBy,
		Page:      query.Page,
		PageSize:  query.PageSize,
	}
	for _, status := range query.Statuses {
		filter.Statuses = append(filter.Statuses, models.AnnouncementStatus(status))
	}
	items, total, err := s.repos.Announcements.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list announcements")
	}
	if items == nil {
		items = []models.Announcement{}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return &dto.AnnouncementListResponse{
		Items: items,
		Pagination: models.Pagination{
			Page:       page,
			PageSize:   size,
			TotalCount: total,
		},
	}, nil
}

// Update edits a draft announcement, snapshotting the previous content into
// the version history.
func (s *AnnouncementService) Update(ctx context.Context, id string, actor *models.JWTClaims, req dto.UpdateAnnouncementRequest) (*models.Announcement, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid announcement payload")
	}
	var updated *models.Announcement
	err := s.uow.Do(ctx, func(r *repository.Repositories) error {
		announcement, err := r.Announcements.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if announcement.Status != models.AnnouncementStatusDraft {
			return appErrors.Clone(appErrors.ErrBusinessLogic, "only draft announcements can be edited")
		}
		version, err := r.Announcements.NextVersion(ctx, id)
		if err != nil {
			return err
		}
		snapshot := &models.AnnouncementVersion{
			AnnouncementID: id,
			Version:        version,
			Title:          announcement.Title,
			Content:        announcement.Content,
			EditedBy:       actor.UserID,
		}
		if err := r.Announcements.CreateVersion(ctx, snapshot); err != nil {
			return err
		}
		applyAnnouncementUpdate(announcement, req)
		if err := r.Announcements.Update(ctx, announcement); err != nil {
			return err
		}
		updated = announcement
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		var typed *appErrors.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update announcement")
	}
	s.audit(ctx, actor, models.AuditActionAnnouncementUpdate, id, nil, updated)
	return updated, nil
}

// Delete removes a draft announcement.
func (s *AnnouncementService) Delete(ctx context.Context, id string) error {
	announcement, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if announcement.Status != models.AnnouncementStatusDraft {
		return appErrors.Clone(appErrors.ErrBusinessLogic, "only draft announcements can be deleted")
	}
	if err := s.repos.Announcements.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete announcement")
	}
	return nil
}

// Publish publishes a draft immediately. A pending or rejected approval
// blocks direct publication.
func (s *AnnouncementService) Publish(ctx context.Context, id string, actor *models.JWTClaims) (*models.Announcement, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if approval, err := s.repos.Approvals.GetByAnnouncement(ctx, id); err == nil {
		if approval.Status != models.ApprovalStatusApproved {
			return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "announcement awaits approval")
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval")
	}
	if err := s.repos.Announcements.TransitionStatus(ctx, id,
		[]models.AnnouncementStatus{models.AnnouncementStatusDraft, models.AnnouncementStatusScheduled},
		models.AnnouncementStatusPublished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "announcement cannot be published from its current state")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish announcement")
	}
	s.audit(ctx, actor, models.AuditActionAnnouncementPublish, id, nil, nil)
	return s.Get(ctx, id)
}

// Archive retires a published announcement.
func (s *AnnouncementService) Archive(ctx context.Context, id string, actor *models.JWTClaims) (*models.Announcement, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.repos.Announcements.TransitionStatus(ctx, id,
		[]models.AnnouncementStatus{models.AnnouncementStatusPublished},
		models.AnnouncementStatusArchived); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "only published announcements can be archived")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive announcement")
	}
	s.audit(ctx, actor, models.AuditActionAnnouncementArchive, id, nil, nil)
	return s.Get(ctx, id)
}

// Versions returns the edit history of an announcement, newest first.
func (s *AnnouncementService) Versions(ctx context.Context, id string) ([]models.AnnouncementVersion, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	versions, err := s.repos.Announcements.ListVersions(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list versions")
	}
	return versions, nil
}

// CreateCompleteAnnouncement creates an announcement together with its
// targeting, optional schedule and optional approval request atomically.
func (s *AnnouncementService) CreateCompleteAnnouncement(ctx context.Context, hostelID string, actor *models.JWTClaims, req dto.CreateCompleteAnnouncementRequest) (*dto.CompleteAnnouncementResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid complete announcement payload")
	}
	response := &dto.CompleteAnnouncementResponse{}
	err := s.uow.Do(ctx, func(r *repository.Repositories) error {
		services := s.txServices(r)
		announcement := &models.Announcement{
			HostelID:               hostelID,
			Title:                  req.Announcement.Title,
			Content:                req.Announcement.Content,
			Category:               models.AnnouncementCategory(req.Announcement.Category),
			Priority:               models.AnnouncementPriority(req.Announcement.Priority),
			Status:                 models.AnnouncementStatusDraft,
			RequiresAcknowledgment: req.Announcement.RequiresAcknowledgment,
			NotifyPush:             req.Announcement.NotifyPush,
			NotifyEmail:            req.Announcement.NotifyEmail,
			NotifySMS:              req.Announcement.NotifySMS,
			ExpiresAt:              req.Announcement.ExpiresAt,
			CreatedBy:              actor.UserID,
		}
		if err := r.Announcements.Create(ctx, announcement); err != nil {
			return err
		}
		target, err := services.Targeting.SetTarget(ctx, announcement.ID, req.Target)
		if err != nil {
			return err
		}
		reach, err := services.Targeting.CalculateTargetReach(ctx, announcement.ID)
		if err != nil {
			return err
		}
		response.Announcement = announcement
		response.Target = target
		response.Reach = reach.Breakdown.Total

		if req.RequireApproval {
			approval, err := services.Approvals.SubmitForApproval(ctx, announcement.ID, actor, dto.SubmitApprovalRequest{})
			if err != nil {
				return err
			}
			response.Approval = approval
		}
		if req.Schedule != nil {
			if req.RequireApproval && (response.Approval == nil || response.Approval.Status != models.ApprovalStatusApproved) {
				return appErrors.Clone(appErrors.ErrBusinessLogic, "cannot schedule before approval is granted")
			}
			schedule, err := services.Scheduling.CreateSchedule(ctx, announcement.ID, *req.Schedule)
			if err != nil {
				return err
			}
			response.Schedule = schedule
			announcement.Status = models.AnnouncementStatusScheduled
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.BusinessLogic(err, "complete announcement creation failed")
	}
	s.audit(ctx, actor, models.AuditActionAnnouncementCreate, response.Announcement.ID, nil, response.Announcement)
	return response, nil
}

// ProcessApprovalAndPublish approves a pending request and, when requested,
// publishes the announcement in the same transaction.
func (s *AnnouncementService) ProcessApprovalAndPublish(ctx context.Context, announcementID string, actor *models.JWTClaims, req dto.ApprovalDecisionRequest) (*models.Approval, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	var approval *models.Approval
	err := s.uow.Do(ctx, func(r *repository.Repositories) error {
		services := s.txServices(r)
		decided, err := services.Approvals.Approve(ctx, announcementID, actor, req)
		if err != nil {
			return err
		}
		approval = decided
		if req.AutoPublish {
			if err := r.Announcements.TransitionStatus(ctx, announcementID,
				[]models.AnnouncementStatus{models.AnnouncementStatusDraft, models.AnnouncementStatusScheduled},
				models.AnnouncementStatusPublished); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Clone(appErrors.ErrBusinessLogic, "announcement cannot be published from its current state")
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.BusinessLogic(err, "approval workflow failed")
	}
	s.audit(ctx, actor, models.AuditActionApprovalDecision, announcementID, nil, approval)
	return approval, nil
}

// InitializeDelivery resolves the audience, applies the over-messaging guard
// and creates delivery batches in one transaction. Dispatch hooks fire after
// commit.
func (s *AnnouncementService) InitializeDelivery(ctx context.Context, announcementID string, actor *models.JWTClaims, req dto.InitializeDeliveryRequest) ([]models.DeliveryBatch, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid delivery payload")
	}
	var batches []models.DeliveryBatch
	err := s.uow.Do(ctx, func(r *repository.Repositories) error {
		services := s.txServices(r)
		announcement, err := r.Announcements.GetByID(ctx, announcementID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
			}
			return err
		}
		created, err := s.fanOut(ctx, services, announcement, req.BatchSize)
		if err != nil {
			return err
		}
		batches = created
		return nil
	})
	if err != nil {
		return nil, appErrors.BusinessLogic(err, "delivery initialization failed")
	}
	s.audit(ctx, actor, models.AuditActionDeliveryInitialize, announcementID, nil, nil)
	s.notifyBatches(batches)
	return batches, nil
}

// ProcessScheduledPublications claims due queue entries and publishes them.
// Each entry is processed in its own transaction under a time-bounded worker
// lock; failures are isolated into the entry's error history and retried
// below the attempt limit.
func (s *AnnouncementService) ProcessScheduledPublications(ctx context.Context, workerID string) (int, error) {
	due, err := s.repos.Queue.ListDue(ctx, s.now(), s.cfg.SweepLimit)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due publications")
	}
	published := 0
	for i := range due {
		entry := due[i]
		claimed, err := s.repos.Queue.AcquireLock(ctx, entry.ID, workerID, s.cfg.QueueLockTTL, s.now())
		if err != nil {
			s.logger.Error("failed to acquire queue lock", zap.String("entry_id", entry.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		var batches []models.DeliveryBatch
		err = s.uow.Do(ctx, func(r *repository.Repositories) error {
			created, err := s.publishEntry(ctx, r, &entry, workerID)
			if err != nil {
				return err
			}
			batches = created
			return nil
		})
		if err != nil {
			retry := entry.Attempts+1 < s.cfg.MaxAttempts
			if failErr := s.repos.Queue.MarkFailed(ctx, &entry, workerID, err.Error(), retry); failErr != nil {
				s.logger.Error("failed to record queue failure", zap.String("entry_id", entry.ID), zap.Error(failErr))
			}
			s.logger.Warn("scheduled publication failed",
				zap.String("announcement_id", entry.AnnouncementID),
				zap.Bool("retry", retry),
				zap.Error(err))
			continue
		}
		s.notifyBatches(batches)
		published++
	}
	return published, nil
}

// ProcessRecurringAnnouncements spawns announcement instances from due
// recurring templates. Template failures are isolated.
func (s *AnnouncementService) ProcessRecurringAnnouncements(ctx context.Context) (int, error) {
	due, err := s.repos.Recurring.ListDue(ctx, s.now(), s.cfg.SweepLimit)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due recurring templates")
	}
	spawned := 0
	for i := range due {
		template := due[i]
		var batches []models.DeliveryBatch
		err := s.uow.Do(ctx, func(r *repository.Repositories) error {
			created, err := s.spawnFromTemplate(ctx, r, &template)
			if err != nil {
				return err
			}
			batches = created
			return nil
		})
		if err != nil {
			s.logger.Warn("recurring spawn failed", zap.String("template_id", template.ID), zap.Error(err))
			continue
		}
		s.notifyBatches(batches)
		spawned++
	}
	return spawned, nil
}

// publishEntry runs the transactional part of one scheduled publication.
func (s *AnnouncementService) publishEntry(ctx context.Context, r *repository.Repositories, entry *models.PublishQueueEntry, workerID string) ([]models.DeliveryBatch, error) {
	services := s.txServices(r)
	if err := r.Announcements.TransitionStatus(ctx, entry.AnnouncementID,
		[]models.AnnouncementStatus{models.AnnouncementStatusScheduled, models.AnnouncementStatusPublished},
		models.AnnouncementStatusPublished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "announcement is not publishable")
		}
		return nil, err
	}
	announcement, err := r.Announcements.GetByID(ctx, entry.AnnouncementID)
	if err != nil {
		return nil, err
	}

	schedule, err := r.Schedules.GetByAnnouncement(ctx, entry.AnnouncementID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if schedule != nil {
		schedule.OccurrenceCount++
		next, recurs, err := s.advanceSchedule(schedule)
		if err != nil {
			return nil, err
		}
		if recurs {
			schedule.PublishAt = next
			schedule.SLADeadline = next.Add(-s.cfg.Services.Scheduling.SLALead)
			if err := r.Schedules.Update(ctx, schedule); err != nil {
				return nil, err
			}
			if err := r.Queue.Upsert(ctx, &models.PublishQueueEntry{
				AnnouncementID: entry.AnnouncementID,
				ScheduledFor:   next,
				Priority:       entry.Priority,
				Urgent:         entry.Urgent,
				Status:         models.QueueStatusPending,
			}); err != nil {
				return nil, err
			}
		} else {
			schedule.Status = models.ScheduleStatusCompleted
			if err := r.Schedules.Update(ctx, schedule); err != nil {
				return nil, err
			}
			if err := r.Queue.MarkCompleted(ctx, entry.ID, workerID); err != nil {
				return nil, err
			}
		}
	} else if err := r.Queue.MarkCompleted(ctx, entry.ID, workerID); err != nil {
		return nil, err
	}

	return s.fanOut(ctx, services, announcement, 0)
}

// spawnFromTemplate creates and publishes one announcement instance from a
// recurring template and advances or deactivates the template.
func (s *AnnouncementService) spawnFromTemplate(ctx context.Context, r *repository.Repositories, template *models.RecurringAnnouncement) ([]models.DeliveryBatch, error) {
	services := s.txServices(r)
	now := s.now()
	announcement := &models.Announcement{
		HostelID:               template.HostelID,
		Title:                  template.Title,
		Content:                template.Content,
		Category:               template.Category,
		Priority:               template.Priority,
		Status:                 models.AnnouncementStatusPublished,
		RequiresAcknowledgment: template.RequiresAcknowledgment,
		PublishedAt:            &now,
		CreatedBy:              template.CreatedBy,
	}
	if err := r.Announcements.Create(ctx, announcement); err != nil {
		return nil, err
	}
	var targetReq dto.TargetRequest
	if len(template.TargetSpec) > 0 {
		if err := json.Unmarshal(template.TargetSpec, &targetReq); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "recurring template carries an invalid target spec")
		}
	} else {
		targetReq = dto.TargetRequest{Type: string(models.TargetTypeAll)}
	}
	if _, err := services.Targeting.SetTarget(ctx, announcement.ID, targetReq); err != nil {
		return nil, err
	}
	batches, err := s.fanOut(ctx, services, announcement, 0)
	if err != nil {
		return nil, err
	}

	next, err := NextOccurrence(template.Pattern, template.NextRunAt, template.Timezone)
	if err != nil {
		return nil, err
	}
	active := templateContinues(template, next)
	if err := r.Recurring.AdvanceAfterSpawn(ctx, template.ID, next, active); err != nil {
		return nil, err
	}
	return batches, nil
}

// fanOut resolves the audience, applies the over-messaging guard and creates
// delivery batches.
func (s *AnnouncementService) fanOut(ctx context.Context, services *ServiceSet, announcement *models.Announcement, batchSize int) ([]models.DeliveryBatch, error) {
	candidates, err := services.Targeting.Resolve(ctx, announcement)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(candidates))
	byID := make(map[string]models.TargetCandidate, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.StudentID)
		byID[c.StudentID] = c
	}
	guard, err := services.Targeting.PreventOverMessaging(ctx, announcement.Priority, ids)
	if err != nil {
		return nil, err
	}
	eligible := make([]models.TargetCandidate, 0, len(guard.Eligible))
	for _, id := range guard.Eligible {
		eligible = append(eligible, byID[id])
	}
	return services.Deliveries.InitializeDelivery(ctx, announcement, eligible, batchSize)
}

func (s *AnnouncementService) advanceSchedule(schedule *models.Schedule) (time.Time, bool, error) {
	if schedule.Pattern == models.RecurrenceNone {
		return time.Time{}, false, nil
	}
	next, err := NextOccurrence(schedule.Pattern, schedule.PublishAt, schedule.Timezone)
	if err != nil {
		return time.Time{}, false, err
	}
	if schedule.EndDate != nil && next.After(*schedule.EndDate) {
		return time.Time{}, false, nil
	}
	if schedule.MaxOccurrences != nil && schedule.OccurrenceCount >= *schedule.MaxOccurrences {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

func templateContinues(template *models.RecurringAnnouncement, next time.Time) bool {
	if template.EndDate != nil && next.After(*template.EndDate) {
		return false
	}
	if template.MaxOccurrences != nil && template.SpawnCount+1 >= *template.MaxOccurrences {
		return false
	}
	return true
}

func (s *AnnouncementService) txServices(r *repository.Repositories) *ServiceSet {
	return NewServiceSet(r, s.cache, s.sender, s.validator, s.logger, s.cfg.Services)
}

func (s *AnnouncementService) notifyBatches(batches []models.DeliveryBatch) {
	if s.onBatchCreated == nil {
		return
	}
	for _, batch := range batches {
		s.onBatchCreated(batch.ID)
	}
}

func (s *AnnouncementService) audit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, oldValue, newValue interface{}) {
	var userID *string
	if actor != nil && actor.UserID != "" {
		userID = &actor.UserID
	}
	var oldBytes, newBytes []byte
	if oldValue != nil {
		oldBytes, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		newBytes, _ = json.Marshal(newValue)
	}
	log := &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "announcement",
		ResourceID: &resourceID,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "announcement-service",
	}
	if err := s.repos.Users.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func applyAnnouncementUpdate(announcement *models.Announcement, req dto.UpdateAnnouncementRequest) {
	if req.Title != nil {
		announcement.Title = *req.Title
	}
	if req.Content != nil {
		announcement.Content = *req.Content
	}
	if req.Category != nil {
		announcement.Category = models.AnnouncementCategory(*req.Category)
	}
	if req.Priority != nil {
		announcement.Priority = models.AnnouncementPriority(*req.Priority)
	}
	if req.RequiresAcknowledgment != nil {
		announcement.RequiresAcknowledgment = *req.RequiresAcknowledgment
	}
	if req.NotifyPush != nil {
		announcement.NotifyPush = *req.NotifyPush
	}
	if req.NotifyEmail != nil {
		announcement.NotifyEmail = *req.NotifyEmail
	}
	if req.NotifySMS != nil {
		announcement.NotifySMS = *req.NotifySMS
	}
	if req.ExpiresAt != nil {
		announcement.ExpiresAt = req.ExpiresAt
	}
}

func strPtr(value string) *string {
	if value == "" {
		return nil
	}
	result := value
	return &result
}
