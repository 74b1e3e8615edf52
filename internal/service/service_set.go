package service

import (
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-announce-api/internal/repository"
)

// ServiceSet bundles the domain services bound to one repository set. The
// orchestrator rebuilds the set against a transaction-bound repository bundle
// inside each unit of work.
type ServiceSet struct {
	Targeting  *TargetingService
	Scheduling *SchedulingService
	Approvals  *ApprovalService
	Deliveries *DeliveryService
	Engagement *EngagementService
}

// ServiceSetConfig aggregates the per-service tuning blocks.
type ServiceSetConfig struct {
	Targeting  TargetingServiceConfig
	Scheduling SchedulingServiceConfig
	Approval   ApprovalServiceConfig
	Delivery   DeliveryServiceConfig
	Engagement EngagementServiceConfig
}

// NewServiceSet binds the domain services to a repository bundle.
func NewServiceSet(repos *repository.Repositories, cache *CacheService, sender ChannelSender, validate *validator.Validate, logger *zap.Logger, cfg ServiceSetConfig) *ServiceSet {
	return &ServiceSet{
		Targeting:  NewTargetingService(repos.Targets, repos.Students, repos.Announcements, repos.Deliveries, validate, logger, cfg.Targeting),
		Scheduling: NewSchedulingService(repos.Schedules, repos.Queue, repos.Announcements, repos.Recurring, validate, logger, cfg.Scheduling),
		Approvals:  NewApprovalService(repos.Approvals, repos.Announcements, validate, logger, cfg.Approval),
		Deliveries: NewDeliveryService(repos.Deliveries, repos.Announcements, sender, logger, cfg.Delivery),
		Engagement: NewEngagementService(repos.Engagement, repos.Announcements, cache, validate, logger, cfg.Engagement),
	}
}
