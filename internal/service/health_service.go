package service

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/oldtowntours/ticketdesk/internal/repository"
)

// RunStatus is the slice of the background scheduler health cares about.
type RunStatus interface {
	IsRunning() bool
}

type healthService struct {
	repo      repository.Repository
	redis     *redis.Client
	scheduler RunStatus
	delivery  DeliveryService
}

// NewHealthService creates the dependency health reporter.
func NewHealthService(repo repository.Repository, rdb *redis.Client, sched RunStatus, delivery DeliveryService) HealthService {
	return &healthService{
		repo:      repo,
		redis:     rdb,
		scheduler: sched,
		delivery:  delivery,
	}
}

// GetHealth probes each dependency. Overall status degrades when any
// probe fails; the database being down is the only thing reported as
// unhealthy outright.
func (s *healthService) GetHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "up",
		Redis:     "up",
		Scheduler: "stopped",
		Breakers:  map[string]string{},
	}

	if err := s.repo.Ping(); err != nil {
		status.Database = "down"
		status.Status = "unhealthy"
	}

	if s.redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.redis.Ping(pingCtx).Err(); err != nil {
			status.Redis = "down"
			if status.Status == "healthy" {
				status.Status = "degraded"
			}
		}
	} else {
		status.Redis = "disabled"
	}

	if s.scheduler != nil && s.scheduler.IsRunning() {
		status.Scheduler = "running"
	}

	if s.delivery != nil {
		status.Breakers = s.delivery.BreakerStates()
		for _, state := range status.Breakers {
			if state == "open" && status.Status == "healthy" {
				status.Status = "degraded"
			}
		}
	}

	return status
}
