package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
)

// Broker is a durable job queue backed by the relational store. Jobs
// survive restarts; the ID doubles as the dedup key so callers can
// enqueue idempotently.
type Broker struct {
	db          *gorm.DB
	bus         *Bus
	maxAttempts int
}

// NewBroker creates a broker publishing lifecycle events on bus.
func NewBroker(db *gorm.DB, bus *Bus, maxAttempts int) *Broker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Broker{db: db, bus: bus, maxAttempts: maxAttempts}
}

// Enqueue adds a job to the named queue. If a job with the same ID is
// already waiting or active the call is a no-op; a completed or failed
// job with that ID is reset and queued again with the new payload.
func (b *Broker) Enqueue(ctx context.Context, queue, id, payload string) error {
	now := time.Now()
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Job
		err := tx.First(&existing, "id = ?", id).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			job := domain.Job{
				ID:          id,
				Queue:       queue,
				Payload:     payload,
				Status:      domain.JobStatusWaiting,
				MaxAttempts: b.maxAttempts,
				RunAfter:    now,
			}
			return tx.Create(&job).Error
		case err != nil:
			return fmt.Errorf("failed to look up job %s: %w", id, err)
		}

		if existing.Status == domain.JobStatusWaiting || existing.Status == domain.JobStatusActive {
			return nil
		}

		return tx.Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
			"queue":      queue,
			"payload":    payload,
			"status":     domain.JobStatusWaiting,
			"attempts":   0,
			"run_after":  now,
			"last_error": "",
		}).Error
	})
}

// ClaimNext leases the oldest runnable waiting job from the queue,
// flipping it to active. Returns nil when nothing is runnable.
func (b *Broker) ClaimNext(ctx context.Context, queue string) (*domain.Job, error) {
	var claimed *domain.Job
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.Job
		err := tx.
			Where("queue = ? AND status = ? AND run_after <= ?", queue, domain.JobStatusWaiting, time.Now()).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to claim job from %s: %w", queue, err)
		}

		job.Status = domain.JobStatusActive
		job.Attempts++
		if err := tx.Model(&domain.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":   domain.JobStatusActive,
			"attempts": job.Attempts,
		}).Error; err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed != nil {
		b.bus.Publish(domain.JobEvent{
			Type:  domain.EventJobActive,
			Queue: claimed.Queue,
			JobID: claimed.ID,
		})
	}
	return claimed, nil
}

// Complete marks a job finished and emits the completed event.
func (b *Broker) Complete(ctx context.Context, job *domain.Job, data interface{}) error {
	err := b.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusCompleted,
			"last_error": "",
		}).Error
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}
	b.bus.Publish(domain.JobEvent{
		Type:  domain.EventJobCompleted,
		Queue: job.Queue,
		JobID: job.ID,
		Data:  data,
	})
	return nil
}

// Fail records a job failure. Below the attempt cap the job is queued
// again with exponential backoff; at the cap it goes terminal.
func (b *Broker) Fail(ctx context.Context, job *domain.Job, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}

	terminal := job.Attempts >= job.MaxAttempts
	updates := map[string]interface{}{
		"last_error": msg,
	}
	if terminal {
		updates["status"] = domain.JobStatusFailed
	} else {
		backoff := time.Duration(math.Pow(2, float64(job.Attempts))) * time.Second
		updates["status"] = domain.JobStatusWaiting
		updates["run_after"] = time.Now().Add(backoff)
	}

	err := b.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", job.ID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to record failure for job %s: %w", job.ID, err)
	}

	b.bus.Publish(domain.JobEvent{
		Type:  domain.EventJobFailed,
		Queue: job.Queue,
		JobID: job.ID,
		Data: map[string]interface{}{
			"error":      msg,
			"attempts":   job.Attempts,
			"will_retry": !terminal,
		},
	})
	return nil
}

// Progress publishes a progress event for a running job. Progress is
// event-only; it never touches the job row.
func (b *Broker) Progress(job *domain.Job, data interface{}) {
	b.bus.Publish(domain.JobEvent{
		Type:  domain.EventJobProgress,
		Queue: job.Queue,
		JobID: job.ID,
		Data:  data,
	})
}

// Counts returns per-queue job counts grouped by state.
func (b *Broker) Counts(ctx context.Context) (map[string]domain.JobCounts, error) {
	type row struct {
		Queue  string
		Status domain.JobStatus
		N      int64
	}
	var rows []row
	err := b.db.WithContext(ctx).Model(&domain.Job{}).
		Select("queue, status, COUNT(*) AS n").
		Group("queue").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[string]domain.JobCounts)
	for _, r := range rows {
		c := counts[r.Queue]
		switch r.Status {
		case domain.JobStatusWaiting:
			c.Waiting = r.N
		case domain.JobStatusActive:
			c.Active = r.N
		case domain.JobStatusCompleted:
			c.Completed = r.N
		case domain.JobStatusFailed:
			c.Failed = r.N
		}
		counts[r.Queue] = c
	}
	return counts, nil
}

// Bus exposes the event bus for subscribers.
func (b *Broker) Bus() *Bus {
	return b.bus
}
