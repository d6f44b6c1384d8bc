// Package service holds the task tracking operations the chat transport calls.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskbot/internal/db"
	"taskbot/internal/db/models"
	"taskbot/internal/metrics"
	"taskbot/internal/reminder"
	"taskbot/internal/wizard"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned for unknown tasks, tasks owned by someone else and
// tasks that are already completed.
var ErrNotFound = db.ErrNotFound

// Scheduler registers one-shot reminders.
type Scheduler interface {
	Schedule(fireAt time.Time, chatID string, p reminder.Payload) (uuid.UUID, error)
}

// TaskCache caches open task lists per user.
type TaskCache interface {
	GetOpen(ctx context.Context, userID uuid.UUID) ([]*models.Task, error)
	SetOpen(ctx context.Context, userID uuid.UUID, list []*models.Task) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

type Option func(*TaskService)

// WithCache enables list caching.
func WithCache(c TaskCache) Option {
	return func(s *TaskService) { s.cache = c }
}

type TaskService struct {
	store     db.Store
	scheduler Scheduler
	cache     TaskCache
	log       *logrus.Entry
	now       func() time.Time
	sf        singleflight.Group

	// generations counts writes per user; a list load that overlaps a
	// write must not leave its rows in the cache.
	genMu       sync.Mutex
	generations map[uuid.UUID]uint64
}

var _ wizard.Submitter = (*TaskService)(nil)

func New(store db.Store, scheduler Scheduler, log *logrus.Entry, opts ...Option) *TaskService {
	s := &TaskService{
		store:     store,
		scheduler: scheduler,
		log:       log,
		now:       time.Now,

		generations: make(map[uuid.UUID]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register returns the user for a platform id, creating it on first contact.
func (s *TaskService) Register(ctx context.Context, externalID, name string) (*models.User, error) {
	user, err := s.store.GetOrCreateUser(ctx, externalID, name)
	if err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}
	return user, nil
}

// Submit saves a finished wizard draft and schedules its reminders.
func (s *TaskService) Submit(ctx context.Context, sub wizard.Submission) error {
	user, err := s.store.GetOrCreateUser(ctx, sub.Actor.UserID, sub.Actor.UserName)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	d := sub.Draft
	task := &models.Task{
		UserID:      user.ID,
		ChatID:      sub.Actor.ChatID,
		Title:       d.Title,
		Description: d.Description,
		Importance:  d.Importance,
		StartAt:     d.StartAt,
		DueAt:       d.DueAt,
		PhotoRef:    d.PhotoRef,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	metrics.TasksCreated.Inc()
	s.invalidate(ctx, user.ID)

	s.log.WithFields(logrus.Fields{
		"user": sub.Actor.UserID,
		"chat": sub.Actor.ChatID,
		"task": task.ID,
	}).Info("task saved")

	s.scheduleReminders(task, time.Time{})
	return nil
}

// List returns the open tasks of a user; an unknown user has none.
func (s *TaskService) List(ctx context.Context, externalID string) ([]*models.Task, error) {
	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, nil
	}

	if s.cache == nil {
		return s.store.ListIncompleteTasks(ctx, user.ID)
	}

	v, err, _ := s.sf.Do("open:"+user.ID.String(), func() (interface{}, error) {
		if list, err := s.cache.GetOpen(ctx, user.ID); err == nil && list != nil {
			return list, nil
		} else if err != nil {
			s.log.WithError(err).Warn("task cache read failed")
		}
		gen := s.generation(user.ID)
		list, err := s.store.ListIncompleteTasks(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetOpen(ctx, user.ID, list); err != nil {
			s.log.WithError(err).Warn("task cache write failed")
		}
		// A write that bumped the generation after our read may have
		// invalidated before SetOpen landed.
		if s.generation(user.ID) != gen {
			s.dropCached(ctx, user.ID)
		}
		return list, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return v.([]*models.Task), nil
}

// Complete marks the acting user's task completed and credits the points.
func (s *TaskService) Complete(ctx context.Context, taskID uuid.UUID, actingExternalID string) (*models.Completion, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil || task.Completed {
		return nil, ErrNotFound
	}

	actor, err := s.store.GetUserByExternalID(ctx, actingExternalID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if actor == nil || actor.ID != task.UserID {
		return nil, ErrNotFound
	}

	c, err := s.store.CompleteTask(ctx, taskID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}

	metrics.TasksCompleted.Inc()
	metrics.PointsAwarded.Add(float64(c.PointsAwarded))
	s.invalidate(ctx, task.UserID)

	s.log.WithFields(logrus.Fields{
		"user":   actingExternalID,
		"task":   taskID,
		"points": c.PointsAwarded,
		"level":  c.User.Level,
	}).Info("task completed")

	return c, nil
}

// ReplayReminders schedules the reminders of open tasks whose start or due
// time is still ahead, for use right after startup.
func (s *TaskService) ReplayReminders(ctx context.Context) (int, error) {
	now := s.now().UTC()
	tasks, err := s.store.ListScheduledTasks(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list scheduled tasks: %w", err)
	}

	total := 0
	for _, task := range tasks {
		total += s.scheduleReminders(task, now)
	}
	return total, nil
}

// scheduleReminders registers a job per timestamp. Timestamps not after
// the cutoff are skipped; a zero cutoff keeps everything, so a fresh task
// with a past date is reminded right away.
func (s *TaskService) scheduleReminders(task *models.Task, cutoff time.Time) int {
	jobs := []struct {
		at   *time.Time
		kind reminder.Kind
	}{
		{task.StartAt, reminder.KindStart},
		{task.DueAt, reminder.KindDue},
	}

	scheduled := 0
	for _, job := range jobs {
		if job.at == nil || (!cutoff.IsZero() && !job.at.After(cutoff)) {
			continue
		}
		payload := reminder.Payload{Title: task.Title, Kind: job.kind}
		if _, err := s.scheduler.Schedule(*job.at, task.ChatID, payload); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"task": task.ID,
				"kind": job.kind,
			}).Error("failed to schedule reminder")
			continue
		}
		scheduled++
	}
	return scheduled
}

func (s *TaskService) generation(userID uuid.UUID) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[userID]
}

// invalidate must run after the store write it follows.
func (s *TaskService) invalidate(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	s.genMu.Lock()
	s.generations[userID]++
	s.genMu.Unlock()

	s.dropCached(ctx, userID)
}

func (s *TaskService) dropCached(ctx context.Context, userID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.log.WithError(err).Warn("task cache invalidation failed")
	}
}
