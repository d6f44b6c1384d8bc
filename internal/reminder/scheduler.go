// Package reminder fires one-shot chat notifications at task start and due times.
//
// Jobs live only in memory: a restart loses everything that has not fired.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskbot/internal/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Kind string

const (
	KindStart Kind = "start"
	KindDue   Kind = "due"
)

// Payload is what the notification is about.
type Payload struct {
	Title string
	Kind  Kind
}

type Job struct {
	ID      uuid.UUID
	FireAt  time.Time
	ChatID  string
	Payload Payload
}

// Notifier delivers a rendered reminder to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID, text string) error
}

var ErrStopped = errors.New("scheduler stopped")

// DeliveryError is reported when a fired job could not be delivered. The job
// is not retried.
type DeliveryError struct {
	Job Job
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s reminder %s to chat %s: %v", e.Job.Payload.Kind, e.Job.ID, e.Job.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Render builds the notification text for a payload.
func Render(p Payload) string {
	if p.Kind == KindStart {
		return "Time to begin: " + p.Title
	}
	return "Deadline reached: " + p.Title
}

type Option func(*Scheduler)

// WithDeliveryTimeout bounds a single Notify call.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.deliveryTimeout = d }
}

// WithErrorHandler is called for every failed delivery, after it is logged.
func WithErrorHandler(fn func(*DeliveryError)) Option {
	return func(s *Scheduler) { s.onError = fn }
}

type Scheduler struct {
	notifier        Notifier
	log             *logrus.Entry
	deliveryTimeout time.Duration
	onError         func(*DeliveryError)
	now             func() time.Time

	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func NewScheduler(notifier Notifier, log *logrus.Entry, opts ...Option) *Scheduler {
	s := &Scheduler{
		notifier:        notifier,
		log:             log,
		deliveryTimeout: 10 * time.Second,
		now:             time.Now,
		timers:          make(map[uuid.UUID]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers a job that fires once at or after fireAt. A fireAt in
// the past fires right away.
func (s *Scheduler) Schedule(fireAt time.Time, chatID string, p Payload) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return uuid.Nil, ErrStopped
	}

	job := Job{
		ID:      uuid.New(),
		FireAt:  fireAt,
		ChatID:  chatID,
		Payload: p,
	}

	delay := fireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.timers[job.ID] = time.AfterFunc(delay, func() { s.fire(job) })

	metrics.RemindersScheduled.WithLabelValues(string(p.Kind)).Inc()
	s.log.WithFields(logrus.Fields{
		"job":     job.ID,
		"chat":    chatID,
		"kind":    p.Kind,
		"fire_at": fireAt.UTC().Format(time.RFC3339),
	}).Debug("reminder scheduled")

	return job.ID, nil
}

// Cancel removes a pending job. It reports false if the job already fired or
// does not exist.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	return t.Stop()
}

// Pending returns the number of jobs that have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop drops all pending jobs and waits for deliveries in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	dropped := len(s.timers)
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.log.WithField("dropped", dropped).Warn("pending reminders dropped on shutdown")
	}
	s.wg.Wait()
}

func (s *Scheduler) fire(job Job) {
	s.mu.Lock()
	if _, ok := s.timers[job.ID]; !ok {
		// Cancelled or stopped after the timer went off.
		s.mu.Unlock()
		return
	}
	delete(s.timers, job.ID)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.deliveryTimeout)
	defer cancel()

	entry := s.log.WithFields(logrus.Fields{
		"job":  job.ID,
		"chat": job.ChatID,
		"kind": job.Payload.Kind,
	})

	if err := s.notifier.Notify(ctx, job.ChatID, Render(job.Payload)); err != nil {
		derr := &DeliveryError{Job: job, Err: err}
		metrics.RemindersFired.WithLabelValues(string(job.Payload.Kind), "failed").Inc()
		entry.WithError(err).Error("reminder delivery failed")
		if s.onError != nil {
			s.onError(derr)
		}
		return
	}

	metrics.RemindersFired.WithLabelValues(string(job.Payload.Kind), "delivered").Inc()
	entry.Info("reminder delivered")
}
