package models

import (
	"time"

	"github.com/google/uuid"
)

type Task struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	ChatID      string     `db:"chat_id" json:"chat_id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Importance  int        `db:"importance" json:"importance"`
	StartAt     *time.Time `db:"start_at" json:"start_at,omitempty"`
	DueAt       *time.Time `db:"due_at" json:"due_at,omitempty"`
	PhotoRef    *string    `db:"photo_ref" json:"photo_ref,omitempty"`
	Completed   bool       `db:"completed" json:"completed"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Completion is the outcome of completing a task.
type Completion struct {
	Task          *Task
	User          *User
	PointsAwarded int
}
