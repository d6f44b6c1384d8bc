package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskbot/internal/db/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a record does not exist or, for task
// completion, when the task is already completed.
var ErrNotFound = errors.New("not found")

// Store persists users and tasks. Every method is atomic for the records it
// touches.
type Store interface {
	// GetUserByExternalID returns nil, nil when no user has that platform id.
	GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	CreateUser(ctx context.Context, externalID, name string) (*models.User, error)
	GetOrCreateUser(ctx context.Context, externalID, name string) (*models.User, error)

	CreateTask(ctx context.Context, task *models.Task) error
	// GetTask returns nil, nil when the task does not exist.
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListIncompleteTasks(ctx context.Context, userID uuid.UUID) ([]*models.Task, error)
	// ListScheduledTasks returns incomplete tasks with a start or due time after the given instant.
	ListScheduledTasks(ctx context.Context, after time.Time) ([]*models.Task, error)

	UpdateUserPoints(ctx context.Context, userID uuid.UUID, points, level int) error
	// MarkTaskCompleted flips completed to true, or returns ErrNotFound if
	// the task is missing or already completed.
	MarkTaskCompleted(ctx context.Context, id uuid.UUID) error
	// CompleteTask marks the task completed and credits its owner in one
	// transaction.
	CompleteTask(ctx context.Context, id uuid.UUID) (*models.Completion, error)

	Close() error
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ParseURL maps a connection string to a driver name and the DSN that
// driver expects. postgres:// and postgresql:// select PostgreSQL; anything
// else is a SQLite path, with an optional sqlite:// prefix.
func ParseURL(url string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres, url
	case strings.HasPrefix(url, "sqlite://"):
		return DriverSQLite, strings.TrimPrefix(url, "sqlite://")
	default:
		return DriverSQLite, url
	}
}

// Open connects to the store named by url. SQLite databases are migrated on
// open; PostgreSQL is migrated with cmd/migrate.
func Open(ctx context.Context, url string, log *logrus.Entry) (Store, error) {
	driver, dsn := ParseURL(url)
	switch driver {
	case DriverPostgres:
		pg, err := New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case DriverSQLite:
		lite, err := OpenSQLite(dsn, log)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

const taskColumns = `id, user_id, chat_id, title, description, importance, start_at, due_at, photo_ref, completed, created_at, completed_at`

const userColumns = `id, external_id, name, points, level, created_at`

func scanTask(row scanner) (*models.Task, error) {
	task := &models.Task{}
	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.ChatID,
		&task.Title,
		&task.Description,
		&task.Importance,
		&task.StartAt,
		&task.DueAt,
		&task.PhotoRef,
		&task.Completed,
		&task.CreatedAt,
		&task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func scanUser(row scanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.ExternalID,
		&user.Name,
		&user.Points,
		&user.Level,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func validateTask(task *models.Task) error {
	if strings.TrimSpace(task.Title) == "" {
		return errors.New("task title must not be empty")
	}
	if task.Importance < 1 || task.Importance > 5 {
		return fmt.Errorf("task importance %d out of range 1-5", task.Importance)
	}
	return nil
}
