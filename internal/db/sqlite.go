package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taskbot/internal/db/models"
	"taskbot/internal/gamification"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLite is the single-file store. Writes are serialized through one connection.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(path string, log *logrus.Entry) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}

	file := strings.TrimPrefix(strings.SplitN(path, "?", 2)[0], "file:")
	if file != ":memory:" {
		if dir := filepath.Dir(file); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("error creating database directory: %w", err)
			}
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}

	sqlDB, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(sqlDB, DriverSQLite, log); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &SQLite{db: sqlDB}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id = ?`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	return user, nil
}

func (s *SQLite) CreateUser(ctx context.Context, externalID, name string) (*models.User, error) {
	query := `
		INSERT INTO users (id, external_id, name, points, level, created_at)
		VALUES (?, ?, ?, 0, 1, ?)`

	id := uuid.New()
	if _, err := s.db.ExecContext(ctx, query, id.String(), externalID, name, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return sqliteGetUser(ctx, s.db, id)
}

func (s *SQLite) GetOrCreateUser(ctx context.Context, externalID, name string) (*models.User, error) {
	insert := `
		INSERT INTO users (id, external_id, name, points, level, created_at)
		VALUES (?, ?, ?, 0, 1, ?)
		ON CONFLICT (external_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, insert, uuid.New().String(), externalID, name, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	user, err := s.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s vanished after insert", externalID)
	}
	return user, nil
}

func (s *SQLite) CreateTask(ctx context.Context, task *models.Task) error {
	if err := validateTask(task); err != nil {
		return err
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tasks (id, user_id, chat_id, title, description, importance, start_at, due_at, photo_ref, completed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		task.ID.String(),
		task.UserID.String(),
		task.ChatID,
		task.Title,
		task.Description,
		task.Importance,
		utcPtr(task.StartAt),
		utcPtr(task.DueAt),
		task.PhotoRef,
		task.Completed,
		task.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error creating task: %w", err)
	}
	return nil
}

func (s *SQLite) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting task: %w", err)
	}
	return task, nil
}

func (s *SQLite) ListIncompleteTasks(ctx context.Context, userID uuid.UUID) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = ? AND completed = 0
		ORDER BY created_at ASC`

	return s.queryTasks(ctx, query, userID.String())
}

func (s *SQLite) ListScheduledTasks(ctx context.Context, after time.Time) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE completed = 0 AND (start_at > ? OR due_at > ?)
		ORDER BY created_at ASC`

	after = after.UTC()
	return s.queryTasks(ctx, query, after, after)
}

func (s *SQLite) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *SQLite) UpdateUserPoints(ctx context.Context, userID uuid.UUID, points, level int) error {
	return sqliteUpdateUserPoints(ctx, s.db, userID, points, level)
}

func (s *SQLite) MarkTaskCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := sqliteMarkTaskCompleted(ctx, s.db, id)
	return err
}

func (s *SQLite) CompleteTask(ctx context.Context, id uuid.UUID) (*models.Completion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := sqliteMarkTaskCompleted(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	award := gamification.PointsFor(task.Importance)

	query := `
		UPDATE users
		SET points = points + ?
		WHERE id = ?`

	if _, err := tx.ExecContext(ctx, query, award, task.UserID.String()); err != nil {
		return nil, fmt.Errorf("error awarding points: %w", err)
	}
	user, err := sqliteGetUser(ctx, tx, task.UserID)
	if err != nil {
		return nil, err
	}

	user.Level = gamification.Level(user.Points)
	if err := sqliteUpdateUserPoints(ctx, tx, user.ID, user.Points, user.Level); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing completion: %w", err)
	}

	return &models.Completion{Task: task, User: user, PointsAwarded: award}, nil
}

// sqliteMarkTaskCompleted re-reads the row after the update: the driver only
// decodes DATETIME columns from plain SELECTs.
func sqliteMarkTaskCompleted(ctx context.Context, q sqlQuerier, id uuid.UUID) (*models.Task, error) {
	query := `
		UPDATE tasks
		SET completed = 1, completed_at = ?
		WHERE id = ? AND completed = 0`

	res, err := q.ExecContext(ctx, query, time.Now().UTC(), id.String())
	if err != nil {
		return nil, fmt.Errorf("error completing task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("error completing task: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	task, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String()))
	if err != nil {
		return nil, fmt.Errorf("error reading completed task: %w", err)
	}
	return task, nil
}

func sqliteGetUser(ctx context.Context, q sqlQuerier, id uuid.UUID) (*models.User, error) {
	user, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	return user, nil
}

func sqliteUpdateUserPoints(ctx context.Context, q sqlQuerier, userID uuid.UUID, points, level int) error {
	query := `
		UPDATE users
		SET points = ?, level = ?
		WHERE id = ?`

	res, err := q.ExecContext(ctx, query, points, level, userID.String())
	if err != nil {
		return fmt.Errorf("error updating points: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error updating points: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
