package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskbot/internal/db/models"
	"taskbot/internal/gamification"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the PostgreSQL store.
type DB struct {
	*pgxpool.Pool
}

var _ Store = (*DB)(nil)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func New(ctx context.Context, url string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// Configure connection pool and statement cache
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return &DB{pool}, nil
}

func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// GetUserByExternalID looks a user up by chat platform id
func (db *DB) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id = $1`

	user, err := scanUser(db.QueryRow(ctx, query, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	return user, nil
}

// CreateUser inserts a user with no points at level 1
func (db *DB) CreateUser(ctx context.Context, externalID, name string) (*models.User, error) {
	query := `
		INSERT INTO users (id, external_id, name, points, level, created_at)
		VALUES ($1, $2, $3, 0, 1, $4)
		RETURNING ` + userColumns

	user, err := scanUser(db.QueryRow(ctx, query, uuid.New().String(), externalID, name, time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return user, nil
}

// GetOrCreateUser retrieves a user by platform ID or creates a new one
func (db *DB) GetOrCreateUser(ctx context.Context, externalID, name string) (*models.User, error) {
	insert := `
		INSERT INTO users (id, external_id, name, points, level, created_at)
		VALUES ($1, $2, $3, 0, 1, $4)
		ON CONFLICT (external_id) DO NOTHING`

	if _, err := db.Exec(ctx, insert, uuid.New().String(), externalID, name, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	user, err := db.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s vanished after insert", externalID)
	}
	return user, nil
}

// CreateTask creates a new task in the database
func (db *DB) CreateTask(ctx context.Context, task *models.Task) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := db.Exec(ctx, query,
		task.ID.String(),
		task.UserID.String(),
		task.ChatID,
		task.Title,
		task.Description,
		task.Importance,
		task.StartAt,
		task.DueAt,
		task.PhotoRef,
		task.Completed,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error creating task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by its ID
func (db *DB) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(db.QueryRow(ctx, query, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting task: %w", err)
	}
	return task, nil
}

// ListIncompleteTasks returns the user's open tasks, oldest first
func (db *DB) ListIncompleteTasks(ctx context.Context, userID uuid.UUID) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = $1 AND NOT completed
		ORDER BY created_at ASC`

	return db.queryTasks(ctx, query, userID.String())
}

// ListScheduledTasks returns open tasks that still have a reminder ahead of them
func (db *DB) ListScheduledTasks(ctx context.Context, after time.Time) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE NOT completed AND (start_at > $1 OR due_at > $1)
		ORDER BY created_at ASC`

	return db.queryTasks(ctx, query, after.UTC())
}

func (db *DB) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := db.Query(ctx, query, args...)
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

// UpdateUserPoints overwrites a user's points and level
func (db *DB) UpdateUserPoints(ctx context.Context, userID uuid.UUID, points, level int) error {
	return updateUserPoints(ctx, db.Pool, userID, points, level)
}

// MarkTaskCompleted sets completed on an open task
func (db *DB) MarkTaskCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := markTaskCompleted(ctx, db.Pool, id)
	return err
}

// CompleteTask marks the task completed and credits its owner with the award
func (db *DB) CompleteTask(ctx context.Context, id uuid.UUID) (*models.Completion, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	task, err := markTaskCompleted(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	award := gamification.PointsFor(task.Importance)

	query := `
		UPDATE users
		SET points = points + $1
		WHERE id = $2
		RETURNING ` + userColumns

	user, err := scanUser(tx.QueryRow(ctx, query, award, task.UserID.String()))
	if err != nil {
		return nil, fmt.Errorf("error awarding points: %w", err)
	}

	user.Level = gamification.Level(user.Points)
	if err := updateUserPoints(ctx, tx, user.ID, user.Points, user.Level); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("error committing completion: %w", err)
	}

	return &models.Completion{Task: task, User: user, PointsAwarded: award}, nil
}

func markTaskCompleted(ctx context.Context, q querier, id uuid.UUID) (*models.Task, error) {
	query := `
		UPDATE tasks
		SET completed = TRUE, completed_at = $2
		WHERE id = $1 AND NOT completed
		RETURNING ` + taskColumns

	task, err := scanTask(q.QueryRow(ctx, query, id.String(), time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error completing task: %w", err)
	}
	return task, nil
}

func updateUserPoints(ctx context.Context, q querier, userID uuid.UUID, points, level int) error {
	query := `
		UPDATE users
		SET points = $1, level = $2
		WHERE id = $3`

	tag, err := q.Exec(ctx, query, points, level, userID.String())
	if err != nil {
		return fmt.Errorf("error updating points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
