package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ExternalID string    `db:"external_id" json:"external_id"`
	Name       string    `db:"name" json:"name"`
	Points     int       `db:"points" json:"points"`
	Level      int       `db:"level" json:"level"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
