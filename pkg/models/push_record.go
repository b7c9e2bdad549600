package models

import (
	"time"

	"github.com/google/uuid"
)

// PushRecord is one successful hand-off of selected results to CVAT.
type PushRecord struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	JobID     string    `db:"job_id"     json:"job_id"`
	Filenames []string  `db:"filenames"  json:"filenames"`
	TaskURL   string    `db:"task_url"   json:"task_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
