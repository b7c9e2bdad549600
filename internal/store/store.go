package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/maskview/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreatePushRecord(ctx context.Context, rec *models.PushRecord) error
	GetPushRecord(ctx context.Context, id uuid.UUID) (*models.PushRecord, error)
	ListPushRecords(ctx context.Context, filter PushFilter) ([]*models.PushRecord, int, error)
}

// PushFilter selects push records of one job, newest first.
type PushFilter struct {
	JobID string
	Page  int
	Limit int
}
