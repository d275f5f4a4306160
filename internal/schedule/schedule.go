package schedule

import (
	"context"
	"time"
)

// Status of a chapel service.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Service is one chapel service. It is immutable once completed.
type Service struct {
	ID     string    `json:"id"`
	Date   time.Time `json:"date"`
	Time   string    `json:"time"`
	Type   string    `json:"type"`
	Status Status    `json:"status"`
	Levels []string  `json:"levels"`
}

// AppliesTo reports whether the service is compulsory for a level.
func (s Service) AppliesTo(levelID string) bool {
	for _, l := range s.Levels {
		if l == levelID {
			return true
		}
	}
	return false
}

// Source reads chapel services.
type Source interface {
	GetService(ctx context.Context, id string) (*Service, error)
	// ListCompletedServices returns completed services dated within [from, to].
	ListCompletedServices(ctx context.Context, from, to time.Time) ([]Service, error)
}
