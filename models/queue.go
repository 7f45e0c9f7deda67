package models

import "time"

// QueueStatus is the lifecycle state of an ad-hoc search request.
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusProcessed QueueStatus = "processed"
	QueueStatusError     QueueStatus = "error"
)

// Valid reports whether s is one of the three known states.
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusPending, QueueStatusProcessed, QueueStatusError:
		return true
	}
	return false
}

// QueueItem is one durable unit of ad-hoc search work.
type QueueItem struct {
	ID          string      `json:"id"`
	Query       string      `json:"query"`
	Recipient   string      `json:"recipient"`
	Username    string      `json:"username,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
	Status      QueueStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	Attempts    int         `json:"attempts"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}
