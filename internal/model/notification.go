package model

import (
	"time"

	"github.com/google/uuid"
)

type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// transitions lists, for every status, the statuses it may move to.
// completed and failed are terminal.
var transitions = map[ProcessingStatus][]ProcessingStatus{
	ProcessingStatusPending:    {ProcessingStatusProcessing, ProcessingStatusFailed},
	ProcessingStatusProcessing: {ProcessingStatusCompleted, ProcessingStatusFailed},
}

func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingStatusPending, ProcessingStatusProcessing, ProcessingStatusCompleted, ProcessingStatusFailed:
		return true
	}
	return false
}

func (s ProcessingStatus) Terminal() bool {
	return s == ProcessingStatusCompleted || s == ProcessingStatusFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which next can be reached in one step.
func Predecessors(next ProcessingStatus) []ProcessingStatus {
	var from []ProcessingStatus
	for _, s := range []ProcessingStatus{
		ProcessingStatusPending,
		ProcessingStatusProcessing,
		ProcessingStatusCompleted,
		ProcessingStatusFailed,
	} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

type Category string

const (
	CategoryCritical Category = "critical"
	CategoryWarning  Category = "warning"
	CategoryInfo     Category = "info"
)

// Notification is the only persisted entity of the service.
// Category and Confidence are either both nil or both set.
type Notification struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	OwnerID          uuid.UUID        `json:"owner_id" db:"owner_id"`
	Title            string           `json:"title" db:"title"`
	Body             string           `json:"body" db:"body"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	ReadAt           *time.Time       `json:"read_at" db:"read_at"`
	Category         *Category        `json:"category" db:"category"`
	Confidence       *float64         `json:"confidence" db:"confidence"`
	ProcessingStatus ProcessingStatus `json:"processing_status" db:"processing_status"`
}

// Analyzed reports whether the analysis result is fully populated.
func (n *Notification) Analyzed() bool {
	return n.Category != nil && n.Confidence != nil
}

// ProcessingUpdate is a conditional status change applied by the store.
// The update only takes effect while the row is in one of From.
// Category and Confidence are written only when both are non-nil.
type ProcessingUpdate struct {
	From       []ProcessingStatus
	To         ProcessingStatus
	Category   *Category
	Confidence *float64
}

// AnalysisTask is the queue message handed to the analysis worker.
type AnalysisTask struct {
	NotificationID uuid.UUID `json:"notification_id"`
}
