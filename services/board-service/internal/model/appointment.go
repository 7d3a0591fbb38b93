package model

import (
	"fmt"
	"time"
)

// Status is the closed set of board columns an appointment can occupy.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReady      Status = "READY"
	StatusCompleted  Status = "COMPLETED"
	StatusNoShow     Status = "NO_SHOW"
	StatusCanceled   Status = "CANCELED"
)

// BoardStatuses lists all statuses in board column order.
var BoardStatuses = []Status{
	StatusScheduled,
	StatusInProgress,
	StatusReady,
	StatusCompleted,
	StatusNoShow,
	StatusCanceled,
}

// legalEdges is the transition table. Terminal states carry no entry.
// READY -> IN_PROGRESS is the rework edge; confirm with the domain owner
// before removing it.
var legalEdges = map[Status][]Status{
	StatusScheduled:  {StatusInProgress, StatusNoShow, StatusCanceled},
	StatusInProgress: {StatusReady, StatusCanceled},
	StatusReady:      {StatusCompleted, StatusInProgress, StatusCanceled},
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusReady, StatusCompleted, StatusNoShow, StatusCanceled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNoShow, StatusCanceled:
		return true
	}
	return false
}

// CanTransition reports whether the edge from -> to is legal. Any
// non-terminal state may be canceled directly (administrative override).
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == StatusCanceled {
		return true
	}
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Appointment is the board's central entity. Timestamps are stored and
// compared in UTC; money fields are integer minor units (cents).
type Appointment struct {
	ID               string
	TenantID         string
	CustomerID       string
	VehicleID        string
	TechnicianID     string
	Status           Status
	Position         int
	Version          int64
	StartAt          time.Time
	EndAt            *time.Time
	TotalAmountCents int64
	PaidAmountCents  int64
	CheckInAt        *time.Time
	CheckOutAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
