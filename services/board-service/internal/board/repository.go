package board

import (
	"context"
	"time"

	"github.com/openbay/shopboard/services/board-service/internal/model"
)

// MoveCommand is a validated request to move one appointment.
type MoveCommand struct {
	AppointmentID   string
	NewStatus       model.Status
	ExpectedVersion int64
	Position        int
}

type MoveResult struct {
	ID       string
	Status   model.Status
	Position int
	Version  int64
}

// ListQuery is the repository-level list filter. Cursor and Offset are
// mutually exclusive; the service rejects ambiguous requests before the
// repository ever sees them.
type ListQuery struct {
	Status *model.Status
	From   *time.Time
	To     *time.Time
	Cursor *Cursor
	Offset int
	Limit  int
}

type Page struct {
	Items      []model.Appointment
	NextCursor string
}

type BoardQuery struct {
	From         time.Time
	To           time.Time
	TechnicianID string
}

// Column is one board column's aggregate: how many appointments sit in the
// status and the sum of their totals in minor currency units.
type Column struct {
	Status     model.Status
	Count      int
	TotalCents int64
}

type Board struct {
	Columns []Column
	Cards   []model.Appointment
}

// Repository is the storage port for the board engine. Every method takes
// the tenant id explicitly and must refuse to run without one; ApplyMove
// executes the compare-and-swap and any position shifts as one atomic unit.
type Repository interface {
	GetByID(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error)
	ApplyMove(ctx context.Context, tenantID string, cmd MoveCommand) (MoveResult, error)
	List(ctx context.Context, tenantID string, q ListQuery) (Page, error)
	Board(ctx context.Context, tenantID string, q BoardQuery) (Board, error)
}
