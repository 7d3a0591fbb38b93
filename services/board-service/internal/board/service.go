package board

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openbay/shopboard/services/board-service/internal/model"
)

const (
	// MaxPageSize caps ListAppointments pages regardless of the requested
	// limit.
	MaxPageSize     = 100
	defaultPageSize = 50

	// moveTimeout bounds the move transaction, lock wait included. The
	// engine never retries internally; a timed-out caller re-reads and
	// decides.
	moveTimeout = 5 * time.Second
)

// Service is the status board facade: the only surface the transport layer
// calls. It owns argument validation, tenant fail-closed checks, paging
// rules, and error shaping; storage owns atomicity.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// MoveAppointment applies a status/position change guarded by the caller's
// version token. First successful compare-and-swap wins; losers get
// KindVersionConflict carrying the current version.
func (s *Service) MoveAppointment(ctx context.Context, tenantID string, cmd MoveCommand) (MoveResult, error) {
	if err := requireTenant(tenantID); err != nil {
		return MoveResult{}, err
	}
	if _, err := uuid.Parse(strings.TrimSpace(cmd.AppointmentID)); err != nil {
		return MoveResult{}, InvalidArgument("appointment_id must be a valid uuid")
	}
	if !cmd.NewStatus.Valid() {
		return MoveResult{}, InvalidArgument("unknown status " + string(cmd.NewStatus))
	}
	if cmd.ExpectedVersion < 1 {
		return MoveResult{}, InvalidArgument("expected_version must be positive")
	}
	if cmd.Position < 0 {
		return MoveResult{}, InvalidArgument("position must not be negative")
	}

	ctx, cancel := context.WithTimeout(ctx, moveTimeout)
	defer cancel()

	res, err := s.repo.ApplyMove(ctx, tenantID, cmd)
	if err != nil {
		if KindOf(err) == "" {
			// Unclassified storage failure: surface as retryable.
			err = Unavailable("move could not be applied", err)
		}
		return MoveResult{}, err
	}

	s.logger.Info("appointment moved",
		"tenant_id", tenantID,
		"appointment_id", res.ID,
		"status", res.Status,
		"position", res.Position,
		"version", res.Version,
	)
	return res, nil
}

// ListBoard returns per-column counts/sums and the card list for the date
// range, both read from one storage snapshot so they cannot drift apart.
func (s *Service) ListBoard(ctx context.Context, tenantID string, q BoardQuery) (Board, error) {
	if err := requireTenant(tenantID); err != nil {
		return Board{}, err
	}
	if q.From.IsZero() || q.To.IsZero() {
		return Board{}, InvalidArgument("board date range is required")
	}
	if !q.To.After(q.From) {
		return Board{}, InvalidArgument("board date range is empty")
	}
	q.From = q.From.UTC()
	q.To = q.To.UTC()

	b, err := s.repo.Board(ctx, tenantID, q)
	if err != nil {
		if KindOf(err) == "" {
			err = Unavailable("board read failed", err)
		}
		return Board{}, err
	}
	return b, nil
}

// ListRequest is the raw, unvalidated list input as it arrives from the
// transport layer.
type ListRequest struct {
	Status string
	From   *time.Time
	To     *time.Time
	Cursor string
	Offset *int
	Limit  int
}

// ListAppointments returns one page ordered by (startAt, id). Cursor and
// offset paging cannot be combined; the limit is clamped to MaxPageSize.
func (s *Service) ListAppointments(ctx context.Context, tenantID string, req ListRequest) (Page, error) {
	if err := requireTenant(tenantID); err != nil {
		return Page{}, err
	}
	if req.Cursor != "" && req.Offset != nil {
		return Page{}, InvalidArgument("cursor and offset cannot be combined")
	}

	q := ListQuery{
		From:  req.From,
		To:    req.To,
		Limit: clampLimit(req.Limit),
	}
	if req.Status != "" {
		status, err := model.ParseStatus(req.Status)
		if err != nil {
			return Page{}, InvalidArgument(err.Error())
		}
		q.Status = &status
	}
	if req.Cursor != "" {
		cur, err := DecodeCursor(req.Cursor)
		if err != nil {
			return Page{}, err
		}
		q.Cursor = &cur
	}
	if req.Offset != nil {
		if *req.Offset < 0 {
			return Page{}, InvalidArgument("offset must not be negative")
		}
		q.Offset = *req.Offset
	}

	page, err := s.repo.List(ctx, tenantID, q)
	if err != nil {
		if KindOf(err) == "" {
			err = Unavailable("list read failed", err)
		}
		return Page{}, err
	}
	return page, nil
}

func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return Unauthorized("tenant scope is required")
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
