package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/openbay/shopboard/libs/db"
	"github.com/openbay/shopboard/services/board-service/internal/board"
	"github.com/openbay/shopboard/services/board-service/internal/model"
	"github.com/openbay/shopboard/services/board-service/internal/outbox"
)

const appointmentColumns = `id::text, tenant_id::text,
	COALESCE(customer_id::text, ''), COALESCE(vehicle_id::text, ''), COALESCE(technician_id::text, ''),
	status, position, version, start_at, end_at,
	total_amount_cents, paid_amount_cents, check_in_at, check_out_at, created_at, updated_at`

// AppointmentRepository is the only component allowed to write appointment
// rows. Every accessor is tenant-scoped at the SQL boundary.
type AppointmentRepository struct {
	pool       *db.Pool
	outboxRepo *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outboxRepo: outboxRepo}
}

var _ board.Repository = (*AppointmentRepository)(nil)

func (r *AppointmentRepository) GetByID(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	if err := guardTenant(tenantID); err != nil {
		return model.Appointment{}, err
	}
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, appointmentID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, board.NotFound("appointment not found")
		}
		return model.Appointment{}, classify(err)
	}
	return appt, nil
}

// ApplyMove runs the whole compare-and-swap inside one transaction: row
// lock, version check, transition validation, reorder plan, position
// shifts, version bump, outbox event. Either all of it commits or none.
func (r *AppointmentRepository) ApplyMove(ctx context.Context, tenantID string, cmd board.MoveCommand) (board.MoveResult, error) {
	if err := guardTenant(tenantID); err != nil {
		return board.MoveResult{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return board.MoveResult{}, classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, cmd.AppointmentID)
	current, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return board.MoveResult{}, board.NotFound("appointment not found")
		}
		return board.MoveResult{}, classify(err)
	}

	if current.Version != cmd.ExpectedVersion {
		return board.MoveResult{}, board.VersionConflict(current.Version)
	}

	outcome, err := board.ValidateMove(current.Status, cmd.NewStatus, current.Position, cmd.Position)
	if err != nil {
		return board.MoveResult{}, err
	}
	if outcome.NoOp {
		// Accepted idempotently; nothing written, version unchanged.
		return board.MoveResult{
			ID:       current.ID,
			Status:   current.Status,
			Position: current.Position,
			Version:  current.Version,
		}, nil
	}

	source, err := listColumn(ctx, tx, tenantID, current.Status)
	if err != nil {
		return board.MoveResult{}, classify(err)
	}
	dest := source
	if !outcome.SameColumn {
		dest, err = listColumn(ctx, tx, tenantID, cmd.NewStatus)
		if err != nil {
			return board.MoveResult{}, classify(err)
		}
	}

	plan := board.PlanReorder(source, dest, current.ID, cmd.Position, outcome.SameColumn)

	// Shifted siblings keep their versions: their own state did not mutate,
	// only the column index around them.
	for _, change := range plan.Changes {
		if _, err := tx.Exec(ctx, `
			UPDATE appointments
			SET position = $3, updated_at = now()
			WHERE tenant_id = $1 AND id = $2
		`, tenantID, change.ID, change.Position); err != nil {
			return board.MoveResult{}, classify(err)
		}
	}

	var newVersion int64
	err = tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3, position = $4, version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING version
	`, tenantID, current.ID, cmd.NewStatus, plan.MovedPosition).Scan(&newVersion)
	if err != nil {
		return board.MoveResult{}, classify(err)
	}

	if err := r.insertMovedEvent(ctx, tx, current, cmd.NewStatus, plan.MovedPosition, newVersion); err != nil {
		return board.MoveResult{}, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return board.MoveResult{}, classify(err)
	}

	return board.MoveResult{
		ID:       current.ID,
		Status:   cmd.NewStatus,
		Position: plan.MovedPosition,
		Version:  newVersion,
	}, nil
}

func (r *AppointmentRepository) insertMovedEvent(ctx context.Context, tx pgx.Tx, prev model.Appointment, newStatus model.Status, newPosition int, newVersion int64) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": prev.ID,
		"tenant_id":      prev.TenantID,
		"from_status":    prev.Status,
		"to_status":      newStatus,
		"position":       newPosition,
		"version":        newVersion,
		"moved_at":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return r.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   prev.ID,
		EventType:     "board.appointment.moved.v1",
		Payload:       payload,
	})
}

func (r *AppointmentRepository) List(ctx context.Context, tenantID string, q board.ListQuery) (board.Page, error) {
	if err := guardTenant(tenantID); err != nil {
		return board.Page{}, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + appointmentColumns + ` FROM appointments WHERE tenant_id = $1`)
	args := []any{tenantID}

	if q.Status != nil {
		args = append(args, *q.Status)
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if q.From != nil {
		args = append(args, q.From.UTC())
		fmt.Fprintf(&sb, " AND start_at >= $%d", len(args))
	}
	if q.To != nil {
		args = append(args, q.To.UTC())
		fmt.Fprintf(&sb, " AND start_at < $%d", len(args))
	}
	if q.Cursor != nil {
		args = append(args, q.Cursor.StartAt, q.Cursor.ID)
		fmt.Fprintf(&sb, " AND (start_at, id) > ($%d, $%d::uuid)", len(args)-1, len(args))
	}

	sb.WriteString(" ORDER BY start_at, id")

	limit := q.Limit
	if limit <= 0 || limit > board.MaxPageSize {
		limit = board.MaxPageSize
	}
	// Fetch one extra row to learn whether a next page exists.
	args = append(args, limit+1)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	if q.Cursor == nil && q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return board.Page{}, classify(err)
	}
	defer rows.Close()

	var items []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return board.Page{}, classify(err)
		}
		items = append(items, appt)
	}
	if rows.Err() != nil {
		return board.Page{}, classify(rows.Err())
	}

	page := board.Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = board.Cursor{StartAt: last.StartAt, ID: last.ID}.Encode()
	}
	return page, nil
}

// Board reads cards and per-column aggregates from a single repeatable-read
// snapshot, so the numbers always match the cards. Any failure yields an
// Unavailable error rather than a partially populated board.
func (r *AppointmentRepository) Board(ctx context.Context, tenantID string, q board.BoardQuery) (board.Board, error) {
	if err := guardTenant(tenantID); err != nil {
		return board.Board{}, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return board.Board{}, board.Unavailable("board snapshot unavailable", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sb strings.Builder
	sb.WriteString(`SELECT ` + appointmentColumns + ` FROM appointments
		WHERE tenant_id = $1 AND start_at >= $2 AND start_at < $3`)
	args := []any{tenantID, q.From, q.To}
	if q.TechnicianID != "" {
		args = append(args, q.TechnicianID)
		fmt.Fprintf(&sb, " AND technician_id = $%d", len(args))
	}
	sb.WriteString(" ORDER BY status, position, start_at, id")

	rows, err := tx.Query(ctx, sb.String(), args...)
	if err != nil {
		return board.Board{}, board.Unavailable("board card read failed", err)
	}
	var cards []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			rows.Close()
			return board.Board{}, board.Unavailable("board card read failed", err)
		}
		cards = append(cards, appt)
	}
	rows.Close()
	if rows.Err() != nil {
		return board.Board{}, board.Unavailable("board card read failed", rows.Err())
	}

	var aggSb strings.Builder
	aggSb.WriteString(`SELECT status, COUNT(*), COALESCE(SUM(total_amount_cents), 0)
		FROM appointments
		WHERE tenant_id = $1 AND start_at >= $2 AND start_at < $3`)
	if q.TechnicianID != "" {
		fmt.Fprintf(&aggSb, " AND technician_id = $%d", len(args))
	}
	aggSb.WriteString(" GROUP BY status")

	aggRows, err := tx.Query(ctx, aggSb.String(), args...)
	if err != nil {
		return board.Board{}, board.Unavailable("board aggregate read failed", err)
	}
	byStatus := map[model.Status]board.Column{}
	for aggRows.Next() {
		var col board.Column
		if err := aggRows.Scan(&col.Status, &col.Count, &col.TotalCents); err != nil {
			aggRows.Close()
			return board.Board{}, board.Unavailable("board aggregate read failed", err)
		}
		byStatus[col.Status] = col
	}
	aggRows.Close()
	if aggRows.Err() != nil {
		return board.Board{}, board.Unavailable("board aggregate read failed", aggRows.Err())
	}

	if err := tx.Commit(ctx); err != nil {
		return board.Board{}, board.Unavailable("board snapshot unavailable", err)
	}

	columns := make([]board.Column, 0, len(model.BoardStatuses))
	for _, status := range model.BoardStatuses {
		col, ok := byStatus[status]
		if !ok {
			col = board.Column{Status: status}
		}
		columns = append(columns, col)
	}
	return board.Board{Columns: columns, Cards: cards}, nil
}

func listColumn(ctx context.Context, tx pgx.Tx, tenantID string, status model.Status) ([]board.ColumnEntry, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, position
		FROM appointments
		WHERE tenant_id = $1 AND status = $2
		ORDER BY position, start_at, id
	`, tenantID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []board.ColumnEntry
	for rows.Next() {
		var e board.ColumnEntry
		if err := rows.Scan(&e.ID, &e.Position); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.TenantID,
		&appt.CustomerID,
		&appt.VehicleID,
		&appt.TechnicianID,
		&appt.Status,
		&appt.Position,
		&appt.Version,
		&appt.StartAt,
		&appt.EndAt,
		&appt.TotalAmountCents,
		&appt.PaidAmountCents,
		&appt.CheckInAt,
		&appt.CheckOutAt,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.StartAt = appt.StartAt.UTC()
	return appt, nil
}

func guardTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return board.Unauthorized("repository call without tenant scope")
	}
	return nil
}

// classify maps storage failures onto the engine taxonomy. Lock waits,
// serialization failures, deadlocks and the deferred position-uniqueness
// trip are all transient: the transaction rolled back whole and the caller
// may retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return board.Unavailable("operation timed out", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "23505", "23P01":
			return board.Unavailable("transient datastore conflict", err)
		}
	}
	return board.Unavailable("datastore error", err)
}
