package board

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openbay/shopboard/services/board-service/internal/model"
)

// memRepo is an in-memory Repository with the same compare-and-swap
// semantics as the Postgres implementation: version check under lock,
// reorder plan applied atomically, rejected writes leave state untouched.
type memRepo struct {
	mu      sync.Mutex
	appts   map[string]*model.Appointment
	failure error
}

func newMemRepo() *memRepo {
	return &memRepo{appts: map[string]*model.Appointment{}}
}

func (r *memRepo) add(a model.Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := a
	r.appts[a.ID] = &cp
}

func (r *memRepo) GetByID(_ context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[appointmentID]
	if !ok || a.TenantID != tenantID {
		return model.Appointment{}, NotFound("appointment not found")
	}
	return *a, nil
}

func (r *memRepo) column(tenantID string, status model.Status) []ColumnEntry {
	var entries []ColumnEntry
	for _, a := range r.appts {
		if a.TenantID == tenantID && a.Status == status {
			entries = append(entries, ColumnEntry{ID: a.ID, Position: a.Position})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })
	return entries
}

func (r *memRepo) ApplyMove(_ context.Context, tenantID string, cmd MoveCommand) (MoveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failure != nil {
		return MoveResult{}, r.failure
	}

	current, ok := r.appts[cmd.AppointmentID]
	if !ok || current.TenantID != tenantID {
		return MoveResult{}, NotFound("appointment not found")
	}
	if current.Version != cmd.ExpectedVersion {
		return MoveResult{}, VersionConflict(current.Version)
	}

	outcome, err := ValidateMove(current.Status, cmd.NewStatus, current.Position, cmd.Position)
	if err != nil {
		return MoveResult{}, err
	}
	if outcome.NoOp {
		return MoveResult{ID: current.ID, Status: current.Status, Position: current.Position, Version: current.Version}, nil
	}

	source := r.column(tenantID, current.Status)
	dest := source
	if !outcome.SameColumn {
		dest = r.column(tenantID, cmd.NewStatus)
	}
	plan := PlanReorder(source, dest, current.ID, cmd.Position, outcome.SameColumn)

	for _, change := range plan.Changes {
		r.appts[change.ID].Position = change.Position
	}
	current.Status = cmd.NewStatus
	current.Position = plan.MovedPosition
	current.Version++

	return MoveResult{ID: current.ID, Status: current.Status, Position: current.Position, Version: current.Version}, nil
}

func (r *memRepo) List(_ context.Context, tenantID string, q ListQuery) (Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []model.Appointment
	for _, a := range r.appts {
		if a.TenantID != tenantID {
			continue
		}
		if q.Status != nil && a.Status != *q.Status {
			continue
		}
		if q.From != nil && a.StartAt.Before(*q.From) {
			continue
		}
		if q.To != nil && !a.StartAt.Before(*q.To) {
			continue
		}
		if q.Cursor != nil {
			if a.StartAt.Before(q.Cursor.StartAt) {
				continue
			}
			if a.StartAt.Equal(q.Cursor.StartAt) && a.ID <= q.Cursor.ID {
				continue
			}
		}
		items = append(items, *a)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].StartAt.Equal(items[j].StartAt) {
			return items[i].StartAt.Before(items[j].StartAt)
		}
		return items[i].ID < items[j].ID
	})

	if q.Cursor == nil && q.Offset > 0 {
		if q.Offset >= len(items) {
			items = nil
		} else {
			items = items[q.Offset:]
		}
	}

	limit := q.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	page := Page{}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = Cursor{StartAt: last.StartAt, ID: last.ID}.Encode()
	} else {
		page.Items = items
	}
	return page, nil
}

func (r *memRepo) Board(_ context.Context, tenantID string, q BoardQuery) (Board, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failure != nil {
		return Board{}, Unavailable("board snapshot unavailable", r.failure)
	}

	byStatus := map[model.Status]Column{}
	var cards []model.Appointment
	for _, a := range r.appts {
		if a.TenantID != tenantID {
			continue
		}
		if a.StartAt.Before(q.From) || !a.StartAt.Before(q.To) {
			continue
		}
		if q.TechnicianID != "" && a.TechnicianID != q.TechnicianID {
			continue
		}
		col := byStatus[a.Status]
		col.Status = a.Status
		col.Count++
		col.TotalCents += a.TotalAmountCents
		byStatus[a.Status] = col
		cards = append(cards, *a)
	}
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].Status != cards[j].Status {
			return cards[i].Status < cards[j].Status
		}
		return cards[i].Position < cards[j].Position
	})

	b := Board{Cards: cards}
	for _, status := range model.BoardStatuses {
		col, ok := byStatus[status]
		if !ok {
			col = Column{Status: status}
		}
		b.Columns = append(b.Columns, col)
	}
	return b, nil
}

var _ Repository = (*memRepo)(nil)

const (
	tenantA = "11111111-1111-4111-8111-111111111111"
	tenantB = "22222222-2222-4222-8222-222222222222"
)

func testService(repo Repository) *Service {
	return NewService(repo, slog.Default())
}

func newAppt(tenantID string, status model.Status, position int, startAt time.Time, totalCents int64) model.Appointment {
	return model.Appointment{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		Status:           status,
		Position:         position,
		Version:          1,
		StartAt:          startAt,
		TotalAmountCents: totalCents,
	}
}

func TestMoveBumpsVersionAndRepeatConflicts(t *testing.T) {
	repo := newMemRepo()
	day := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	appt := newAppt(tenantA, model.StatusScheduled, 0, day, 15000)
	repo.add(appt)

	svc := testService(repo)
	cmd := MoveCommand{
		AppointmentID:   appt.ID,
		NewStatus:       model.StatusInProgress,
		ExpectedVersion: 1,
		Position:        0,
	}

	res, err := svc.MoveAppointment(context.Background(), tenantA, cmd)
	if err != nil {
		t.Fatalf("MoveAppointment failed: %v", err)
	}
	if res.Status != model.StatusInProgress || res.Version != 2 {
		t.Fatalf("expected IN_PROGRESS v2, got %s v%d", res.Status, res.Version)
	}

	// Replaying the same command with the stale version must conflict and
	// report the current version.
	_, err = svc.MoveAppointment(context.Background(), tenantA, cmd)
	if !IsKind(err, KindVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	var be *Error
	if !asBoardError(err, &be) || be.CurrentVersion != 2 {
		t.Fatalf("conflict must carry current version 2, got %+v", be)
	}

	// The failed replay left stored state untouched.
	stored, err := repo.GetByID(context.Background(), tenantA, appt.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Version != 2 || stored.Status != model.StatusInProgress {
		t.Fatalf("state changed by rejected write: %+v", stored)
	}
}

func TestVersionEqualsInitialPlusMutations(t *testing.T) {
	repo := newMemRepo()
	day := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	appt := newAppt(tenantA, model.StatusScheduled, 0, day, 0)
	repo.add(appt)
	svc := testService(repo)

	steps := []model.Status{model.StatusInProgress, model.StatusReady, model.StatusInProgress, model.StatusReady, model.StatusCompleted}
	version := int64(1)
	for _, next := range steps {
		res, err := svc.MoveAppointment(context.Background(), tenantA, MoveCommand{
			AppointmentID:   appt.ID,
			NewStatus:       next,
			ExpectedVersion: version,
			Position:        0,
		})
		if err != nil {
			t.Fatalf("move to %s failed: %v", next, err)
		}
		version = res.Version
	}
	if version != int64(1+len(steps)) {
		t.Fatalf("expected version %d after %d mutations, got %d", 1+len(steps), len(steps), version)
	}
}

func TestMoveFromTerminalIsIllegal(t *testing.T) {
	repo := newMemRepo()
	appt := newAppt(tenantA, model.StatusCompleted, 0, time.Now().UTC(), 0)
	repo.add(appt)
	svc := testService(repo)

	_, err := svc.MoveAppointment(context.Background(), tenantA, MoveCommand{
		AppointmentID:   appt.ID,
		NewStatus:       model.StatusScheduled,
		ExpectedVersion: 1,
	})
	if !IsKind(err, KindIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), tenantA, appt.ID)
	if stored.Version != 1 || stored.Status != model.StatusCompleted {
		t.Fatalf("rejected move must not change state: %+v", stored)
	}
}

func TestNoOpMoveAcceptedWithoutVersionBump(t *testing.T) {
	repo := newMemRepo()
	appt := newAppt(tenantA, model.StatusReady, 2, time.Now().UTC(), 0)
	repo.add(appt)
	svc := testService(repo)

	res, err := svc.MoveAppointment(context.Background(), tenantA, MoveCommand{
		AppointmentID:   appt.ID,
		NewStatus:       model.StatusReady,
		ExpectedVersion: 1,
		Position:        2,
	})
	if err != nil {
		t.Fatalf("no-op move must be accepted: %v", err)
	}
	if res.Version != 1 {
		t.Fatalf("no-op must not bump version, got %d", res.Version)
	}
}

func TestFirstWriterWinsSecondConflicts(t *testing.T) {
	repo := newMemRepo()
	appt := newAppt(tenantA, model.StatusScheduled, 0, time.Now().UTC(), 0)
	repo.add(appt)
	svc := testService(repo)

	// Two admin sessions hold the same starting version.
	a := MoveCommand{AppointmentID: appt.ID, NewStatus: model.StatusInProgress, ExpectedVersion: 1}
	b := MoveCommand{AppointmentID: appt.ID, NewStatus: model.StatusNoShow, ExpectedVersion: 1}

	if _, err := svc.MoveAppointment(context.Background(), tenantA, a); err != nil {
		t.Fatalf("first writer must win: %v", err)
	}
	_, err := svc.MoveAppointment(context.Background(), tenantA, b)
	if !IsKind(err, KindVersionConflict) {
		t.Fatalf("second writer must conflict, got %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), tenantA, appt.ID)
	if stored.Status != model.StatusInProgress {
		t.Fatalf("winner's effect must be visible, got %s", stored.Status)
	}
}

func TestCrossColumnMoveKeepsColumnsDense(t *testing.T) {
	repo := newMemRepo()
	day := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	var scheduled []model.Appointment
	for i := 0; i < 3; i++ {
		a := newAppt(tenantA, model.StatusScheduled, i, day.Add(time.Duration(i)*time.Hour), 0)
		scheduled = append(scheduled, a)
		repo.add(a)
	}
	inProgress := newAppt(tenantA, model.StatusInProgress, 0, day, 0)
	repo.add(inProgress)
	svc := testService(repo)

	// Move the middle scheduled card to the top of IN_PROGRESS.
	if _, err := svc.MoveAppointment(context.Background(), tenantA, MoveCommand{
		AppointmentID:   scheduled[1].ID,
		NewStatus:       model.StatusInProgress,
		ExpectedVersion: 1,
		Position:        0,
	}); err != nil {
		t.Fatalf("move failed: %v", err)
	}

	assertColumnDense(t, repo, tenantA, model.StatusScheduled, 2)
	assertColumnDense(t, repo, tenantA, model.StatusInProgress, 2)

	moved, _ := repo.GetByID(context.Background(), tenantA, scheduled[1].ID)
	if moved.Position != 0 {
		t.Fatalf("moved card must be at position 0, got %d", moved.Position)
	}
	displaced, _ := repo.GetByID(context.Background(), tenantA, inProgress.ID)
	if displaced.Position != 1 {
		t.Fatalf("displaced card must shift to 1, got %d", displaced.Position)
	}
	if displaced.Version != 1 {
		t.Fatalf("shifted sibling must keep its version, got %d", displaced.Version)
	}
}

func assertColumnDense(t *testing.T, repo *memRepo, tenantID string, status model.Status, wantLen int) {
	t.Helper()
	entries := repo.column(tenantID, status)
	if len(entries) != wantLen {
		t.Fatalf("%s: expected %d entries, got %d", status, wantLen, len(entries))
	}
	for i, e := range entries {
		if e.Position != i {
			t.Fatalf("%s: position gap or duplicate at index %d: %+v", status, i, entries)
		}
	}
}

func TestTenantIsolationOnMove(t *testing.T) {
	repo := newMemRepo()
	appt := newAppt(tenantA, model.StatusScheduled, 0, time.Now().UTC(), 0)
	repo.add(appt)
	svc := testService(repo)

	_, err := svc.MoveAppointment(context.Background(), tenantB, MoveCommand{
		AppointmentID:   appt.ID,
		NewStatus:       model.StatusInProgress,
		ExpectedVersion: 1,
	})
	if !IsKind(err, KindNotFound) {
		t.Fatalf("cross-tenant move must look like not found, got %v", err)
	}
}

func TestMoveRequiresTenant(t *testing.T) {
	svc := testService(newMemRepo())
	_, err := svc.MoveAppointment(context.Background(), "  ", MoveCommand{
		AppointmentID:   uuid.NewString(),
		NewStatus:       model.StatusInProgress,
		ExpectedVersion: 1,
	})
	if !IsKind(err, KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestMoveValidatesArguments(t *testing.T) {
	svc := testService(newMemRepo())
	cases := []MoveCommand{
		{AppointmentID: "not-a-uuid", NewStatus: model.StatusReady, ExpectedVersion: 1},
		{AppointmentID: uuid.NewString(), NewStatus: "DONE", ExpectedVersion: 1},
		{AppointmentID: uuid.NewString(), NewStatus: model.StatusReady, ExpectedVersion: 0},
		{AppointmentID: uuid.NewString(), NewStatus: model.StatusReady, ExpectedVersion: 5, Position: -1},
	}
	for i, cmd := range cases {
		if _, err := svc.MoveAppointment(context.Background(), tenantA, cmd); !IsKind(err, KindInvalidArgument) {
			t.Errorf("case %d: expected invalid argument, got %v", i, err)
		}
	}
}

func TestListClampsLimit(t *testing.T) {
	repo := newMemRepo()
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < MaxPageSize+20; i++ {
		repo.add(newAppt(tenantA, model.StatusScheduled, i, day.Add(time.Duration(i)*time.Minute), 0))
	}
	svc := testService(repo)

	page, err := svc.ListAppointments(context.Background(), tenantA, ListRequest{Limit: 500})
	if err != nil {
		t.Fatalf("ListAppointments failed: %v", err)
	}
	if len(page.Items) != MaxPageSize {
		t.Fatalf("expected clamp to %d items, got %d", MaxPageSize, len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor for the remaining items")
	}
}

func TestListRejectsCursorPlusOffset(t *testing.T) {
	svc := testService(newMemRepo())
	offset := 10
	_, err := svc.ListAppointments(context.Background(), tenantA, ListRequest{
		Cursor: Cursor{StartAt: time.Now(), ID: "x"}.Encode(),
		Offset: &offset,
	})
	if !IsKind(err, KindInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestPaginationCoversExactlyTheFullScan(t *testing.T) {
	repo := newMemRepo()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	const total = 57
	for i := 0; i < total; i++ {
		// Duplicate start times force the id tiebreak to carry the ordering.
		repo.add(newAppt(tenantA, model.StatusScheduled, i, base.Add(time.Duration(i/3)*time.Hour), 0))
	}
	// Noise from another tenant must never appear.
	repo.add(newAppt(tenantB, model.StatusScheduled, 0, base, 0))
	svc := testService(repo)

	full, err := svc.ListAppointments(context.Background(), tenantA, ListRequest{Limit: MaxPageSize})
	if err != nil {
		t.Fatalf("full scan failed: %v", err)
	}
	if len(full.Items) != total {
		t.Fatalf("expected %d items in full scan, got %d", total, len(full.Items))
	}

	var paged []model.Appointment
	cursor := ""
	for {
		page, err := svc.ListAppointments(context.Background(), tenantA, ListRequest{Cursor: cursor, Limit: 10})
		if err != nil {
			t.Fatalf("page fetch failed: %v", err)
		}
		paged = append(paged, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if len(paged) != total {
		t.Fatalf("pages cover %d items, want %d", len(paged), total)
	}
	seen := map[string]bool{}
	for i, item := range paged {
		if item.ID != full.Items[i].ID {
			t.Fatalf("order mismatch at %d: %s vs %s", i, item.ID, full.Items[i].ID)
		}
		if seen[item.ID] {
			t.Fatalf("duplicate item %s across pages", item.ID)
		}
		seen[item.ID] = true
	}
}

func TestBoardMatchesListRecomputation(t *testing.T) {
	repo := newMemRepo()
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	statuses := []model.Status{
		model.StatusScheduled, model.StatusScheduled, model.StatusInProgress,
		model.StatusReady, model.StatusCompleted, model.StatusCanceled,
	}
	for i, status := range statuses {
		repo.add(newAppt(tenantA, status, i, day.Add(time.Duration(i)*time.Hour), int64(1000*(i+1))))
	}
	// Outside the queried range.
	repo.add(newAppt(tenantA, model.StatusScheduled, 99, day.AddDate(0, 0, 2), 99999))
	svc := testService(repo)

	from := day
	to := day.AddDate(0, 0, 1)
	b, err := svc.ListBoard(context.Background(), tenantA, BoardQuery{From: from, To: to})
	if err != nil {
		t.Fatalf("ListBoard failed: %v", err)
	}

	for _, col := range b.Columns {
		status := col.Status
		page, err := svc.ListAppointments(context.Background(), tenantA, ListRequest{
			Status: string(status),
			From:   &from,
			To:     &to,
			Limit:  MaxPageSize,
		})
		if err != nil {
			t.Fatalf("list for %s failed: %v", status, err)
		}
		var sum int64
		for _, item := range page.Items {
			sum += item.TotalAmountCents
		}
		if col.Count != len(page.Items) {
			t.Errorf("%s: board count %d != list count %d", status, col.Count, len(page.Items))
		}
		if col.TotalCents != sum {
			t.Errorf("%s: board sum %d != list sum %d", status, col.TotalCents, sum)
		}
	}
}

func TestBoardRequiresRange(t *testing.T) {
	svc := testService(newMemRepo())
	if _, err := svc.ListBoard(context.Background(), tenantA, BoardQuery{}); !IsKind(err, KindInvalidArgument) {
		t.Fatalf("expected invalid argument for missing range, got %v", err)
	}
	now := time.Now().UTC()
	if _, err := svc.ListBoard(context.Background(), tenantA, BoardQuery{From: now, To: now}); !IsKind(err, KindInvalidArgument) {
		t.Fatalf("expected invalid argument for empty range, got %v", err)
	}
}

func TestBoardFailureIsUnavailableNotPartial(t *testing.T) {
	repo := newMemRepo()
	repo.failure = fmt.Errorf("connection reset")
	svc := testService(repo)

	now := time.Now().UTC()
	_, err := svc.ListBoard(context.Background(), tenantA, BoardQuery{From: now, To: now.Add(time.Hour)})
	if !IsKind(err, KindUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func asBoardError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}
