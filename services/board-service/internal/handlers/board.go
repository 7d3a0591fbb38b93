package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openbay/shopboard/services/board-service/internal/board"
	"github.com/openbay/shopboard/services/board-service/internal/model"
	"github.com/openbay/shopboard/services/board-service/internal/tenant"
)

// BoardHandler is the thin HTTP adapter over the board service. All
// decisions live in the service; this layer parses, resolves the tenant,
// and maps error kinds onto status codes.
type BoardHandler struct {
	svc      *board.Service
	resolver *tenant.Resolver
	logger   *slog.Logger
}

func NewBoardHandler(svc *board.Service, resolver *tenant.Resolver, logger *slog.Logger) *BoardHandler {
	return &BoardHandler{svc: svc, resolver: resolver, logger: logger}
}

type moveRequest struct {
	AppointmentID   string `json:"appointment_id"`
	NewStatus       string `json:"new_status"`
	ExpectedVersion int64  `json:"expected_version"`
	Position        int    `json:"position"`
}

type moveResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Position      int    `json:"position"`
	Version       int64  `json:"version"`
}

type columnView struct {
	Status     string `json:"status"`
	Count      int    `json:"count"`
	TotalCents int64  `json:"total_cents"`
}

type cardView struct {
	AppointmentID    string `json:"appointment_id"`
	Status           string `json:"status"`
	Position         int    `json:"position"`
	Version          int64  `json:"version"`
	StartAt          string `json:"start_at"`
	EndAt            string `json:"end_at,omitempty"`
	CustomerID       string `json:"customer_id,omitempty"`
	VehicleID        string `json:"vehicle_id,omitempty"`
	TechnicianID     string `json:"technician_id,omitempty"`
	TotalAmountCents int64  `json:"total_amount_cents"`
	PaidAmountCents  int64  `json:"paid_amount_cents"`
	CheckInAt        string `json:"check_in_at,omitempty"`
	CheckOutAt       string `json:"check_out_at,omitempty"`
}

type boardResponse struct {
	Columns []columnView `json:"columns"`
	Cards   []cardView   `json:"cards"`
}

type listResponse struct {
	Items      []cardView `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type errorResponse struct {
	Error          string `json:"error"`
	Kind           string `json:"kind"`
	CurrentVersion int64  `json:"current_version,omitempty"`
}

func (h *BoardHandler) Move(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID, err := h.resolver.Resolve(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, board.InvalidArgument("invalid json body"))
		return
	}

	res, err := h.svc.MoveAppointment(r.Context(), tenantID, board.MoveCommand{
		AppointmentID:   strings.TrimSpace(req.AppointmentID),
		NewStatus:       model.Status(strings.TrimSpace(req.NewStatus)),
		ExpectedVersion: req.ExpectedVersion,
		Position:        req.Position,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, moveResponse{
		AppointmentID: res.ID,
		Status:        string(res.Status),
		Position:      res.Position,
		Version:       res.Version,
	})
}

func (h *BoardHandler) Board(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID, err := h.resolver.Resolve(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	query := r.URL.Query()
	from, err := parseTime(query.Get("from"))
	if err != nil {
		h.writeError(w, board.InvalidArgument("invalid from timestamp"))
		return
	}
	to, err := parseTime(query.Get("to"))
	if err != nil {
		h.writeError(w, board.InvalidArgument("invalid to timestamp"))
		return
	}

	var q board.BoardQuery
	if from != nil {
		q.From = *from
	}
	if to != nil {
		q.To = *to
	}
	q.TechnicianID = strings.TrimSpace(query.Get("technician_id"))

	b, err := h.svc.ListBoard(r.Context(), tenantID, q)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := boardResponse{
		Columns: make([]columnView, 0, len(b.Columns)),
		Cards:   make([]cardView, 0, len(b.Cards)),
	}
	for _, col := range b.Columns {
		resp.Columns = append(resp.Columns, columnView{
			Status:     string(col.Status),
			Count:      col.Count,
			TotalCents: col.TotalCents,
		})
	}
	for _, card := range b.Cards {
		resp.Cards = append(resp.Cards, toCardView(card))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BoardHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID, err := h.resolver.Resolve(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	query := r.URL.Query()
	req := board.ListRequest{
		Status: strings.TrimSpace(query.Get("status")),
		Cursor: strings.TrimSpace(query.Get("cursor")),
	}
	if req.From, err = parseTime(query.Get("from")); err != nil {
		h.writeError(w, board.InvalidArgument("invalid from timestamp"))
		return
	}
	if req.To, err = parseTime(query.Get("to")); err != nil {
		h.writeError(w, board.InvalidArgument("invalid to timestamp"))
		return
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, board.InvalidArgument("invalid limit"))
			return
		}
		req.Limit = n
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, board.InvalidArgument("invalid offset"))
			return
		}
		req.Offset = &n
	}

	page, err := h.svc.ListAppointments(r.Context(), tenantID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := listResponse{
		Items:      make([]cardView, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, item := range page.Items {
		resp.Items = append(resp.Items, toCardView(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toCardView(a model.Appointment) cardView {
	view := cardView{
		AppointmentID:    a.ID,
		Status:           string(a.Status),
		Position:         a.Position,
		Version:          a.Version,
		StartAt:          a.StartAt.UTC().Format(time.RFC3339),
		CustomerID:       a.CustomerID,
		VehicleID:        a.VehicleID,
		TechnicianID:     a.TechnicianID,
		TotalAmountCents: a.TotalAmountCents,
		PaidAmountCents:  a.PaidAmountCents,
	}
	if a.EndAt != nil {
		view.EndAt = a.EndAt.UTC().Format(time.RFC3339)
	}
	if a.CheckInAt != nil {
		view.CheckInAt = a.CheckInAt.UTC().Format(time.RFC3339)
	}
	if a.CheckOutAt != nil {
		view.CheckOutAt = a.CheckOutAt.UTC().Format(time.RFC3339)
	}
	return view
}

func parseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	utc := t.UTC()
	return &utc, nil
}

func (h *BoardHandler) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: "internal error", Kind: string(board.KindUnavailable)}
	status := http.StatusInternalServerError

	var be *board.Error
	if errors.As(err, &be) {
		resp.Error = be.Msg
		resp.Kind = string(be.Kind)
		resp.CurrentVersion = be.CurrentVersion
		switch be.Kind {
		case board.KindUnauthorized:
			status = http.StatusUnauthorized
		case board.KindNotFound:
			status = http.StatusNotFound
		case board.KindVersionConflict:
			status = http.StatusConflict
		case board.KindIllegalTransition:
			status = http.StatusUnprocessableEntity
		case board.KindInvalidArgument:
			status = http.StatusBadRequest
		case board.KindUnavailable:
			status = http.StatusServiceUnavailable
		}
	} else {
		h.logger.Error("unclassified handler error", "err", err)
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
