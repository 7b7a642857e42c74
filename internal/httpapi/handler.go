package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cri-9/oficina-600/internal/models"
	"github.com/cri-9/oficina-600/internal/relay"
	"github.com/cri-9/oficina-600/internal/store"
)

const defaultPublishTimeout = 2 * time.Second

type Handler struct {
	store          store.TicketStore
	publisher      relay.Publisher
	publishTimeout time.Duration
}

type Options struct {
	PublishTimeout time.Duration
}

func NewHandler(ticketStore store.TicketStore, publisher relay.Publisher, options Options) *Handler {
	if publisher == nil {
		publisher = relay.NopPublisher{}
	}
	timeout := options.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Handler{
		store:          ticketStore,
		publisher:      publisher,
		publishTimeout: timeout,
	}
}

type createTicketRequest struct {
	AttentionType string `json:"attention_type"`
	ModuleID      int64  `json:"module_id"`
}

type callNextRequest struct {
	ModuleID   int64 `json:"module_id"`
	OperatorID int64 `json:"operator_id"`
}

type resetResponse struct {
	Reset int `json:"reset"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleCreateTicket)
	mux.HandleFunc("/api/tickets/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/reset", h.handleReset)
	mux.HandleFunc("/api/tickets/archive-day", h.handleArchiveDay)
	mux.HandleFunc("/api/tickets/current", h.handleCurrentTickets)
	mux.HandleFunc("/api/tickets/pending", h.handlePendingTickets)
	mux.HandleFunc("/api/tickets/active", h.handleActiveTicket)
	mux.HandleFunc("/api/tickets/", h.handleTicketByID)
	mux.HandleFunc("/api/modules", h.handleModules)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.AttentionType = strings.ToUpper(strings.TrimSpace(req.AttentionType))
	if req.AttentionType == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "attention_type is required")
		return
	}
	if req.ModuleID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "module_id must be a positive integer")
		return
	}

	ticket, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		AttentionType: req.AttentionType,
		ModuleID:      req.ModuleID,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	h.publish(relay.Event{
		Type:          relay.TypeTicketCreated,
		TicketNumber:  ticket.TicketNumber,
		AttentionType: ticket.AttentionType,
		ModuleID:      ticket.ModuleID,
		ModuleName:    ticket.ModuleName,
	})
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if req.ModuleID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "module_id must be a positive integer")
		return
	}
	if req.OperatorID < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "operator_id must not be negative")
		return
	}

	ticket, err := h.store.CallNext(r.Context(), store.CallNextInput{
		ModuleID:   req.ModuleID,
		OperatorID: req.OperatorID,
		CalledAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	h.publish(relay.Event{
		Type:          relay.TypeTicketCalled,
		TicketNumber:  ticket.TicketNumber,
		AttentionType: ticket.AttentionType,
		ModuleID:      ticket.ModuleID,
		ModuleName:    ticket.ModuleName,
	})
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketByID(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tickets/"), "/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetTicket(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "finalize" && r.Method == http.MethodPost:
		h.handleFinalize(w, r, parts[0])
	case len(parts) == 1 || (len(parts) == 2 && parts[1] == "finalize"):
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, rawID string) {
	ticketID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || ticketID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer")
		return
	}

	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request, rawID string) {
	ticketID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || ticketID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer")
		return
	}

	ticket, changed, err := h.store.FinalizeTicket(r.Context(), ticketID, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	if changed {
		h.publish(relay.Event{
			Type:          relay.TypeTicketFinished,
			TicketNumber:  ticket.TicketNumber,
			AttentionType: ticket.AttentionType,
			ModuleID:      ticket.ModuleID,
			ModuleName:    ticket.ModuleName,
		})
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	count, err := h.store.ResetTickets(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	h.publish(relay.Event{Type: relay.TypeTicketsReset, Count: count})
	writeJSON(w, http.StatusOK, resetResponse{Reset: count})
}

func (h *Handler) handleArchiveDay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	result, err := h.store.ArchiveDay(r.Context(), time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	h.publish(relay.Event{Type: relay.TypeDayArchived, Count: result.Archived})
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCurrentTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snapshot, err := h.store.CurrentTickets(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if snapshot.Current == nil {
		snapshot.Current = []models.Ticket{}
	}
	if snapshot.RecentFinished == nil {
		snapshot.RecentFinished = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handlePendingTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	moduleID, ok := parseModuleID(w, r)
	if !ok {
		return
	}

	tickets, err := h.store.ListPending(r.Context(), moduleID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleActiveTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	moduleID, ok := parseModuleID(w, r)
	if !ok {
		return
	}

	ticket, found, err := h.store.GetActiveTicket(r.Context(), moduleID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleModules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	modules, err := h.store.ListModules(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if modules == nil {
		modules = []models.Module{}
	}
	writeJSON(w, http.StatusOK, modules)
}

func parseModuleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("module_id"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "module_id is required")
		return 0, false
	}
	moduleID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || moduleID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "module_id must be a positive integer")
		return 0, false
	}
	return moduleID, true
}

// publish pushes a display event on a detached context so a slow broker
// cannot hold the HTTP response. Failures are logged and swallowed; the
// state change already committed.
func (h *Handler) publish(event relay.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), h.publishTimeout)
	defer cancel()
	if err := h.publisher.Publish(ctx, event); err != nil {
		log.Printf("relay publish failed type=%s ticket=%s err=%v", event.Type, event.TicketNumber, err)
	}
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrModuleNotFound):
		return http.StatusNotFound, "module_not_found", "module not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrNoPending):
		return http.StatusConflict, "no_pending_tickets", "no pending tickets for this module"
	case errors.Is(err, store.ErrAlreadyInService):
		return http.StatusConflict, "already_in_service", "module already has a ticket in service"
	case errors.Is(err, store.ErrNotInService):
		return http.StatusConflict, "not_in_service", "ticket is not in service"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrConsistency):
		return http.StatusInternalServerError, "consistency_error", "reset left tickets in service"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
