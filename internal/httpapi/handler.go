package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/waitlist-service/internal/queue"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service      *queue.Service
	logger       *slog.Logger
	pollFallback time.Duration
	pollPush     time.Duration
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type reorderRequest struct {
	Items []queue.ReorderItem `json:"items"`
}

type Options struct {
	Logger *slog.Logger
	// PollFallback is advertised to public clients without a push connection.
	PollFallback time.Duration
	// PollPush is advertised to public clients that also hold a push connection.
	PollPush time.Duration
}

func NewHandler(service *queue.Service, options Options) *Handler {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.PollFallback <= 0 {
		options.PollFallback = 5 * time.Second
	}
	if options.PollPush <= 0 {
		options.PollPush = 30 * time.Second
	}
	return &Handler{
		service:      service,
		logger:       options.Logger,
		pollFallback: options.PollFallback,
		pollPush:     options.PollPush,
	}
}

// Routes registers the REST surface. Realtime transports are mounted by the
// caller on the returned mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", expvar.Handler())

	mux.HandleFunc("POST /queue/join/{key}", h.handleJoin)
	mux.HandleFunc("GET /queue/public/{key}", h.handlePublicStatus)
	mux.HandleFunc("GET /queue/public/{key}/ticket/{ticketID}", h.handleTicketStatus)

	mux.HandleFunc("GET /queue", h.handleList)
	mux.HandleFunc("POST /queue", h.handleAddManually)
	mux.HandleFunc("POST /queue/reorder", h.handleReorder)
	mux.HandleFunc("POST /queue/sweep", h.handleSweep)
	mux.HandleFunc("PATCH /queue/{id}/status", h.handleUpdateStatus)
	mux.HandleFunc("POST /queue/{id}/{action}", h.handleEntryAction)
	mux.HandleFunc("GET /queue/entries/{id}/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var input queue.JoinInput
	if !decodeJSON(w, r, &input) {
		return
	}
	entry, err := h.service.Join(r.Context(), r.PathValue("key"), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handlePublicStatus(w http.ResponseWriter, r *http.Request) {
	aggregate, err := h.service.PublicStatus(r.Context(), r.PathValue("key"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.setPollInterval(w, r)
	writeJSON(w, http.StatusOK, aggregate)
}

func (h *Handler) handleTicketStatus(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.service.TicketStatus(r.Context(), r.PathValue("key"), r.PathValue("ticketID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.setPollInterval(w, r)
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	entries, err := h.service.List(r.Context(), restaurantID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleAddManually(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var input queue.JoinInput
	if !decodeJSON(w, r, &input) {
		return
	}
	entry, err := h.service.AddManually(r.Context(), restaurantID, input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if status == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "status is required")
		return
	}
	entry, err := h.service.UpdateStatus(r.Context(), restaurantID, r.PathValue("id"), status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleEntryAction serves POST /queue/{id}/{action}. Only notify is an
// action today.
func (h *Handler) handleEntryAction(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("action") != "notify" {
		http.NotFound(w, r)
		return
	}
	restaurantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Notify(r.Context(), restaurantID, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleReorder(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req reorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entries, err := h.service.Reorder(r.Context(), restaurantID, req.Items)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	marked, err := h.service.CheckNoShows(r.Context(), restaurantID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": len(marked)})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	history, err := h.service.History(r.Context(), restaurantID, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) setPollInterval(w http.ResponseWriter, r *http.Request) {
	interval := h.pollPush
	if strings.EqualFold(r.URL.Query().Get("push"), "off") {
		interval = h.pollFallback
	}
	w.Header().Set("X-Poll-Interval", strconv.Itoa(int(interval.Seconds())))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	var qerr *queue.Error
	if !errors.As(err, &qerr) {
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
	switch qerr.Kind {
	case queue.KindBadRequest:
		return http.StatusBadRequest, qerr.Code, qerr.Message
	case queue.KindForbidden:
		return http.StatusForbidden, qerr.Code, qerr.Message
	case queue.KindNotFound:
		return http.StatusNotFound, qerr.Code, qerr.Message
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
