package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ticket-reservation-bot/engine"
	"ticket-reservation-bot/selector"
	"ticket-reservation-bot/ticketapi"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type stateResponse struct {
	State   engine.State `json:"state"`
	Spawned int          `json:"spawned"`
	Target  int          `json:"target"`
}

type statsResponse struct {
	engine.Counters
	SuccessRate float64 `json:"successRate"`
	TotalSkips  uint64  `json:"totalSkips"`
}

type startRequest struct {
	BearerToken string `json:"bearerToken"`
}

type priorityRequest struct {
	Match string `json:"match"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	spawned, target := h.engine.Progress()
	writeJSON(w, http.StatusOK, stateResponse{State: h.engine.State(), Spawned: spawned, Target: target})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	c := h.engine.Stats()
	writeJSON(w, http.StatusOK, statsResponse{Counters: c, SuccessRate: c.SuccessRate(), TotalSkips: c.TotalSkips()})
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Settings())
}

// PutSettings replaces the settings. Omitting priorities keeps the current list.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var s engine.Settings
	if !decode(w, r, &s) {
		return
	}
	if err := h.engine.Configure(s); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Settings())
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.Start(r.Context(), req.BearerToken); err != nil {
		writeEngineError(w, err)
		return
	}
	spawned, target := h.engine.Progress()
	writeJSON(w, http.StatusAccepted, stateResponse{State: h.engine.State(), Spawned: spawned, Target: target})
}

func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	spawned, target := h.engine.Progress()
	writeJSON(w, http.StatusOK, stateResponse{State: h.engine.State(), Spawned: spawned, Target: target})
}

func (h *Handler) ListPriorities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Priorities().Items())
}

func (h *Handler) AddPriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := h.engine.Priorities().Add(strings.TrimSpace(req.Match)); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, h.engine.Priorities().Items())
}

func (h *Handler) SetPriority(w http.ResponseWriter, r *http.Request) {
	rank, ok := h.rankParam(w, r)
	if !ok {
		return
	}
	var req priorityRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.Priorities().Set(rank, strings.TrimSpace(req.Match)); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Priorities().Items())
}

func (h *Handler) RemovePriority(w http.ResponseWriter, r *http.Request) {
	rank, ok := h.rankParam(w, r)
	if !ok {
		return
	}
	if !h.engine.Priorities().Remove(rank) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: selector.ErrRankOutOfRange.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Priorities().Items())
}

// MovePriorityUp is a no-op for rank 1.
func (h *Handler) MovePriorityUp(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, (*selector.PriorityList).MoveUp)
}

// MovePriorityDown is a no-op for the last rank.
func (h *Handler) MovePriorityDown(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, (*selector.PriorityList).MoveDown)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request, fn func(*selector.PriorityList, int) bool) {
	rank, ok := h.rankParam(w, r)
	if !ok {
		return
	}
	pl := h.engine.Priorities()
	if rank > pl.Len() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: selector.ErrRankOutOfRange.Error()})
		return
	}
	fn(pl, rank)
	writeJSON(w, http.StatusOK, pl.Items())
}

func (h *Handler) PrunePriorities(w http.ResponseWriter, r *http.Request) {
	removed := h.engine.Priorities().Prune()
	log.Debug().Int("removed", removed).Msg("control: priority list pruned")
	writeJSON(w, http.StatusOK, h.engine.Priorities().Items())
}

func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query parameter q is required"})
		return
	}
	res, err := h.catalog.SearchProducts(r.Context(), q, h.lookupTimeout)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if res == nil {
		res = []ticketapi.ProductSummary{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) PreviewProduct(w http.ResponseWriter, r *http.Request) {
	snap, err := h.catalog.FetchEvent(r.Context(), chi.URLParam(r, "id"), h.lookupTimeout)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) rankParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	rank, err := strconv.Atoi(chi.URLParam(r, "rank"))
	if err != nil || rank < 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "rank must be a positive integer"})
		return 0, false
	}
	return rank, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeEngineError(w http.ResponseWriter, err error) {
	var cfgErr *engine.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: cfgErr.Error(), Field: cfgErr.Field})
	case errors.Is(err, engine.ErrNotStopped):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).Msg("control: engine call failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *ticketapi.Error
	if errors.As(err, &apiErr) && apiErr.Kind == ticketapi.KindHTTP && apiErr.StatusCode == http.StatusNotFound {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "product not found"})
		return
	}
	status := http.StatusBadGateway
	if ticketapi.IsTimeout(err) {
		status = http.StatusGatewayTimeout
	}
	log.Warn().Err(err).Int("status", status).Msg("control: ticketing lookup failed")
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
